package inbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/dsl/ast"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/policy/registry"
	"jobmail-hq/governor/pkg/signing"
)

type fixture struct {
	dir    string
	clock  *clock.FakeClock
	signer *signing.Signer
	reg    *registry.Registry
	w      *Watcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dir: t.TempDir(), clock: clock.Fake(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))}
	var err error
	f.signer, err = signing.NewSigner("staging", bytes.Repeat([]byte{4}, 32), f.clock)
	if err != nil {
		t.Fatal(err)
	}
	f.reg, err = registry.New(context.Background(), registry.Config{
		Store:           registry.NewMemoryStore(),
		Clock:           f.clock,
		KnownActionType: func(string) bool { return true },
	})
	if err != nil {
		t.Fatal(err)
	}
	imp, err := signing.NewImporter(signing.ImporterConfig{
		Registry: f.reg,
		Keys:     signing.Keyring{"staging": f.signer.PublicKey()},
		Clock:    f.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.w, err = New(Config{Directory: f.dir, Settle: 20 * time.Millisecond, Clock: f.clock}, imp)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func (f *fixture) drop(t *testing.T, name, version string, enc signing.Encoding) string {
	t.Helper()
	sb, err := f.signer.Export(&policy.Bundle{
		Version: version,
		Policies: []policy.Policy{{
			ID: "label-receipts", Name: "label receipts", Enabled: true,
			Condition:  ast.Compare(ast.OpEq, "category", ast.String("receipts")),
			ActionType: "label",
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	data, err := sb.Encode(enc)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScan_ImportsAndRejects(t *testing.T) {
	f := newFixture(t)
	f.drop(t, "release.cbor", "3.0.0", signing.EncodingCBOR)
	f.drop(t, "stale.json", "2.0.0", signing.EncodingJSON)
	if err := os.WriteFile(filepath.Join(f.dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err := f.w.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("Scan() processed %d files, want 2", len(results))
	}

	byFile := map[string]Result{}
	for _, r := range results {
		byFile[r.File] = r
	}
	ok := byFile["release.cbor"]
	if ok.Err != nil || ok.Bundle.Version != "3.0.0" || ok.Bundle.Source != "import:staging" {
		t.Errorf("release.cbor = %+v", ok)
	}
	if _, err := os.Stat(filepath.Join(f.dir, ImportedDir, "release.cbor")); err != nil {
		t.Errorf("imported file not moved: %v", err)
	}

	// 2.0.0 sorts below the freshly imported 3.0.0.
	stale := byFile["stale.json"]
	var ierr *signing.ImportError
	if !errors.As(stale.Err, &ierr) || ierr.Reason != signing.ReasonVersionConflict {
		t.Errorf("stale.json error = %v, want version_conflict", stale.Err)
	}
	reason, err := os.ReadFile(filepath.Join(f.dir, RejectedDir, "stale.json.error"))
	if err != nil || !strings.Contains(string(reason), "version_conflict") {
		t.Errorf("rejection reason = %q, %v", reason, err)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "notes.txt")); err != nil {
		t.Error("non-export file was moved")
	}
}

func TestProcess_NameCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.w.Process(ctx, f.drop(t, "bundle.json", "1.0.0", signing.EncodingJSON))
	f.clock.Advance(time.Second)
	res := f.w.Process(ctx, f.drop(t, "bundle.json", "1.1.0", signing.EncodingJSON))
	if res.Err != nil {
		t.Fatalf("Process() error = %v", res.Err)
	}
	if filepath.Base(res.MovedTo) == "bundle.json" {
		t.Errorf("second file overwrote the first: %s", res.MovedTo)
	}
	entries, _ := os.ReadDir(filepath.Join(f.dir, ImportedDir))
	if len(entries) != 2 {
		t.Errorf("imported/ has %d files, want 2", len(entries))
	}
}

func TestWatch_PicksUpNewFiles(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.w.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	f.drop(t, "incoming.json", "4.0.0", signing.EncodingJSON)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := f.reg.Get("4.0.0"); err == nil {
			if _, err := os.Stat(filepath.Join(f.dir, ImportedDir, "incoming.json")); err == nil {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("dropped export was not imported")
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Error("New() without directory succeeded")
	}
	if _, err := New(Config{Directory: t.TempDir()}, nil); err == nil {
		t.Error("New() without importer succeeded")
	}
}
