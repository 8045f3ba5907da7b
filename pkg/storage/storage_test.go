package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"jobmail-hq/governor/pkg/actions"
	"jobmail-hq/governor/pkg/config"
	"jobmail-hq/governor/pkg/dsl/parser"
	"jobmail-hq/governor/pkg/evidence"
	"jobmail-hq/governor/pkg/executor"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/policy/engine"
	"jobmail-hq/governor/pkg/policy/registry"
)

var t0 = time.Date(2025, 6, 1, 9, 30, 0, 123456789, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testBundle(t *testing.T, version string, status policy.Status) *policy.Bundle {
	t.Helper()
	cond, err := parser.Parse([]byte(`{all: [{eq: [category, newsletter]}, {gt: [age_days, 30]}]}`))
	if err != nil {
		t.Fatalf("parse condition: %v", err)
	}
	return &policy.Bundle{
		Version:        version,
		Status:         status,
		CanaryPct:      status.CanaryPct(),
		StageEnteredAt: t0,
		CreatedBy:      "alice",
		Source:         "test",
		Policies: []policy.Policy{{
			ID:                  "archive-old-newsletters",
			Name:                "Archive old newsletters",
			Enabled:             true,
			Priority:            10,
			Condition:           cond,
			ActionType:          "archive",
			ActionParams:        map[string]any{"folder": "Archive"},
			ConfidenceThreshold: 0.8,
			Reasoning:           "Newsletters older than a month are rarely read.",
		}},
	}
}

func TestOpen_Migrations(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	v, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if v != "0002_idempotency_blobs" {
		t.Errorf("SchemaVersion() = %q", v)
	}

	applied, err := db.migrate(ctx)
	if err != nil {
		t.Fatalf("migrate() error = %v", err)
	}
	if applied != 0 {
		t.Errorf("second migrate applied %d migrations, want 0", applied)
	}
	if err := db.PingContext(ctx); err != nil {
		t.Errorf("PingContext() error = %v", err)
	}
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.SQLiteConfig
		want    string
		wantErr bool
	}{
		{
			name: "modernc file with WAL",
			cfg:  config.SQLiteConfig{Path: "data/g.db", Driver: DriverModernc, WALMode: true, BusyTimeout: 5 * time.Second},
			want: "data/g.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)",
		},
		{
			name: "modernc memory skips WAL",
			cfg:  config.SQLiteConfig{Path: MemoryPath, Driver: DriverModernc, WALMode: true, BusyTimeout: time.Second},
			want: ":memory:?_pragma=busy_timeout(1000)&_pragma=foreign_keys(1)",
		},
		{
			name: "cgo driver",
			cfg:  config.SQLiteConfig{Path: "g.db", Driver: DriverCGO, WALMode: true, BusyTimeout: 2 * time.Second},
			want: "g.db?_busy_timeout=2000&_foreign_keys=1&_journal_mode=WAL",
		},
		{
			name:    "unknown driver",
			cfg:     config.SQLiteConfig{Path: "g.db", Driver: "postgres"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg.Driver, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildDSN() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("buildDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBundleStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewBundleStore(openTestDB(t))

	b := testBundle(t, "1.2.0", policy.StatusDraft)
	if err := store.SaveBundles(ctx, b); err != nil {
		t.Fatalf("SaveBundles() error = %v", err)
	}

	loaded, err := store.LoadBundles(ctx)
	if err != nil {
		t.Fatalf("LoadBundles() error = %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("LoadBundles() returned %d bundles, want 1", len(loaded))
	}
	got := loaded[0]
	if got.Version != "1.2.0" || got.Status != policy.StatusDraft || got.CreatedBy != "alice" {
		t.Errorf("bundle = %+v", got)
	}
	if !got.StageEnteredAt.Equal(t0) {
		t.Errorf("StageEnteredAt = %v, want %v", got.StageEnteredAt, t0)
	}
	if len(got.Policies) != 1 {
		t.Fatalf("policies = %d, want 1", len(got.Policies))
	}
	p := got.Policies[0]
	if p.ID != "archive-old-newsletters" || !p.Enabled || p.Priority != 10 || p.ConfidenceThreshold != 0.8 {
		t.Errorf("policy = %+v", p)
	}
	if p.ActionParams["folder"] != "Archive" {
		t.Errorf("ActionParams = %v", p.ActionParams)
	}

	want, _ := parser.MarshalJSON(b.Policies[0].Condition)
	gotCond, _ := parser.MarshalJSON(p.Condition)
	if string(want) != string(gotCond) {
		t.Errorf("condition = %s, want %s", gotCond, want)
	}
}

func TestBundleStore_LoadOrdersBySemver(t *testing.T) {
	ctx := context.Background()
	store := NewBundleStore(openTestDB(t))

	for _, v := range []string{"1.10.0", "1.2.0", "1.9.3"} {
		if err := store.SaveBundles(ctx, testBundle(t, v, policy.StatusArchived)); err != nil {
			t.Fatalf("SaveBundles(%s) error = %v", v, err)
		}
	}
	loaded, err := store.LoadBundles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var versions []string
	for _, b := range loaded {
		versions = append(versions, b.Version)
	}
	if got := strings.Join(versions, ","); got != "1.2.0,1.9.3,1.10.0" {
		t.Errorf("order = %s", got)
	}
}

func TestBundleStore_Promotion(t *testing.T) {
	ctx := context.Background()
	store := NewBundleStore(openTestDB(t))

	v1 := testBundle(t, "1.0.0", policy.StatusActive)
	v2 := testBundle(t, "1.1.0", policy.StatusCanary50)
	if err := store.SaveBundles(ctx, v1, v2); err != nil {
		t.Fatalf("SaveBundles() error = %v", err)
	}

	// The new active is listed first; the store must still archive the old
	// one before activating the new one.
	v2.Status, v2.CanaryPct = policy.StatusActive, 100
	activated := t0.Add(48 * time.Hour)
	v2.ActivatedAt = &activated
	v1.Status, v1.CanaryPct = policy.StatusArchived, 0
	if err := store.SaveBundles(ctx, v2, v1); err != nil {
		t.Fatalf("SaveBundles() promotion error = %v", err)
	}

	loaded, err := store.LoadBundles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if loaded[0].Status != policy.StatusArchived || loaded[1].Status != policy.StatusActive {
		t.Errorf("statuses = %s, %s", loaded[0].Status, loaded[1].Status)
	}
	if loaded[1].ActivatedAt == nil || !loaded[1].ActivatedAt.Equal(activated) {
		t.Errorf("ActivatedAt = %v", loaded[1].ActivatedAt)
	}
}

func TestBundleStore_Constraints(t *testing.T) {
	ctx := context.Background()

	t.Run("two active bundles", func(t *testing.T) {
		store := NewBundleStore(openTestDB(t))
		err := store.SaveBundles(ctx, testBundle(t, "1.0.0", policy.StatusActive), testBundle(t, "2.0.0", policy.StatusActive))
		if err == nil {
			t.Error("SaveBundles() should reject a second active bundle")
		}
	})

	t.Run("two canaries", func(t *testing.T) {
		store := NewBundleStore(openTestDB(t))
		if err := store.SaveBundles(ctx, testBundle(t, "1.0.0", policy.StatusCanary10)); err != nil {
			t.Fatal(err)
		}
		if err := store.SaveBundles(ctx, testBundle(t, "2.0.0", policy.StatusCanary50)); err == nil {
			t.Error("SaveBundles() should reject a second canary")
		}
	})

	t.Run("policies immutable outside draft", func(t *testing.T) {
		db := openTestDB(t)
		store := NewBundleStore(db)
		b := testBundle(t, "1.0.0", policy.StatusDraft)
		if err := store.SaveBundles(ctx, b); err != nil {
			t.Fatal(err)
		}
		b.Status = policy.StatusCanary10
		if err := store.SaveBundles(ctx, b); err != nil {
			t.Fatal(err)
		}

		for _, stmt := range []string{
			`UPDATE policies SET name = 'edited' WHERE bundle_version = '1.0.0'`,
			`DELETE FROM policies WHERE bundle_version = '1.0.0'`,
			`INSERT INTO policies (bundle_version, id, condition, action_type) VALUES ('1.0.0', 'p2', '{}', 'label')`,
		} {
			_, err := db.SQL().ExecContext(ctx, stmt)
			if err == nil || !strings.Contains(err.Error(), "immutable") {
				t.Errorf("%s: error = %v, want immutable", stmt, err)
			}
		}
	})
}

func newAction(id string, created time.Time) *actions.ProposedAction {
	return &actions.ProposedAction{
		ID:            id,
		ResourceID:    "msg-" + id,
		PolicyID:      "archive-old-newsletters",
		BundleVersion: "1.0.0",
		ActionType:    "archive",
		ActionParams:  map[string]any{"folder": "Archive"},
		Confidence:    0.9,
		Rationale:     "matched category = newsletter",
		Status:        actions.StatusPending,
		CreatedAt:     created,
	}
}

func TestActionStore(t *testing.T) {
	ctx := context.Background()
	store := NewActionStore(openTestDB(t))

	for i, id := range []string{"a1", "a2", "a3"} {
		if err := store.Create(ctx, newAction(id, t0.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}
	var ve *policy.ValidationError
	if err := store.Create(ctx, newAction("a1", t0)); !errors.As(err, &ve) {
		t.Errorf("duplicate Create() error = %v, want ValidationError", err)
	}

	got, err := store.Get(ctx, "a2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ResourceID != "msg-a2" || got.Status != actions.StatusPending || !got.CreatedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("Get() = %+v", got)
	}
	if _, err := store.Get(ctx, "missing"); !policy.IsNotFound(err) {
		t.Errorf("Get(missing) error = %v, want NotFoundError", err)
	}

	decided := t0.Add(time.Hour)
	a, err := store.Transition(ctx, "a1", actions.Transition{From: actions.StatusPending, To: actions.StatusApproved, At: decided, Actor: "bob"})
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if a.Status != actions.StatusApproved || a.DecidedBy != "bob" || a.DecidedAt == nil || !a.DecidedAt.Equal(decided) {
		t.Errorf("after approve = %+v", a)
	}

	a, err = store.Transition(ctx, "a1", actions.Transition{From: actions.StatusApproved, To: actions.StatusFailed, At: decided, Error: "mailbox down"})
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if a.Status != actions.StatusFailed || a.Error != "mailbox down" || a.ExecutedAt == nil {
		t.Errorf("after failure = %+v", a)
	}

	var np *actions.NotPendingError
	if _, err := store.Transition(ctx, "a1", actions.Transition{From: actions.StatusPending, To: actions.StatusRejected, At: decided}); !errors.As(err, &np) {
		t.Errorf("Transition() on failed action error = %v, want NotPendingError", err)
	} else if np.Status != actions.StatusFailed {
		t.Errorf("NotPendingError.Status = %s, want failed", np.Status)
	}

	pending, err := store.List(ctx, actions.ListFilter{Status: actions.StatusPending})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "a2" || pending[1].ID != "a3" {
		t.Errorf("List(pending) = %v", pending)
	}

	page, err := store.List(ctx, actions.ListFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "a2" {
		t.Errorf("List(limit 1, offset 1) = %v", page)
	}
}

func TestActionStore_ConcurrentDecisions(t *testing.T) {
	ctx := context.Background()
	store := NewActionStore(openTestDB(t))
	if err := store.Create(ctx, newAction("race", t0)); err != nil {
		t.Fatal(err)
	}

	const deciders = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < deciders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := actions.StatusApproved
			if i%2 == 1 {
				to = actions.StatusRejected
			}
			_, err := store.Transition(ctx, "race", actions.Transition{From: actions.StatusPending, To: to, At: t0, Actor: "op"})
			mu.Lock()
			defer mu.Unlock()
			var np *actions.NotPendingError
			switch {
			case err == nil:
				wins++
			case errors.As(err, &np):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != deciders-1 {
		t.Errorf("wins = %d, conflicts = %d; want 1 and %d", wins, conflicts, deciders-1)
	}
}

func TestActionStore_ApproveSurvivesRequestCancellation(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewActionStore(db)
	audit := NewAuditStore(db)
	recorder := evidence.NewRecorder(audit, nil, nil)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	execs := executor.NewRegistry()
	err := execs.Register("archive", executor.Func(func(ctx context.Context, _ map[string]any, _ string) error {
		cancel() // client went away mid-execution
		return ctx.Err()
	}))
	if err != nil {
		t.Fatal(err)
	}
	reg, err := registry.New(ctx, registry.Config{Store: registry.NewMemoryStore(), Recorder: recorder})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := actions.NewService(actions.ServiceConfig{
		Store:      store,
		Router:     reg,
		Evaluator:  engine.NewDefault(nil),
		Dispatcher: executor.NewDispatcher(execs, NewIdempotencyLedger(db), executor.DispatcherConfig{}),
		Recorder:   recorder,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, newAction("a1", t0)); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Approve(reqCtx, "a1", "alice")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if !res.Executed {
		t.Errorf("Approve() = %+v, want executed", res)
	}

	a, err := store.Get(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != actions.StatusExecuted || a.ExecutedAt == nil {
		t.Errorf("stored action = %+v, want executed", a)
	}
	recs, err := audit.Query(ctx, &evidence.Query{ActionID: "a1"})
	if err != nil {
		t.Fatal(err)
	}
	var events []string
	for _, r := range recs {
		events = append(events, string(r.Event)+"/"+string(r.Outcome))
	}
	if strings.Join(events, ",") != "approved/success,executed/success" {
		t.Errorf("audit trail = %v, want approval and execution outcome", events)
	}
}

func auditRecord(id string, event evidence.Event, at time.Time) *evidence.AuditRecord {
	return &evidence.AuditRecord{
		ID:            id,
		Actor:         "alice",
		ActionID:      "act-1",
		BundleVersion: "1.0.0",
		Event:         event,
		Outcome:       evidence.OutcomeSuccess,
		Metadata:      map[string]string{"trigger": "manual"},
		CreatedAt:     at,
	}
}

func TestAuditStore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewAuditStore(db)

	records := []*evidence.AuditRecord{
		auditRecord("r1", evidence.EventProposed, t0),
		auditRecord("r2", evidence.EventApproved, t0.Add(time.Minute)),
		auditRecord("r3", evidence.EventExecuted, t0.Add(2*time.Minute)),
	}
	for _, r := range records {
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("Append(%s) error = %v", r.ID, err)
		}
	}

	if err := store.Append(ctx, auditRecord("r1", evidence.EventRejected, t0)); !errors.Is(err, evidence.ErrAppendOnly) {
		t.Errorf("duplicate Append() error = %v, want ErrAppendOnly", err)
	}

	got, err := store.Get(ctx, "r2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Event != evidence.EventApproved || got.Metadata["trigger"] != "manual" || !got.CreatedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("Get() = %+v", got)
	}
	if _, err := store.Get(ctx, "nope"); !errors.Is(err, evidence.ErrRecordNotFound) {
		t.Errorf("Get(nope) error = %v, want ErrRecordNotFound", err)
	}

	desc, err := store.Query(ctx, &evidence.Query{SortOrder: "desc", Limit: 2})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(desc) != 2 || desc[0].ID != "r3" || desc[1].ID != "r2" {
		t.Errorf("Query(desc, limit 2) = %v", desc)
	}

	start := t0.Add(30 * time.Second)
	filtered, err := store.Query(ctx, &evidence.Query{StartTime: &start, Event: evidence.EventExecuted})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].ID != "r3" {
		t.Errorf("filtered Query() = %v", filtered)
	}

	n, err := store.Count(ctx, &evidence.Query{ActionID: "act-1"})
	if err != nil || n != 3 {
		t.Errorf("Count() = %d, %v; want 3", n, err)
	}

	ch, errCh, err := store.QueryStream(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	var streamed []string
	for r := range ch {
		streamed = append(streamed, r.ID)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if strings.Join(streamed, ",") != "r1,r2,r3" {
		t.Errorf("streamed = %v", streamed)
	}
}

func TestAuditStore_RejectsUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewAuditStore(db)
	if err := store.Append(ctx, auditRecord("r1", evidence.EventApproved, t0)); err != nil {
		t.Fatal(err)
	}

	for _, stmt := range []string{
		`UPDATE audit_records SET outcome = 'failure' WHERE id = 'r1'`,
		`DELETE FROM audit_records WHERE id = 'r1'`,
	} {
		_, err := db.SQL().ExecContext(ctx, stmt)
		if err == nil || !strings.Contains(err.Error(), "append-only") {
			t.Errorf("%s: error = %v, want append-only abort", stmt, err)
		}
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Outcome != evidence.OutcomeSuccess {
		t.Errorf("record was modified: %+v", got)
	}
}

func TestAuditStore_WithRecorderCorrection(t *testing.T) {
	ctx := context.Background()
	store := NewAuditStore(openTestDB(t))
	rec := evidence.NewRecorder(store, nil, nil)

	orig, err := rec.Record(ctx, evidence.AuditRecord{Actor: "bob", ActionID: "act-9", Event: evidence.EventApproved, Outcome: evidence.OutcomeSuccess})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	corr, err := rec.Correct(ctx, orig.ID, "alice", "approved the wrong message")
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	if corr.Supersedes != orig.ID || corr.ActionID != "act-9" {
		t.Errorf("correction = %+v", corr)
	}
	if n, _ := store.Count(ctx, &evidence.Query{ActionID: "act-9"}); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestIdempotencyLedger(t *testing.T) {
	ctx := context.Background()
	l := NewIdempotencyLedger(openTestDB(t))

	if done, err := l.Completed(ctx, "k1"); err != nil || done {
		t.Fatalf("Completed(k1) = %v, %v; want false", done, err)
	}
	if err := l.Complete(ctx, "k1", "archive", t0); err != nil {
		t.Fatal(err)
	}
	if err := l.Complete(ctx, "k1", "archive", t0.Add(time.Hour)); err != nil {
		t.Errorf("repeated Complete() error = %v", err)
	}
	if err := l.Complete(ctx, "k2", "label", t0.Add(48*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if done, _ := l.Completed(ctx, "k1"); !done {
		t.Error("Completed(k1) = false after Complete")
	}

	n, err := l.Prune(ctx, t0.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d, want 1", n)
	}
	if done, _ := l.Completed(ctx, "k1"); done {
		t.Error("k1 should be pruned")
	}
	if done, _ := l.Completed(ctx, "k2"); !done {
		t.Error("k2 should be kept")
	}
}

func TestBlobBackend(t *testing.T) {
	ctx := context.Background()
	blobs, err := evidence.NewBlobStore(NewBlobBackend(openTestDB(t)), evidence.BlobOptions{Compress: true})
	if err != nil {
		t.Fatal(err)
	}

	data := []byte(strings.Repeat(`{"category":"newsletter"}`, 50))
	ref, err := blobs.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := blobs.Put(ctx, data); err != nil {
		t.Errorf("second Put() error = %v", err)
	}

	got, err := blobs.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != string(data) {
		t.Error("Get() returned different bytes")
	}

	if _, err := blobs.Get(ctx, evidence.Ref([]byte("other"))); !errors.Is(err, evidence.ErrBlobNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrBlobNotFound", err)
	}
}
