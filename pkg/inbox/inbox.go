// Package inbox auto-imports signed bundle exports dropped into a watched
// directory. Every import lands as a draft; nothing in the inbox can change
// live traffic without a promotion.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/signing"
)

const (
	// Actor is the audit actor of inbox imports.
	Actor = "system:inbox"

	ImportedDir = "imported"
	RejectedDir = "rejected"

	// DefaultSettle is how long a file must stay unchanged before it is
	// imported, so half-written files are not picked up.
	DefaultSettle = 200 * time.Millisecond
)

// Importer imports signed bundle exports.
type Importer interface {
	ImportBytes(ctx context.Context, data []byte, opts signing.ImportOptions) (*policy.Bundle, error)
}

// Config configures a Watcher.
type Config struct {
	Directory    string
	AsNewVersion bool
	Settle       time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Result is the outcome of processing one file.
type Result struct {
	File    string
	MovedTo string
	Bundle  *policy.Bundle
	Err     error
}

// Watcher imports every *.json and *.cbor file dropped into a directory.
// Imported files move to imported/, failures to rejected/ next to a
// .error file holding the reason.
type Watcher struct {
	dir          string
	asNewVersion bool
	importer     Importer
	settle       *debouncer
	clock        clock.Clock
	logger       *slog.Logger

	mu sync.Mutex // serializes imports
}

// New creates the inbox directories and a watcher over them.
func New(cfg Config, imp Importer) (*Watcher, error) {
	if cfg.Directory == "" {
		return nil, errors.New("inbox: directory is required")
	}
	if imp == nil {
		return nil, errors.New("inbox: importer is required")
	}
	for _, sub := range []string{ImportedDir, RejectedDir} {
		if err := os.MkdirAll(filepath.Join(cfg.Directory, sub), 0o755); err != nil {
			return nil, fmt.Errorf("inbox: %w", err)
		}
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:          cfg.Directory,
		asNewVersion: cfg.AsNewVersion,
		importer:     imp,
		settle:       newDebouncer(cfg.Settle),
		clock:        clock.OrReal(cfg.Clock),
		logger:       logger.With("component", "inbox", "directory", cfg.Directory),
	}, nil
}

// Watch processes files already in the inbox, then watches for new ones
// until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: create watcher: %w", err)
	}
	defer fsw.Close()
	defer w.settle.stop()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}
	if _, err := w.Scan(ctx); err != nil {
		w.logger.ErrorContext(ctx, "initial inbox scan failed", "error", err)
	}
	w.logger.InfoContext(ctx, "inbox watcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inbox watcher stopped")
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return errors.New("inbox: watcher events channel closed")
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !accepts(ev.Name) {
				continue
			}
			path := ev.Name
			w.settle.trigger(path, func() {
				if _, err := os.Stat(path); err != nil {
					return
				}
				w.Process(ctx, path)
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("inbox: watcher errors channel closed")
			}
			w.logger.ErrorContext(ctx, "inbox watcher error", "error", err)
		}
	}
}

// Scan processes every eligible file currently in the inbox.
func (w *Watcher) Scan(ctx context.Context) ([]Result, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var out []Result
	for _, e := range entries {
		if e.IsDir() || !accepts(e.Name()) {
			continue
		}
		out = append(out, w.Process(ctx, filepath.Join(w.dir, e.Name())))
	}
	return out, nil
}

// Process imports one file and moves it out of the inbox.
func (w *Watcher) Process(ctx context.Context, path string) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	res := Result{File: filepath.Base(path)}
	data, err := os.ReadFile(path) // #nosec G304 -- inbox files
	if err != nil {
		res.Err = err
		if errors.Is(err, os.ErrNotExist) {
			return res
		}
	} else {
		res.Bundle, res.Err = w.importer.ImportBytes(ctx, data, signing.ImportOptions{
			Actor:        Actor,
			AsNewVersion: w.asNewVersion,
		})
	}

	dest := ImportedDir
	if res.Err != nil {
		dest = RejectedDir
	}
	moved, err := w.move(path, dest)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to move inbox file", "file", res.File, "error", err)
	}
	res.MovedTo = moved

	if res.Err != nil {
		if moved != "" {
			if err := os.WriteFile(moved+".error", []byte(res.Err.Error()+"\n"), 0o644); err != nil {
				w.logger.WarnContext(ctx, "failed to write rejection reason", "file", res.File, "error", err)
			}
		}
		w.logger.WarnContext(ctx, "inbox file rejected", "file", res.File, "error", res.Err)
		return res
	}
	w.logger.InfoContext(ctx, "inbox file imported",
		"file", res.File,
		"bundle_version", res.Bundle.Version,
		"source", res.Bundle.Source,
	)
	return res
}

// move renames path into sub, adding a timestamp when the name is taken.
func (w *Watcher) move(path, sub string) (string, error) {
	name := filepath.Base(path)
	dest := filepath.Join(w.dir, sub, name)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(name)
		stamp := w.clock.Now().UTC().Format("20060102T150405.000000000")
		dest = filepath.Join(w.dir, sub, strings.TrimSuffix(name, ext)+"-"+stamp+ext)
	}
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func accepts(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".json", ".cbor":
		return true
	}
	return false
}

// debouncer delays a callback per key until events for that key stop.
type debouncer struct {
	interval time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{interval: interval, timers: make(map[string]*time.Timer)}
}

func (d *debouncer) trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for k, t := range d.timers {
		t.Stop()
		delete(d.timers, k)
	}
}
