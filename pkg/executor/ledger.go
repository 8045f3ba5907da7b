package executor

import (
	"context"
	"sync"
	"time"
)

// Ledger records completed idempotency keys. A key is completed once its
// executor has succeeded; later dispatches with the same key are no-ops.
type Ledger interface {
	// Completed reports whether key has already been executed successfully.
	Completed(ctx context.Context, key string) (bool, error)

	// Complete records key as executed. Completing an existing key is not
	// an error.
	Complete(ctx context.Context, key, actionType string, at time.Time) error

	// Prune removes keys completed before the given time and returns how
	// many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type ledgerEntry struct {
	actionType  string
	completedAt time.Time
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu   sync.Mutex
	keys map[string]ledgerEntry
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{keys: make(map[string]ledgerEntry)}
}

// Completed implements Ledger.
func (l *MemoryLedger) Completed(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.keys[key]
	return ok, nil
}

// Complete implements Ledger.
func (l *MemoryLedger) Complete(_ context.Context, key, actionType string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.keys[key]; !ok {
		l.keys[key] = ledgerEntry{actionType: actionType, completedAt: at}
	}
	return nil
}

// Prune implements Ledger.
func (l *MemoryLedger) Prune(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for key, e := range l.keys {
		if e.completedAt.Before(before) {
			delete(l.keys, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of keys held.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
