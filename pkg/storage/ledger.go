package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jobmail-hq/governor/pkg/evidence"
)

// IdempotencyLedger is the SQL executor.Ledger.
type IdempotencyLedger struct {
	db *DB
}

// NewIdempotencyLedger creates a ledger on db.
func NewIdempotencyLedger(db *DB) *IdempotencyLedger {
	return &IdempotencyLedger{db: db}
}

// Completed reports whether key has been completed.
func (l *IdempotencyLedger) Completed(ctx context.Context, key string) (bool, error) {
	var one int
	err := l.db.db.QueryRowContext(ctx, `SELECT 1 FROM idempotency_keys WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, newError("idempotency_lookup", err)
	}
	return true, nil
}

// Complete records key. An existing key keeps its original completion time.
func (l *IdempotencyLedger) Complete(ctx context.Context, key, actionType string, at time.Time) error {
	_, err := l.db.db.ExecContext(ctx, `
INSERT INTO idempotency_keys (key, action_type, completed_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO NOTHING`, key, actionType, formatTime(at))
	if err != nil {
		return newError("idempotency_complete", err)
	}
	return nil
}

// Prune deletes keys completed before the cutoff.
func (l *IdempotencyLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE completed_at < ?`, formatTime(before))
	if err != nil {
		return 0, newError("idempotency_prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, newError("idempotency_prune", err)
	}
	return n, nil
}

// BlobBackend stores encoded evidence blobs in evidence_blobs. It
// satisfies evidence.BlobBackend.
type BlobBackend struct {
	db  *DB
	now func() time.Time
}

// NewBlobBackend creates a blob backend on db.
func NewBlobBackend(db *DB) *BlobBackend {
	return &BlobBackend{db: db, now: time.Now}
}

// PutBlob stores data under ref unless ref already exists.
func (b *BlobBackend) PutBlob(ctx context.Context, ref string, data []byte) error {
	_, err := b.db.db.ExecContext(ctx, `
INSERT INTO evidence_blobs (ref, data, created_at) VALUES (?, ?, ?)
ON CONFLICT(ref) DO NOTHING`, ref, data, formatTime(b.now()))
	return err
}

// GetBlob returns the stored bytes for ref.
func (b *BlobBackend) GetBlob(ctx context.Context, ref string) ([]byte, error) {
	var data []byte
	err := b.db.db.QueryRowContext(ctx, `SELECT data FROM evidence_blobs WHERE ref = ?`, ref).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", ref, evidence.ErrBlobNotFound)
	}
	return data, err
}
