package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"jobmail-hq/governor/pkg/evidence"
)

const auditBackend = "sqlite"

// streamBatchSize is the page size QueryStream reads at a time. Paging
// keeps no cursor open between sends, so a consumer may use the database
// while draining the channel.
const streamBatchSize = 500

const auditColumns = `id, actor, action_id, bundle_version, event, outcome, error, evidence_ref,
       metadata, supersedes, created_at`

// AuditStore is the SQL implementation of evidence.Storage. The schema's
// triggers abort any UPDATE or DELETE on audit_records, so the trail stays
// append-only even against direct SQL access.
type AuditStore struct {
	db *DB
}

// NewAuditStore creates an audit store on db.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append inserts record.
func (s *AuditStore) Append(ctx context.Context, r *evidence.AuditRecord) error {
	meta, err := marshalMap(r.Metadata)
	if err != nil {
		return evidence.NewStorageError(auditBackend, "append", err)
	}
	_, err = s.db.db.ExecContext(ctx, `
INSERT INTO audit_records (`+auditColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Actor, r.ActionID, r.BundleVersion, string(r.Event), string(r.Outcome),
		r.Error, r.EvidenceRef, meta, r.Supersedes, formatTime(r.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return evidence.NewStorageError(auditBackend, "append", fmt.Errorf("record %s: %w", r.ID, evidence.ErrAppendOnly))
		}
		return evidence.NewStorageError(auditBackend, "append", err)
	}
	return nil
}

// Get returns the record with the given ID.
func (s *AuditStore) Get(ctx context.Context, id string) (*evidence.AuditRecord, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_records WHERE id = ?`, id)
	r, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, evidence.ErrRecordNotFound)
	}
	if err != nil {
		return nil, evidence.NewStorageError(auditBackend, "get", err)
	}
	return r, nil
}

// whereClause renders the filters of q.
func whereClause(q *evidence.Query) (string, []any) {
	if q == nil {
		return "", nil
	}
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if q.StartTime != nil {
		add("created_at >= ?", formatTime(*q.StartTime))
	}
	if q.EndTime != nil {
		add("created_at <= ?", formatTime(*q.EndTime))
	}
	if q.Actor != "" {
		add("actor = ?", q.Actor)
	}
	if q.ActionID != "" {
		add("action_id = ?", q.ActionID)
	}
	if q.BundleVersion != "" {
		add("bundle_version = ?", q.BundleVersion)
	}
	if q.Event != "" {
		add("event = ?", string(q.Event))
	}
	if q.Outcome != "" {
		add("outcome = ?", string(q.Outcome))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *AuditStore) query(ctx context.Context, q *evidence.Query, limit, offset int) ([]*evidence.AuditRecord, error) {
	where, args := whereClause(q)
	order := " ORDER BY created_at ASC, rowid ASC"
	if q != nil && q.SortOrder == "desc" {
		order = " ORDER BY created_at DESC, rowid DESC"
	}
	stmt := `SELECT ` + auditColumns + ` FROM audit_records` + where + order
	if limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, limit)
	} else if offset > 0 {
		stmt += " LIMIT -1"
	}
	if offset > 0 {
		stmt += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := s.db.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, evidence.NewQueryError(q, err)
	}
	defer rows.Close()

	out := make([]*evidence.AuditRecord, 0)
	for rows.Next() {
		r, err := scanAudit(rows)
		if err != nil {
			return nil, evidence.NewQueryError(q, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, evidence.NewQueryError(q, err)
	}
	return out, nil
}

// Query returns records matching q.
func (s *AuditStore) Query(ctx context.Context, q *evidence.Query) ([]*evidence.AuditRecord, error) {
	var limit, offset int
	if q != nil {
		limit, offset = q.Limit, q.Offset
	}
	return s.query(ctx, q, limit, offset)
}

// QueryStream streams records matching q in pages.
func (s *AuditStore) QueryStream(ctx context.Context, q *evidence.Query) (<-chan *evidence.AuditRecord, <-chan error, error) {
	var limit, offset int
	if q != nil {
		limit, offset = q.Limit, q.Offset
	}

	recordsCh := make(chan *evidence.AuditRecord, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(recordsCh)
		defer close(errCh)

		sent := 0
		for {
			batch := streamBatchSize
			if limit > 0 {
				batch = min(batch, limit-sent)
				if batch <= 0 {
					return
				}
			}
			page, err := s.query(ctx, q, batch, offset+sent)
			if err != nil {
				errCh <- err
				return
			}
			for _, r := range page {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case recordsCh <- r:
				}
			}
			sent += len(page)
			if len(page) < batch {
				return
			}
		}
	}()

	return recordsCh, errCh, nil
}

// Count returns the number of records matching q.
func (s *AuditStore) Count(ctx context.Context, q *evidence.Query) (int64, error) {
	where, args := whereClause(q)
	var n int64
	if err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`+where, args...).Scan(&n); err != nil {
		return 0, evidence.NewQueryError(q, err)
	}
	return n, nil
}

// Close is a no-op; the DB is closed by its owner.
func (s *AuditStore) Close() error {
	return nil
}

func scanAudit(row rowScanner) (*evidence.AuditRecord, error) {
	var (
		r                    evidence.AuditRecord
		event, outcome, meta string
		created              string
	)
	err := row.Scan(&r.ID, &r.Actor, &r.ActionID, &r.BundleVersion, &event, &outcome,
		&r.Error, &r.EvidenceRef, &meta, &r.Supersedes, &created)
	if err != nil {
		return nil, err
	}
	r.Event = evidence.Event(event)
	r.Outcome = evidence.Outcome(outcome)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("record %s: metadata: %w", r.ID, err)
		}
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("record %s: created_at: %w", r.ID, err)
	}
	return &r, nil
}
