package evidence

import (
	"context"
	"io"
	"maps"
	"time"
)

// Event names what an audit record documents.
type Event string

const (
	EventProposed   Event = "proposed"
	EventApproved   Event = "approved"
	EventRejected   Event = "rejected"
	EventExecuted   Event = "executed"
	EventFailed     Event = "failed"
	EventRolledBack Event = "rolled_back"
	EventPromoted   Event = "promoted"
	EventImported   Event = "imported"
	EventCorrection Event = "correction"
)

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	switch e {
	case EventProposed, EventApproved, EventRejected, EventExecuted, EventFailed,
		EventRolledBack, EventPromoted, EventImported, EventCorrection:
		return true
	}
	return false
}

// Outcome is the result of the audited step.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeNoop    Outcome = "noop"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure || o == OutcomeNoop
}

// AuditRecord is one immutable entry of the audit trail. Records are
// appended and never updated or deleted; mistakes are fixed by appending a
// correction that names the record it supersedes.
type AuditRecord struct {
	ID    string `json:"id"`    // UUID v4
	Actor string `json:"actor"` // operator name or "system:<component>"

	// ActionID is the proposed action this record concerns, if any.
	ActionID string `json:"action_id,omitempty"`

	// BundleVersion is the bundle this record concerns, if any.
	BundleVersion string `json:"bundle_version,omitempty"`

	Event   Event   `json:"event"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`

	// EvidenceRef is the content address ("blake3:<hex>") of a stored
	// evidence blob.
	EvidenceRef string `json:"evidence_ref,omitempty"`

	// Metadata carries small facts such as the metric that triggered a
	// rollback.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Supersedes is the ID of the record a correction replaces.
	Supersedes string `json:"supersedes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a copy of r that shares nothing mutable with it.
func (r *AuditRecord) Clone() *AuditRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Metadata = maps.Clone(r.Metadata)
	return &out
}

// Query defines filter parameters for audit queries. Zero-valued fields do
// not filter.
type Query struct {
	// Time range
	StartTime *time.Time `json:"start_time,omitempty"` // Inclusive
	EndTime   *time.Time `json:"end_time,omitempty"`   // Inclusive

	// Filters
	Actor         string  `json:"actor,omitempty"`
	ActionID      string  `json:"action_id,omitempty"`
	BundleVersion string  `json:"bundle_version,omitempty"`
	Event         Event   `json:"event,omitempty"`
	Outcome       Outcome `json:"outcome,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	// SortOrder is "asc" or "desc" by creation time.
	SortOrder string `json:"sort_order,omitempty"`
}

// Matches reports whether r satisfies the filters of q. Pagination is not
// considered.
func (q *Query) Matches(r *AuditRecord) bool {
	if q == nil {
		return true
	}
	if q.StartTime != nil && r.CreatedAt.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && r.CreatedAt.After(*q.EndTime) {
		return false
	}
	if q.Actor != "" && r.Actor != q.Actor {
		return false
	}
	if q.ActionID != "" && r.ActionID != q.ActionID {
		return false
	}
	if q.BundleVersion != "" && r.BundleVersion != q.BundleVersion {
		return false
	}
	if q.Event != "" && r.Event != q.Event {
		return false
	}
	if q.Outcome != "" && r.Outcome != q.Outcome {
		return false
	}
	return true
}

// Storage is an append-only audit store. Implementations must be safe for
// concurrent use. There is no update or delete; Append of an existing ID
// returns ErrAppendOnly.
type Storage interface {
	// Append persists a new record.
	Append(ctx context.Context, record *AuditRecord) error

	// Get returns the record with the given ID, or an error wrapping
	// ErrRecordNotFound.
	Get(ctx context.Context, id string) (*AuditRecord, error)

	// Query returns records matching q in creation order (ascending unless
	// SortOrder is "desc"). Returns an empty slice if nothing matches.
	Query(ctx context.Context, q *Query) ([]*AuditRecord, error)

	// QueryStream returns a channel of matching records for large exports.
	// Both channels are closed when the query completes; errCh carries at
	// most one error.
	QueryStream(ctx context.Context, q *Query) (<-chan *AuditRecord, <-chan error, error)

	// Count returns the number of records matching q.
	Count(ctx context.Context, q *Query) (int64, error)

	// Close releases resources held by the backend.
	Close() error
}

// Exporter writes audit records in a specific format.
type Exporter interface {
	Export(ctx context.Context, records []*AuditRecord, w io.Writer) error
}
