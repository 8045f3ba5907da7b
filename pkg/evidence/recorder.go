package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"jobmail-hq/governor/pkg/clock"
)

// Recorder appends audit records, stamping IDs and times. Writes are
// synchronous: a state transition is not reported as done until its audit
// record is stored.
type Recorder struct {
	storage Storage
	blobs   *BlobStore
	clock   clock.Clock
	logger  *slog.Logger
}

// NewRecorder creates a recorder over storage. A nil clock uses the system
// clock; a nil logger uses slog.Default().
func NewRecorder(storage Storage, clk clock.Clock, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		storage: storage,
		clock:   clock.OrReal(clk),
		logger:  logger.With("component", "evidence.recorder"),
	}
}

// WithBlobs enables RecordWithEvidence.
func (r *Recorder) WithBlobs(blobs *BlobStore) *Recorder {
	r.blobs = blobs
	return r
}

// Storage returns the underlying audit store.
func (r *Recorder) Storage() Storage {
	return r.storage
}

// Blobs returns the evidence blob store, or nil.
func (r *Recorder) Blobs() *BlobStore {
	return r.blobs
}

// Record validates rec, assigns its ID and creation time and appends it.
// The stored record is returned.
func (r *Recorder) Record(ctx context.Context, rec AuditRecord) (*AuditRecord, error) {
	if err := validateRecord(&rec); err != nil {
		return nil, NewRecorderError(rec.Event, err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = r.clock.Now().UTC()

	if err := r.storage.Append(ctx, &rec); err != nil {
		r.logger.ErrorContext(ctx, "failed to append audit record",
			"event", rec.Event,
			"action_id", rec.ActionID,
			"bundle_version", rec.BundleVersion,
			"error", err,
		)
		return nil, NewRecorderError(rec.Event, err)
	}

	r.logger.DebugContext(ctx, "audit record appended",
		"record_id", rec.ID,
		"event", rec.Event,
		"outcome", rec.Outcome,
		"actor", rec.Actor,
	)
	return &rec, nil
}

// RecordWithEvidence stores evidence as a blob and records rec referencing
// it.
func (r *Recorder) RecordWithEvidence(ctx context.Context, rec AuditRecord, evidence []byte) (*AuditRecord, error) {
	if r.blobs == nil {
		return nil, NewRecorderError(rec.Event, errors.New("no evidence blob store configured"))
	}
	ref, err := r.blobs.Put(ctx, evidence)
	if err != nil {
		return nil, NewRecorderError(rec.Event, err)
	}
	rec.EvidenceRef = ref
	return r.Record(ctx, rec)
}

// Correct appends a correction superseding the record with the given ID.
// The original record is left untouched.
func (r *Recorder) Correct(ctx context.Context, supersedes, actor, reason string) (*AuditRecord, error) {
	orig, err := r.storage.Get(ctx, supersedes)
	if err != nil {
		return nil, NewRecorderError(EventCorrection, err)
	}
	if reason == "" {
		return nil, NewRecorderError(EventCorrection, errors.New("reason is required"))
	}
	return r.Record(ctx, AuditRecord{
		Actor:         actor,
		ActionID:      orig.ActionID,
		BundleVersion: orig.BundleVersion,
		Event:         EventCorrection,
		Outcome:       OutcomeNoop,
		Supersedes:    orig.ID,
		Metadata: map[string]string{
			"reason":             reason,
			"superseded_event":   string(orig.Event),
			"superseded_outcome": string(orig.Outcome),
		},
	})
}

func validateRecord(rec *AuditRecord) error {
	if rec.Actor == "" {
		return errors.New("actor is required")
	}
	if !rec.Event.Valid() {
		return fmt.Errorf("unknown event %q", rec.Event)
	}
	if !rec.Outcome.Valid() {
		return fmt.Errorf("unknown outcome %q", rec.Outcome)
	}
	if rec.EvidenceRef != "" && !ValidRef(rec.EvidenceRef) {
		return fmt.Errorf("invalid evidence reference %q", rec.EvidenceRef)
	}
	if rec.Event == EventCorrection && rec.Supersedes == "" {
		return errors.New("correction must name the record it supersedes")
	}
	return nil
}
