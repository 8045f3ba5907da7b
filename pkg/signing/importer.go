package signing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/evidence"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/policy/registry"
	"jobmail-hq/governor/pkg/telemetry/metrics"
)

const (
	// DefaultMaxAge is how long an export stays importable.
	DefaultMaxAge = 24 * time.Hour

	// maxClockSkew tolerates exporters whose clock runs ahead.
	maxClockSkew = 5 * time.Minute
)

// Registry is the part of the bundle registry imports write to.
type Registry interface {
	Get(version string) (*policy.Bundle, error)
	MaxVersion() string
	CreateDraft(ctx context.Context, req registry.DraftRequest) (*policy.Bundle, error)
}

// ImporterConfig wires an Importer.
type ImporterConfig struct {
	Registry Registry
	Keys     Keyring
	MaxAge   time.Duration

	Recorder *evidence.Recorder
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Collector
}

// Importer verifies signed exports and stores them as drafts.
type Importer struct {
	reg      Registry
	keys     Keyring
	maxAge   time.Duration
	recorder *evidence.Recorder
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// NewImporter creates an importer.
func NewImporter(cfg ImporterConfig) (*Importer, error) {
	if cfg.Registry == nil {
		return nil, errors.New("signing: registry is required")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Keys == nil {
		cfg.Keys = Keyring{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		reg:      cfg.Registry,
		keys:     cfg.Keys,
		maxAge:   cfg.MaxAge,
		recorder: cfg.Recorder,
		clock:    clock.OrReal(cfg.Clock),
		logger:   logger.With("component", "signing"),
		metrics:  cfg.Metrics,
	}, nil
}

// ImportOptions controls one import.
type ImportOptions struct {
	Actor string

	// AsNewVersion re-versions a colliding bundle to the next patch after
	// the highest existing version instead of rejecting it.
	AsNewVersion bool
}

// ImportBytes decodes data and imports it.
func (im *Importer) ImportBytes(ctx context.Context, data []byte, opts ImportOptions) (*policy.Bundle, error) {
	sb, _, err := Decode(data)
	if err != nil {
		ierr := importError(ReasonMalformed, "", "", err)
		im.rejected(ctx, ierr, opts.Actor)
		return nil, ierr
	}
	return im.Import(ctx, sb, opts)
}

// Import verifies sb and creates a draft from it. Failures are
// *ImportError except for registry validation of the policies themselves.
func (im *Importer) Import(ctx context.Context, sb *SignedBundle, opts ImportOptions) (*policy.Bundle, error) {
	b, err := im.importBundle(ctx, sb, opts)
	if err != nil {
		var ierr *ImportError
		if errors.As(err, &ierr) {
			im.rejected(ctx, ierr, opts.Actor)
		} else {
			im.metrics.RecordImport("invalid")
		}
		return nil, err
	}

	im.metrics.RecordImport("success")
	im.logger.InfoContext(ctx, "bundle imported",
		"bundle_version", b.Version,
		"key_id", sb.KeyID,
		"actor", opts.Actor,
	)
	if im.recorder != nil {
		if _, err := im.recorder.Record(ctx, evidence.AuditRecord{
			Actor:         opts.Actor,
			BundleVersion: b.Version,
			Event:         evidence.EventImported,
			Outcome:       evidence.OutcomeSuccess,
			Metadata:      map[string]string{"key_id": sb.KeyID, "source": b.Source},
		}); err != nil {
			return b, err
		}
	}
	return b, nil
}

func (im *Importer) importBundle(ctx context.Context, sb *SignedBundle, opts ImportOptions) (*policy.Bundle, error) {
	if opts.Actor == "" {
		return nil, policy.NewValidationError("import", "actor is required", nil)
	}
	pub, ok := im.keys[sb.KeyID]
	if !ok {
		return nil, importError(ReasonSignatureInvalid, "", sb.KeyID, fmt.Errorf("untrusted key %q", sb.KeyID))
	}
	if err := sb.Verify(pub); err != nil {
		return nil, importError(ReasonSignatureInvalid, "", sb.KeyID, err)
	}

	payload, err := sb.Open()
	if err != nil {
		return nil, importError(ReasonMalformed, "", sb.KeyID, err)
	}
	version := payload.Bundle.Version
	if _, err := policy.ParseVersion(version); err != nil {
		return nil, importError(ReasonMalformed, version, sb.KeyID, err)
	}

	now := im.clock.Now()
	switch age := now.Sub(payload.ExportedAt); {
	case age > im.maxAge:
		return nil, importError(ReasonSignatureExpired, version, sb.KeyID,
			fmt.Errorf("exported %s ago, valid for %s", age.Truncate(time.Second), im.maxAge))
	case age < -maxClockSkew:
		return nil, importError(ReasonSignatureInvalid, version, sb.KeyID,
			fmt.Errorf("exported_at %s is in the future", payload.ExportedAt.Format(time.RFC3339)))
	}

	if im.conflicts(version) {
		if !opts.AsNewVersion {
			return nil, importError(ReasonVersionConflict, version, sb.KeyID,
				fmt.Errorf("version is not greater than %s", im.reg.MaxVersion()))
		}
		version = ""
	}

	return im.reg.CreateDraft(ctx, registry.DraftRequest{
		Version:  version,
		Policies: payload.Bundle.Policies,
		Actor:    opts.Actor,
		Source:   "import:" + sb.KeyID,
	})
}

// conflicts reports whether version exists or would not sort after every
// existing version.
func (im *Importer) conflicts(version string) bool {
	if _, err := im.reg.Get(version); err == nil {
		return true
	}
	highest := im.reg.MaxVersion()
	return highest != "" && policy.CompareVersions(version, highest) <= 0
}

func (im *Importer) rejected(ctx context.Context, ierr *ImportError, actor string) {
	im.metrics.RecordImport(string(ierr.Reason))
	im.logger.WarnContext(ctx, "bundle import rejected",
		"reason", ierr.Reason,
		"bundle_version", ierr.Version,
		"key_id", ierr.KeyID,
		"error", ierr.Cause,
	)
	if im.recorder == nil || actor == "" {
		return
	}
	meta := map[string]string{"reason": string(ierr.Reason)}
	if ierr.KeyID != "" {
		meta["key_id"] = ierr.KeyID
	}
	if _, err := im.recorder.Record(ctx, evidence.AuditRecord{
		Actor:         actor,
		BundleVersion: ierr.Version,
		Event:         evidence.EventImported,
		Outcome:       evidence.OutcomeFailure,
		Error:         ierr.Error(),
		Metadata:      meta,
	}); err != nil {
		im.logger.ErrorContext(ctx, "failed to audit rejected import", "error", err)
	}
}
