package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobmail-hq/governor/pkg/evidence"
	"jobmail-hq/governor/pkg/policy"
)

// TriggerManual labels rollbacks requested by an operator.
const TriggerManual = "manual"

// CreateCanary moves a draft bundle into canary_10, sharing traffic with
// the active bundle. expected is the caller's view of the active version.
func (r *Registry) CreateCanary(ctx context.Context, version, expected, actor string) (*policy.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.snapshot()
	cur, ok := st.bundles[version]
	if !ok {
		return nil, &policy.NotFoundError{Kind: "bundle", ID: version}
	}
	if err := r.checkExpected(st, version, expected); err != nil {
		return nil, err
	}
	if cur.Status != policy.StatusDraft {
		return nil, policy.NewValidationError(version, fmt.Sprintf("only a draft can enter canary, bundle is %s", cur.Status), nil)
	}
	if st.active == nil {
		return nil, policy.NewValidationError(version, "a canary needs an active bundle to share traffic with; use activate", ErrNoActive)
	}
	if st.canary != nil {
		return nil, policy.NewValidationError(version, fmt.Sprintf("bundle %s is already in canary", st.canary.Version), nil)
	}
	if len(cur.Policies) == 0 {
		return nil, policy.NewValidationError(version, "bundle has no policies", nil)
	}

	b := cur.Clone()
	r.enterStage(b, policy.StatusCanary10)
	if _, err := r.commit(ctx, st, b); err != nil {
		return nil, err
	}
	return b, r.promoted(ctx, b, policy.StatusDraft, actor)
}

// Promote moves a canary bundle one stage forward: canary_10 to canary_50,
// or canary_50 to active, archiving the previous active bundle. The stage's
// soak time must have elapsed and its quality gates must pass.
func (r *Registry) Promote(ctx context.Context, version, expected, actor string) (*policy.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.snapshot()
	cur, ok := st.bundles[version]
	if !ok {
		return nil, &policy.NotFoundError{Kind: "bundle", ID: version}
	}
	if err := r.checkExpected(st, version, expected); err != nil {
		return nil, err
	}
	if !cur.Status.IsCanary() {
		return nil, policy.NewValidationError(version, fmt.Sprintf("only a canary can be promoted, bundle is %s", cur.Status), nil)
	}

	now := r.clock.Now()
	if soaked := now.Sub(cur.StageEnteredAt); r.soakTime > 0 && soaked < r.soakTime {
		return nil, policy.NewValidationError(version,
			fmt.Sprintf("%s for %s of %s soak time", cur.Status, soaked.Truncate(time.Second), r.soakTime), ErrSoakIncomplete)
	}
	if r.gates != nil {
		if err := r.gates.CheckGates(ctx, version); err != nil {
			return nil, policy.NewValidationError(version, err.Error(), errors.Join(ErrGatesFailed, err))
		}
	}

	next, _ := cur.Status.Next()
	b := cur.Clone()
	r.enterStage(b, next)
	changed := []*policy.Bundle{b}
	if next == policy.StatusActive && st.active != nil {
		old := st.active.Clone()
		r.enterStage(old, policy.StatusArchived)
		changed = append(changed, old)
	}
	if _, err := r.commit(ctx, st, changed...); err != nil {
		return nil, err
	}
	return b, r.promoted(ctx, b, cur.Status, actor)
}

// Activate makes a draft the active bundle when none is active. It is the
// bootstrap path; once a bundle is active, new versions go through canary.
func (r *Registry) Activate(ctx context.Context, version, expected, actor string) (*policy.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.snapshot()
	cur, ok := st.bundles[version]
	if !ok {
		return nil, &policy.NotFoundError{Kind: "bundle", ID: version}
	}
	if err := r.checkExpected(st, version, expected); err != nil {
		return nil, err
	}
	if st.active != nil {
		return nil, policy.NewValidationError(version,
			fmt.Sprintf("bundle %s is active; new versions must go through canary", st.active.Version), nil)
	}
	if cur.Status != policy.StatusDraft {
		return nil, policy.NewValidationError(version, fmt.Sprintf("only a draft can be activated, bundle is %s", cur.Status), nil)
	}
	if len(cur.Policies) == 0 {
		return nil, policy.NewValidationError(version, "bundle has no policies", nil)
	}

	b := cur.Clone()
	r.enterStage(b, policy.StatusActive)
	if _, err := r.commit(ctx, st, b); err != nil {
		return nil, err
	}
	return b, r.promoted(ctx, b, policy.StatusDraft, actor)
}

// enterStage sets b's status and the fields that go with it.
func (r *Registry) enterStage(b *policy.Bundle, s policy.Status) {
	now := r.clock.Now().UTC()
	b.Status = s
	b.CanaryPct = s.CanaryPct()
	b.StageEnteredAt = now
	if s == policy.StatusActive {
		b.ActivatedAt = &now
	}
}

func (r *Registry) promoted(ctx context.Context, b *policy.Bundle, from policy.Status, actor string) error {
	r.metrics.RecordPromotion(string(b.Status))
	r.logger.InfoContext(ctx, "bundle promoted",
		"bundle_version", b.Version,
		"from", from,
		"to", b.Status,
		"canary_pct", b.CanaryPct,
		"actor", actor,
	)
	return r.audit(ctx, evidence.AuditRecord{
		Actor:         actor,
		BundleVersion: b.Version,
		Event:         evidence.EventPromoted,
		Outcome:       evidence.OutcomeSuccess,
		Metadata: map[string]string{
			"from":       string(from),
			"to":         string(b.Status),
			"canary_pct": fmt.Sprint(b.CanaryPct),
		},
	})
}

// RollbackRequest describes a rollback.
type RollbackRequest struct {
	Version  string
	Expected string // caller's view of the active version
	Actor    string
	Reason   string

	// Trigger names what caused the rollback: "manual" or the metric that
	// breached its threshold. Empty means manual.
	Trigger string

	// Metadata is copied into the audit record.
	Metadata map[string]string
}

// RollbackResult reports the outcome of a successful rollback.
type RollbackResult struct {
	RolledBack *policy.Bundle
	Restored   *policy.Bundle // nil when a canary was rolled back
}

// Rollback archives a canary or active bundle. Rolling back a canary
// returns all traffic to the active bundle. Rolling back the active bundle
// restores the most recently active bundle that was never rolled back; when
// there is none the active bundle stays in place and a RollbackError is
// returned.
func (r *Registry) Rollback(ctx context.Context, req RollbackRequest) (*RollbackResult, error) {
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.snapshot()
	cur, ok := st.bundles[req.Version]
	if !ok {
		return nil, &policy.NotFoundError{Kind: "bundle", ID: req.Version}
	}
	if err := r.checkExpected(st, req.Version, req.Expected); err != nil {
		return nil, err
	}
	if !cur.Status.IsLive() {
		return nil, policy.NewValidationError(req.Version, fmt.Sprintf("only a live bundle can be rolled back, bundle is %s", cur.Status), nil)
	}

	res := &RollbackResult{}
	b := cur.Clone()
	r.enterStage(b, policy.StatusArchived)
	now := b.StageEnteredAt
	b.RolledBackAt = &now
	b.RollbackReason = req.Reason
	res.RolledBack = b
	changed := []*policy.Bundle{b}

	if cur.Status == policy.StatusActive {
		prev := knownGood(st, cur.Version)
		if prev == nil {
			rerr := &policy.RollbackError{Version: req.Version, Reason: "no known-good bundle to restore"}
			r.escalate(ctx, req, rerr)
			return nil, rerr
		}
		restored := prev.Clone()
		r.enterStage(restored, policy.StatusActive)
		res.Restored = restored
		changed = append(changed, restored)
	}

	if _, err := r.commit(ctx, st, changed...); err != nil {
		rerr := &policy.RollbackError{Version: req.Version, Reason: "persisting rollback failed", Cause: err}
		r.escalate(ctx, req, rerr)
		return nil, rerr
	}

	r.metrics.RecordRollback(req.Trigger)
	r.logger.WarnContext(ctx, "bundle rolled back",
		"bundle_version", req.Version,
		"from", cur.Status,
		"restored", versionOf(res.Restored),
		"trigger", req.Trigger,
		"reason", req.Reason,
		"actor", req.Actor,
	)
	meta := rollbackMetadata(req, cur.Status)
	if res.Restored != nil {
		meta["restored"] = res.Restored.Version
	}
	return res, r.audit(ctx, evidence.AuditRecord{
		Actor:         req.Actor,
		BundleVersion: req.Version,
		Event:         evidence.EventRolledBack,
		Outcome:       evidence.OutcomeSuccess,
		Metadata:      meta,
	})
}

// knownGood returns the most recently activated archived bundle that was
// never rolled back, excluding version.
func knownGood(st *routingState, version string) *policy.Bundle {
	var best *policy.Bundle
	for _, b := range st.ordered {
		if b.Version == version || b.Status != policy.StatusArchived || !b.WasActive() || b.WasRolledBack() {
			continue
		}
		if best == nil || !b.ActivatedAt.Before(*best.ActivatedAt) {
			best = b
		}
	}
	return best
}

// escalate records a rollback that could not restore a safe bundle. It is
// audited and counted so it pages an operator.
func (r *Registry) escalate(ctx context.Context, req RollbackRequest, rerr *policy.RollbackError) {
	r.metrics.RecordRollbackEscalation()
	r.logger.ErrorContext(ctx, "rollback failed; operator intervention required",
		"bundle_version", req.Version,
		"trigger", req.Trigger,
		"reason", req.Reason,
		"actor", req.Actor,
		"error", rerr,
	)
	var status policy.Status
	if b, ok := r.snapshot().bundles[req.Version]; ok {
		status = b.Status
	}
	if err := r.audit(ctx, evidence.AuditRecord{
		Actor:         req.Actor,
		BundleVersion: req.Version,
		Event:         evidence.EventRolledBack,
		Outcome:       evidence.OutcomeFailure,
		Error:         rerr.Error(),
		Metadata:      rollbackMetadata(req, status),
	}); err != nil {
		r.logger.ErrorContext(ctx, "failed to audit rollback escalation", "error", err)
	}
}

func rollbackMetadata(req RollbackRequest, from policy.Status) map[string]string {
	meta := make(map[string]string, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["trigger"] = req.Trigger
	meta["reason"] = req.Reason
	meta["from"] = string(from)
	return meta
}
