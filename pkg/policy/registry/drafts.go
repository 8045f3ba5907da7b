package registry

import (
	"context"
	"errors"
	"fmt"

	"jobmail-hq/governor/pkg/policy"
)

// firstVersion is assigned to the first draft created without a version.
const firstVersion = "1.0.0"

// DraftRequest describes a new draft bundle.
type DraftRequest struct {
	// Version must be greater than every existing version. Empty selects
	// the next patch after the highest existing version.
	Version  string
	Policies []policy.Policy
	Actor    string
	Source   string
}

// CreateDraft validates and stores a new draft bundle.
func (r *Registry) CreateDraft(ctx context.Context, req DraftRequest) (*policy.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.snapshot()
	version, err := r.nextVersion(st, req.Version)
	if err != nil {
		return nil, err
	}
	if err := r.validatePolicies(version, req.Policies); err != nil {
		return nil, err
	}

	b := &policy.Bundle{
		Version:        version,
		Status:         policy.StatusDraft,
		StageEnteredAt: r.clock.Now().UTC(),
		CreatedBy:      req.Actor,
		Source:         req.Source,
		Policies:       make([]policy.Policy, len(req.Policies)),
	}
	for i, p := range req.Policies {
		b.Policies[i] = p.Clone()
	}
	if _, err := r.commit(ctx, st, b); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "draft created",
		"bundle_version", version,
		"policies", len(b.Policies),
		"actor", req.Actor,
		"source", req.Source,
	)
	return b, nil
}

func (r *Registry) nextVersion(st *routingState, requested string) (string, error) {
	var maxVersion *policy.Version
	if n := len(st.ordered); n > 0 {
		if v, err := policy.ParseVersion(st.ordered[n-1].Version); err == nil {
			maxVersion = &v
		}
	}

	if requested == "" {
		if maxVersion == nil {
			return firstVersion, nil
		}
		return maxVersion.NextPatch().String(), nil
	}

	v, err := policy.ParseVersion(requested)
	if err != nil {
		return "", policy.NewValidationError(requested, err.Error(), err)
	}
	if _, exists := st.bundles[v.String()]; exists {
		return "", policy.NewValidationError(requested, "version already exists", nil)
	}
	if maxVersion != nil && !maxVersion.Less(v) {
		return "", policy.NewValidationError(requested,
			fmt.Sprintf("version must be greater than %s", maxVersion), nil)
	}
	return v.String(), nil
}

// editDraft applies edit to a copy of the draft bundle and commits it.
func (r *Registry) editDraft(ctx context.Context, version, actor, op string, edit func(b *policy.Bundle) error) (*policy.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.snapshot()
	cur, ok := st.bundles[version]
	if !ok {
		return nil, &policy.NotFoundError{Kind: "bundle", ID: version}
	}
	if cur.Status != policy.StatusDraft {
		return nil, policy.NewValidationError(version,
			fmt.Sprintf("cannot %s: bundle is %s", op, cur.Status), policy.ErrImmutable)
	}

	b := cur.Clone()
	if err := edit(b); err != nil {
		return nil, err
	}
	if _, err := r.commit(ctx, st, b); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "draft edited",
		"bundle_version", version,
		"operation", op,
		"actor", actor,
	)
	return b, nil
}

// AddPolicy adds p to a draft bundle.
func (r *Registry) AddPolicy(ctx context.Context, version string, p policy.Policy, actor string) (*policy.Bundle, error) {
	return r.editDraft(ctx, version, actor, "add policy", func(b *policy.Bundle) error {
		if _, exists := b.Policy(p.ID); exists {
			return policy.NewValidationError(p.ID, "policy already exists in bundle "+version, nil)
		}
		if err := r.validatePolicy(p); err != nil {
			return err
		}
		b.Policies = append(b.Policies, p.Clone())
		return nil
	})
}

// UpdatePolicy replaces the policy with p.ID in a draft bundle.
func (r *Registry) UpdatePolicy(ctx context.Context, version string, p policy.Policy, actor string) (*policy.Bundle, error) {
	return r.editDraft(ctx, version, actor, "update policy", func(b *policy.Bundle) error {
		for i := range b.Policies {
			if b.Policies[i].ID != p.ID {
				continue
			}
			if err := r.validatePolicy(p); err != nil {
				return err
			}
			b.Policies[i] = p.Clone()
			return nil
		}
		return &policy.NotFoundError{Kind: "policy", ID: p.ID}
	})
}

// RemovePolicy removes the policy with the given ID from a draft bundle.
func (r *Registry) RemovePolicy(ctx context.Context, version, id, actor string) (*policy.Bundle, error) {
	return r.editDraft(ctx, version, actor, "remove policy", func(b *policy.Bundle) error {
		for i := range b.Policies {
			if b.Policies[i].ID == id {
				b.Policies = append(b.Policies[:i], b.Policies[i+1:]...)
				return nil
			}
		}
		return &policy.NotFoundError{Kind: "policy", ID: id}
	})
}

// ValidatePolicy checks p the way draft edits do.
func (r *Registry) ValidatePolicy(p policy.Policy) error {
	return r.validatePolicy(p)
}

func (r *Registry) validatePolicies(version string, ps []policy.Policy) error {
	seen := make(map[string]bool, len(ps))
	for _, p := range ps {
		if seen[p.ID] {
			return policy.NewValidationError(version, fmt.Sprintf("duplicate policy ID %q", p.ID), nil)
		}
		seen[p.ID] = true
		if err := r.validatePolicy(p); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) validatePolicy(p policy.Policy) error {
	var (
		msgs  []string
		cause error
	)
	fail := func(msg string, err error) {
		msgs = append(msgs, msg)
		if cause == nil {
			cause = err
		}
	}

	subject := p.ID
	if p.ID == "" {
		subject = "policy"
		fail("id is required", nil)
	}
	if err := r.validator.Validate(p.Condition); err != nil {
		fail("condition: "+err.Error(), err)
	}
	switch {
	case p.ActionType == "":
		fail("action_type is required", nil)
	case r.knownType != nil && !r.knownType(p.ActionType):
		fail(fmt.Sprintf("unknown action type %q", p.ActionType), nil)
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		fail(fmt.Sprintf("confidence_threshold %v is outside [0,1]", p.ConfidenceThreshold), nil)
	}
	if p.Scorer != "" && r.knownScr != nil && !r.knownScr(p.Scorer) {
		fail(fmt.Sprintf("unknown scorer %q", p.Scorer), nil)
	}

	if len(msgs) == 0 {
		return nil
	}
	return &policy.ValidationError{Subject: subject, Errors: msgs, Cause: cause}
}

// IsImmutable reports whether err was caused by editing a non-draft bundle.
func IsImmutable(err error) bool {
	return errors.Is(err, policy.ErrImmutable)
}
