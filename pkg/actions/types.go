package actions

import (
	"context"
	"maps"
	"time"

	"jobmail-hq/governor/pkg/policy/engine"
)

// Status is the lifecycle state of a proposed action.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExecuted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusExecuted || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusExecuted || to == StatusFailed
	}
	return false
}

// ProposedAction is an action suggested by a policy match, waiting for or
// having received a human decision.
type ProposedAction struct {
	ID            string         `json:"id"`
	ResourceID    string         `json:"resource_id"`
	PolicyID      string         `json:"policy_id"`
	BundleVersion string         `json:"bundle_version"`
	ActionType    string         `json:"action_type"`
	ActionParams  map[string]any `json:"action_params,omitempty"`
	Confidence    float64        `json:"confidence"`
	Rationale     string         `json:"rationale"`
	Status        Status         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	DecidedAt     *time.Time     `json:"decided_at,omitempty"`
	DecidedBy     string         `json:"decided_by,omitempty"`
	ExecutedAt    *time.Time     `json:"executed_at,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Clone returns a copy of a that shares nothing mutable with it.
func (a *ProposedAction) Clone() *ProposedAction {
	if a == nil {
		return nil
	}
	out := *a
	out.ActionParams = maps.Clone(a.ActionParams)
	if a.DecidedAt != nil {
		t := *a.DecidedAt
		out.DecidedAt = &t
	}
	if a.ExecutedAt != nil {
		t := *a.ExecutedAt
		out.ExecutedAt = &t
	}
	return &out
}

// Resource is one item to evaluate: an ID used for routing and
// idempotency plus its attribute context.
type Resource struct {
	ID      string         `json:"id"`
	Context engine.Context `json:"context"`
}

// ResourceSource resolves a search query into resources. It is implemented
// outside the governor (mail index, search service).
type ResourceSource interface {
	Resolve(ctx context.Context, query string) ([]Resource, error)
}

// ResourceSourceFunc adapts a function to ResourceSource.
type ResourceSourceFunc func(ctx context.Context, query string) ([]Resource, error)

// Resolve calls f.
func (f ResourceSourceFunc) Resolve(ctx context.Context, query string) ([]Resource, error) {
	return f(ctx, query)
}

// TestResult is the outcome of a dry run for one context.
type TestResult struct {
	Index      int     `json:"index"`
	Matched    bool    `json:"matched"`
	PolicyID   string  `json:"policy_id,omitempty"`
	ActionType string  `json:"action_type,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`
}

// ProposeResult summarizes one Propose call.
type ProposeResult struct {
	Proposed  []*ProposedAction `json:"proposed"`
	NoMatch   []string          `json:"no_match"`
	Evaluated int               `json:"evaluated"`
}
