package policy

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"gopkg.in/yaml.v3"

	"jobmail-hq/governor/pkg/dsl/ast"
	"jobmail-hq/governor/pkg/dsl/parser"
)

// Policy proposes one action when its condition holds.
type Policy struct {
	ID       string
	Name     string
	Enabled  bool
	Priority int // ascending: lower values are evaluated first

	Condition ast.Condition

	ActionType   string
	ActionParams map[string]any

	// ConfidenceThreshold is the minimum confidence (0-1) required for the
	// policy to match.
	ConfidenceThreshold float64

	// Reasoning is free text appended to the rationale of proposed actions.
	Reasoning string

	// Scorer names the confidence scorer; empty selects the default.
	Scorer string
}

// Clone returns a copy of p. Conditions are immutable and shared.
func (p Policy) Clone() Policy {
	p.ActionParams = maps.Clone(p.ActionParams)
	return p
}

// policyDoc is the serialized form of a Policy. The condition uses the
// compact wire form.
type policyDoc struct {
	ID                  string         `json:"id" yaml:"id"`
	Name                string         `json:"name" yaml:"name"`
	Enabled             *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Priority            int            `json:"priority" yaml:"priority"`
	Condition           any            `json:"condition" yaml:"condition"`
	ActionType          string         `json:"action_type" yaml:"action_type"`
	ActionParams        map[string]any `json:"action_params,omitempty" yaml:"action_params,omitempty"`
	ConfidenceThreshold float64        `json:"confidence_threshold" yaml:"confidence_threshold"`
	Reasoning           string         `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Scorer              string         `json:"scorer,omitempty" yaml:"scorer,omitempty"`
}

func (p Policy) toDoc() policyDoc {
	enabled := p.Enabled
	doc := policyDoc{
		ID:                  p.ID,
		Name:                p.Name,
		Enabled:             &enabled,
		Priority:            p.Priority,
		ActionType:          p.ActionType,
		ActionParams:        p.ActionParams,
		ConfidenceThreshold: p.ConfidenceThreshold,
		Reasoning:           p.Reasoning,
		Scorer:              p.Scorer,
	}
	if p.Condition != nil {
		doc.Condition = parser.Render(p.Condition)
	}
	return doc
}

func (p *Policy) fromDoc(doc policyDoc) error {
	*p = Policy{
		ID:                  doc.ID,
		Name:                doc.Name,
		Enabled:             doc.Enabled == nil || *doc.Enabled,
		Priority:            doc.Priority,
		ActionType:          doc.ActionType,
		ActionParams:        doc.ActionParams,
		ConfidenceThreshold: doc.ConfidenceThreshold,
		Reasoning:           doc.Reasoning,
		Scorer:              doc.Scorer,
	}
	if doc.Condition == nil {
		return nil
	}
	cond, err := parser.Build(doc.Condition)
	if err != nil {
		return fmt.Errorf("policy %s: condition: %w", doc.ID, err)
	}
	p.Condition = cond
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Policy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.toDoc())
}

// UnmarshalJSON implements json.Unmarshaler. A missing "enabled" means true.
func (p *Policy) UnmarshalJSON(data []byte) error {
	var doc policyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return p.fromDoc(doc)
}

// MarshalYAML implements yaml.Marshaler.
func (p Policy) MarshalYAML() (any, error) {
	return p.toDoc(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Policy) UnmarshalYAML(node *yaml.Node) error {
	var doc policyDoc
	if err := node.Decode(&doc); err != nil {
		return err
	}
	return p.fromDoc(doc)
}

// Bundle is a versioned set of policies moving through the rollout stages.
type Bundle struct {
	Version        string     `json:"version" yaml:"version"`
	Status         Status     `json:"status" yaml:"status"`
	CanaryPct      int        `json:"canary_pct" yaml:"canary_pct"`
	StageEnteredAt time.Time  `json:"stage_entered_at" yaml:"stage_entered_at"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty" yaml:"activated_at,omitempty"`
	RolledBackAt   *time.Time `json:"rolled_back_at,omitempty" yaml:"rolled_back_at,omitempty"`
	RollbackReason string     `json:"rollback_reason,omitempty" yaml:"rollback_reason,omitempty"`
	CreatedBy      string     `json:"created_by" yaml:"created_by"`
	Source         string     `json:"source,omitempty" yaml:"source,omitempty"`
	Policies       []Policy   `json:"policies" yaml:"policies"`
}

// Clone returns a deep copy of b.
func (b *Bundle) Clone() *Bundle {
	if b == nil {
		return nil
	}
	out := *b
	out.ActivatedAt = cloneTime(b.ActivatedAt)
	out.RolledBackAt = cloneTime(b.RolledBackAt)
	out.Policies = make([]Policy, len(b.Policies))
	for i, p := range b.Policies {
		out.Policies[i] = p.Clone()
	}
	return &out
}

// Policy returns the policy with the given ID.
func (b *Bundle) Policy(id string) (Policy, bool) {
	for _, p := range b.Policies {
		if p.ID == id {
			return p, true
		}
	}
	return Policy{}, false
}

// WasActive reports whether the bundle was ever the active bundle.
func (b *Bundle) WasActive() bool {
	return b.ActivatedAt != nil
}

// WasRolledBack reports whether the bundle left traffic through rollback.
func (b *Bundle) WasRolledBack() bool {
	return b.RolledBackAt != nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Document is the authoring form of a bundle as stored in git or passed to
// the CLI: a version plus policies. Lifecycle fields are owned by the
// registry and ignored on input.
type Document struct {
	Version  string   `json:"version" yaml:"version"`
	Policies []Policy `json:"policies" yaml:"policies"`
}

// ParseDocument decodes a bundle document from YAML or JSON.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse bundle document: %w", err)
	}
	if doc.Version == "" {
		return nil, NewValidationError("bundle", "version is required", nil)
	}
	if _, err := ParseVersion(doc.Version); err != nil {
		return nil, NewValidationError(doc.Version, err.Error(), err)
	}
	return &doc, nil
}
