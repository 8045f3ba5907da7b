package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/dsl/ast"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/telemetry/metrics"
)

// Evaluation results recorded in metrics.
const (
	ResultMatch   = "match"
	ResultNoMatch = "no_match"
)

// Engine evaluates conditions and bundles. It is immutable after New and safe
// for concurrent use.
type Engine struct {
	clock         clock.Clock
	scorers       map[string]Scorer
	defaultScorer string
	regexes       *regexCache
	logger        *slog.Logger
	metrics       *metrics.Collector
}

// New creates an engine. A nil config uses DefaultEngineConfig.
func New(cfg *EngineConfig) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultEngineConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	scorers := defaultScorers()
	for name, s := range cfg.Scorers {
		scorers[name] = s
	}
	defaultScorer := cfg.DefaultScorer
	if defaultScorer == "" {
		defaultScorer = ScorerMatchRatio
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		clock:         clock.OrReal(cfg.Clock),
		scorers:       scorers,
		defaultScorer: defaultScorer,
		regexes:       &regexCache{},
		logger:        logger.With("component", "policy.engine"),
		metrics:       cfg.Metrics,
	}, nil
}

// NewDefault creates an engine with the given clock and default settings.
func NewDefault(c clock.Clock) *Engine {
	e, _ := New(&EngineConfig{Clock: c, DefaultScorer: ScorerMatchRatio})
	return e
}

// HasScorer reports whether name is a known scorer. The empty name selects
// the default and is always known.
func (e *Engine) HasScorer(name string) bool {
	if name == "" {
		return true
	}
	_, ok := e.scorers[name]
	return ok
}

// Score computes the confidence of p for ctx regardless of whether its
// condition holds.
func (e *Engine) Score(p policy.Policy, ctx Context) float64 {
	return e.score(p, e.newEvaluation(ctx))
}

func (e *Engine) score(p policy.Policy, ev *evaluation) float64 {
	name := p.Scorer
	if name == "" {
		name = e.defaultScorer
	}
	scorer, ok := e.scorers[name]
	if !ok {
		scorer = e.scorers[e.defaultScorer]
	}
	s := scorer.Score(p.Condition, ev.leaf)
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// EvaluateBundle returns the first enabled policy of b, by ascending priority
// and then ID, whose condition holds for ctx with confidence at or above its
// threshold. The second result is false when no policy matches.
func (e *Engine) EvaluateBundle(b *policy.Bundle, ctx Context) (Match, bool) {
	return e.evaluateBundle(b, ctx, true)
}

// DryRun evaluates b like EvaluateBundle without recording metrics. It is
// used to test draft bundles.
func (e *Engine) DryRun(b *policy.Bundle, ctx Context) (Match, bool) {
	return e.evaluateBundle(b, ctx, false)
}

func (e *Engine) evaluateBundle(b *policy.Bundle, ctx Context, record bool) (Match, bool) {
	if b == nil {
		return Match{}, false
	}
	start := time.Now()

	ev := e.newEvaluation(ctx)
	for _, p := range SortPolicies(b.Policies) {
		var matched []ast.Condition
		if p.Condition == nil || !ev.trace(p.Condition, &matched) {
			continue
		}
		confidence := e.score(p, ev)
		if confidence < p.ConfidenceThreshold {
			e.logger.Debug("policy matched below confidence threshold",
				"bundle_version", b.Version,
				"policy_id", p.ID,
				"confidence", confidence,
				"threshold", p.ConfidenceThreshold,
			)
			continue
		}

		if record {
			e.metrics.RecordEvaluation(b.Version, ResultMatch, time.Since(start))
		}
		return Match{
			BundleVersion: b.Version,
			Policy:        p,
			Confidence:    confidence,
			Matched:       matched,
			Rationale:     Rationale(p, matched),
		}, true
	}

	if record {
		e.metrics.RecordEvaluation(b.Version, ResultNoMatch, time.Since(start))
	}
	return Match{}, false
}

// Rationale renders the human-readable explanation of a match: the matched
// sub-conditions followed by the policy's reasoning.
func Rationale(p policy.Policy, matched []ast.Condition) string {
	parts := make([]string, len(matched))
	for i, c := range matched {
		parts[i] = c.String()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("policy %s matched: %s", p.ID, strings.Join(parts, "; ")))
	if p.Reasoning != "" {
		sb.WriteString(". ")
		sb.WriteString(p.Reasoning)
	}
	return sb.String()
}
