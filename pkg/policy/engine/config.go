package engine

import (
	"fmt"
	"log/slog"

	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/telemetry/metrics"
)

// EngineConfig contains configuration for the evaluation engine.
type EngineConfig struct {
	// Clock resolves "now". Default: the system clock.
	Clock clock.Clock

	// DefaultScorer is used by policies that name no scorer.
	// Default: "match_ratio".
	DefaultScorer string

	// Scorers adds or overrides named scorers.
	Scorers map[string]Scorer

	// Logger for structured logging. Default: slog.Default().
	Logger *slog.Logger

	// Metrics records evaluation counts and durations. Optional.
	Metrics *metrics.Collector
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Clock:         clock.Real(),
		DefaultScorer: ScorerMatchRatio,
	}
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	if c.DefaultScorer == "" {
		return nil
	}
	if _, ok := defaultScorers()[c.DefaultScorer]; ok {
		return nil
	}
	if _, ok := c.Scorers[c.DefaultScorer]; ok {
		return nil
	}
	return fmt.Errorf("unknown default scorer %q", c.DefaultScorer)
}
