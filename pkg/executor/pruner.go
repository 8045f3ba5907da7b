package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/schedule"
)

// DefaultRetention is how long completed idempotency keys are kept.
const DefaultRetention = 30 * 24 * time.Hour

// Pruner removes stale idempotency keys on a cron schedule.
type Pruner struct {
	ledger    Ledger
	retention time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	scheduler *schedule.Scheduler
}

// NewPruner creates a pruner that runs on spec (standard cron syntax or
// "@every"). A non-positive retention uses DefaultRetention.
func NewPruner(ledger Ledger, retention time.Duration, spec string, clk clock.Clock, logger *slog.Logger) (*Pruner, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pruner{
		ledger:    ledger,
		retention: retention,
		clock:     clock.OrReal(clk),
		logger:    logger.With("component", "executor.pruner"),
	}
	s, err := schedule.New("idempotency-prune", spec, p.Prune, logger)
	if err != nil {
		return nil, err
	}
	p.scheduler = s
	return p, nil
}

// Start begins scheduled pruning until ctx is cancelled.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops scheduled pruning.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// Prune removes keys older than the retention period.
func (p *Pruner) Prune(ctx context.Context) error {
	cutoff := p.clock.Now().UTC().Add(-p.retention)
	n, err := p.ledger.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune idempotency keys: %w", err)
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "pruned idempotency keys", "count", n, "cutoff", cutoff)
	}
	return nil
}
