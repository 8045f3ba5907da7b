package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/limits/ratelimit"
	"jobmail-hq/governor/pkg/telemetry/metrics"
	"jobmail-hq/governor/pkg/telemetry/tracing"
)

// DefaultTimeout bounds a single execution attempt.
const DefaultTimeout = 30 * time.Second

// maxAttempts is the first attempt plus one retry of a transient failure.
const maxAttempts = 2

// DispatcherConfig holds the optional collaborators of a Dispatcher.
type DispatcherConfig struct {
	// Timeout bounds each attempt. Zero means DefaultTimeout.
	Timeout time.Duration

	// Limiter throttles attempts per action type. The wait counts against
	// the attempt timeout. Nil means no throttling.
	Limiter *ratelimit.Limiter

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
}

// Dispatcher runs executors with a per-attempt timeout, a single retry of
// transient failures and idempotency deduplication.
type Dispatcher struct {
	registry *Registry
	ledger   Ledger
	timeout  time.Duration
	limiter  *ratelimit.Limiter
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Collector
	tracer   *tracing.Tracer
}

// NewDispatcher creates a dispatcher over a registry and ledger.
func NewDispatcher(registry *Registry, ledger Ledger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	return &Dispatcher{
		registry: registry,
		ledger:   ledger,
		timeout:  cfg.Timeout,
		limiter:  cfg.Limiter,
		clock:    clock.OrReal(cfg.Clock),
		logger:   logger.With("component", "executor"),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
	}
}

// Registry returns the executor registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Ledger returns the idempotency ledger.
func (d *Dispatcher) Ledger() Ledger {
	return d.ledger
}

// Has reports whether actionType can be dispatched.
func (d *Dispatcher) Has(actionType string) bool {
	return d.registry.Has(actionType)
}

// Execute dispatches an action. A key that already completed returns nil
// without invoking the executor. Failures are returned as *ExecutionError.
func (d *Dispatcher) Execute(ctx context.Context, actionType string, params map[string]any, key string) (err error) {
	ctx, span := d.tracer.Start(ctx, "executor.execute")
	span.SetAttributes(tracing.AttrActionType.String(actionType), tracing.AttrActionID.String(key))
	defer func() { tracing.End(span, err) }()

	if key == "" {
		return &ExecutionError{ActionType: actionType, Kind: KindPermanent, Cause: ErrMissingIdempotencyKey}
	}

	exec, ok := d.registry.Get(actionType)
	if !ok {
		return &ExecutionError{
			ActionType: actionType,
			Kind:       KindPermanent,
			Cause:      fmt.Errorf("%w: %q", ErrUnknownActionType, actionType),
		}
	}

	done, err := d.ledger.Completed(ctx, key)
	if err != nil {
		return &ExecutionError{ActionType: actionType, Kind: KindTransient, Cause: fmt.Errorf("idempotency lookup: %w", err)}
	}
	if done {
		d.logger.InfoContext(ctx, "idempotency key already completed, skipping execution",
			"action_type", actionType,
			"idempotency_key", key,
		)
		return nil
	}

	start := d.clock.Now()
	var (
		lastErr  error
		kind     ErrorKind
		attempts int
	)
	for attempts = 1; attempts <= maxAttempts; attempts++ {
		lastErr = d.attempt(ctx, actionType, exec, params, key)
		if lastErr == nil {
			break
		}
		kind = Classify(lastErr)
		span.SetAttributes(tracing.AttrAttempt.Int(attempts), tracing.AttrErrorKind.String(string(kind)))

		if kind != KindTransient || attempts == maxAttempts || ctx.Err() != nil {
			break
		}
		d.metrics.RecordExecutionRetry(actionType)
		d.logger.WarnContext(ctx, "transient execution failure, retrying",
			"action_type", actionType,
			"idempotency_key", key,
			"attempt", attempts,
			"error", lastErr,
		)
	}
	elapsed := d.clock.Now().Sub(start)

	if lastErr != nil {
		d.metrics.RecordExecution(actionType, "failure", elapsed)
		d.logger.ErrorContext(ctx, "execution failed",
			"action_type", actionType,
			"idempotency_key", key,
			"error_kind", kind,
			"attempts", attempts,
			"error", lastErr,
		)
		return &ExecutionError{
			ActionType: actionType,
			Kind:       kind,
			Attempts:   attempts,
			Cause:      lastErr,
		}
	}

	d.metrics.RecordExecution(actionType, "success", elapsed)
	if err := d.ledger.Complete(ctx, key, actionType, d.clock.Now().UTC()); err != nil {
		// The side effect happened; report success and rely on the
		// executor's own use of the key if this action is dispatched again.
		d.logger.ErrorContext(ctx, "failed to record idempotency key",
			"action_type", actionType,
			"idempotency_key", key,
			"error", err,
		)
	}
	return nil
}

// attempt runs one bounded invocation. An executor that ignores its
// context is abandoned when the timeout fires; its concurrency slot is
// held until it returns.
func (d *Dispatcher) attempt(ctx context.Context, actionType string, exec Executor, params map[string]any, key string) error {
	actx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	release, waited, err := d.limiter.Wait(actx, actionType)
	if err != nil {
		return Transient(err)
	}
	if waited > 0 {
		d.metrics.RecordExecutionThrottled(actionType)
		d.logger.DebugContext(ctx, "execution throttled",
			"action_type", actionType,
			"idempotency_key", key,
			"waited", waited,
		)
	}

	result := make(chan error, 1)
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				result <- Permanent(fmt.Errorf("executor panic: %v", r))
			}
		}()
		result <- exec.Execute(actx, params, key)
	}()

	select {
	case err := <-result:
		return err
	case <-actx.Done():
		return actx.Err()
	}
}
