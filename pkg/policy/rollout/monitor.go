package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"jobmail-hq/governor/pkg/config"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/policy/registry"
	"jobmail-hq/governor/pkg/schedule"
)

// MonitorActor is the audit actor of automatic rollbacks.
const MonitorActor = "system:rollout-monitor"

// Registry is the part of the bundle registry the monitor uses. Rollbacks
// go through the same entry point operators use.
type Registry interface {
	Active() *policy.Bundle
	Canary() *policy.Bundle
	Current() string
	Rollback(ctx context.Context, req registry.RollbackRequest) (*registry.RollbackResult, error)
}

// Monitor enforces quality gates before promotion and rolls back live
// bundles whose rolling metrics breach a trigger. It only reads samples;
// every change goes through Registry.Rollback.
type Monitor struct {
	reg       Registry
	samples   *Samples
	gates     config.GateConfig
	triggers  config.TriggerConfig
	scheduler *schedule.Scheduler
	logger    *slog.Logger
}

// NewMonitor creates a monitor. When cfg.MonitorEnabled is false the
// monitor still checks gates but Start does nothing.
func NewMonitor(reg Registry, samples *Samples, cfg config.RolloutConfig, logger *slog.Logger) (*Monitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		reg:      reg,
		samples:  samples,
		gates:    cfg.Gates,
		triggers: cfg.Triggers,
		logger:   logger.With("component", "policy.rollout"),
	}
	if cfg.MonitorEnabled == nil || *cfg.MonitorEnabled {
		spec := cfg.MonitorSchedule
		if spec == "" {
			spec = config.DefaultRolloutMonitorSchedule
		}
		s, err := schedule.New("rollout-monitor", spec, m.Check, logger)
		if err != nil {
			return nil, err
		}
		m.scheduler = s
	}
	return m, nil
}

// Start runs Check on the configured schedule until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	if m.scheduler == nil {
		m.logger.Info("rollout monitor disabled")
		return nil
	}
	return m.scheduler.Start(ctx)
}

// Stop stops the schedule.
func (m *Monitor) Stop() {
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
}

// CheckGates returns a *GateError when version does not pass the
// promotion gates over the current window.
func (m *Monitor) CheckGates(_ context.Context, version string) error {
	c := m.samples.Counts(version)
	var breaches []Breach

	if d := c.Decisions(); d < int64(m.gates.MinSampleSize) {
		breaches = append(breaches, Breach{
			Version: version, Metric: MetricSampleSize,
			Value: float64(d), Threshold: float64(m.gates.MinSampleSize), Samples: d,
		})
	}
	if v := c.ErrorRate(); c.Executions > 0 && v > m.gates.MaxErrorRate {
		breaches = append(breaches, Breach{
			Version: version, Metric: MetricErrorRate,
			Value: v, Threshold: m.gates.MaxErrorRate, Samples: c.Executions,
		})
	}
	if v := c.DenyRate(); c.Decisions() > 0 && v > m.gates.MaxDenyRate {
		breaches = append(breaches, Breach{
			Version: version, Metric: MetricDenyRate,
			Value: v, Threshold: m.gates.MaxDenyRate, Samples: c.Decisions(),
		})
	}
	if v, ok := m.costDelta(version, c); ok && v > m.gates.MaxCostDelta {
		breaches = append(breaches, Breach{
			Version: version, Metric: MetricCostDelta,
			Value: v, Threshold: m.gates.MaxCostDelta, Samples: c.Executions,
		})
	}

	if len(breaches) > 0 {
		return &GateError{Version: version, Breaches: breaches}
	}
	return nil
}

// costDelta compares version against the active bundle. The active bundle
// has no baseline of its own.
func (m *Monitor) costDelta(version string, c Counts) (float64, bool) {
	active := m.reg.Active()
	if active == nil || active.Version == version {
		return 0, false
	}
	return costDelta(c, m.samples.Counts(active.Version))
}

// Breaches returns the rollback triggers version currently breaches, in a
// fixed order. A trigger only fires once its denominator reaches the
// configured minimum. The zero-match trigger only applies to a canary: most
// mail matches no policy, so a high no-match rate on the active bundle is
// its normal state and carries no signal without a baseline.
func (m *Monitor) Breaches(version string) []Breach {
	c := m.samples.Counts(version)
	minN := int64(m.triggers.MinSamples)
	var out []Breach

	if c.Executions >= minN {
		if v := c.ErrorRate(); v > m.triggers.ErrorRate {
			out = append(out, Breach{Version: version, Metric: MetricErrorRate, Value: v, Threshold: m.triggers.ErrorRate, Samples: c.Executions})
		}
		if v, ok := m.costDelta(version, c); ok && v > m.triggers.CostDelta {
			out = append(out, Breach{Version: version, Metric: MetricCostDelta, Value: v, Threshold: m.triggers.CostDelta, Samples: c.Executions})
		}
	}
	if d := c.Decisions(); d >= minN {
		if v := c.DenyRate(); v > m.triggers.DenyRate {
			out = append(out, Breach{Version: version, Metric: MetricDenyRate, Value: v, Threshold: m.triggers.DenyRate, Samples: d})
		}
	}
	if canary := m.reg.Canary(); canary != nil && canary.Version == version && c.Evaluations >= minN {
		if v := c.ZeroMatchRate(); v > m.triggers.ZeroMatchRate {
			out = append(out, Breach{Version: version, Metric: MetricZeroMatchRate, Value: v, Threshold: m.triggers.ZeroMatchRate, Samples: c.Evaluations})
		}
	}
	return out
}

// Check runs one monitoring pass: the canary first, then the active
// bundle. The first breached trigger of a bundle rolls it back.
func (m *Monitor) Check(ctx context.Context) error {
	var errs []error
	for _, b := range []*policy.Bundle{m.reg.Canary(), m.reg.Active()} {
		if b == nil {
			continue
		}
		if err := m.checkBundle(ctx, b.Version); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Monitor) checkBundle(ctx context.Context, version string) error {
	breaches := m.Breaches(version)
	if len(breaches) == 0 {
		return nil
	}
	br := breaches[0]
	meta := br.metadata()
	if len(breaches) > 1 {
		meta["breaches"] = fmt.Sprint(len(breaches))
	}

	res, err := m.reg.Rollback(ctx, registry.RollbackRequest{
		Version:  version,
		Expected: m.reg.Current(),
		Actor:    MonitorActor,
		Reason:   br.Reason(),
		Trigger:  br.Metric,
		Metadata: meta,
	})

	var (
		rerr     *policy.RollbackError
		conflict *policy.ConflictError
	)
	switch {
	case errors.As(err, &rerr):
		m.logger.ErrorContext(ctx, "automatic rollback found no known-good bundle",
			"bundle_version", version,
			"metric", br.Metric,
			"value", br.Value,
			"error", err,
		)
		return err
	case errors.As(err, &conflict):
		// The registry changed under us; the next pass sees the new state.
		m.logger.WarnContext(ctx, "automatic rollback raced a concurrent change",
			"bundle_version", version,
			"error", err,
		)
		return nil
	case err != nil:
		return fmt.Errorf("rollback %s: %w", version, err)
	}

	m.logger.WarnContext(ctx, "automatic rollback",
		"bundle_version", version,
		"metric", br.Metric,
		"value", br.Value,
		"threshold", br.Threshold,
		"samples", br.Samples,
		"restored", restoredVersion(res),
	)
	return nil
}

func restoredVersion(res *registry.RollbackResult) string {
	if res == nil || res.Restored == nil {
		return ""
	}
	return res.Restored.Version
}
