package metrics

import (
	"time"

	"jobmail-hq/governor/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// ActionMetrics tracks the proposed action workflow.
//
// Metrics:
//   - governor_actions_proposed_total{action_type}
//   - governor_actions_approved_total{action_type}
//   - governor_actions_rejected_total{action_type}
//   - governor_actions_executed_total{action_type,outcome}
//   - governor_action_execution_retries_total{action_type}
//   - governor_action_execution_throttled_total{action_type}
//   - governor_action_execution_duration_seconds{action_type}
type ActionMetrics struct {
	proposedTotal     *prometheus.CounterVec
	approvedTotal     *prometheus.CounterVec
	rejectedTotal     *prometheus.CounterVec
	executedTotal     *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	throttledTotal    *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
}

func newActionCounter(cfg *config.MetricsConfig, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewActionMetrics creates and registers action metrics with the provided registry.
func NewActionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ActionMetrics {
	am := &ActionMetrics{
		proposedTotal: newActionCounter(cfg, "actions_proposed_total",
			"Total number of proposed actions", "action_type"),
		approvedTotal: newActionCounter(cfg, "actions_approved_total",
			"Total number of approved actions", "action_type"),
		rejectedTotal: newActionCounter(cfg, "actions_rejected_total",
			"Total number of rejected actions", "action_type"),
		executedTotal: newActionCounter(cfg, "actions_executed_total",
			"Total number of executor runs by outcome", "action_type", "outcome"),
		retriesTotal: newActionCounter(cfg, "action_execution_retries_total",
			"Total number of transient executor failures retried", "action_type"),
		throttledTotal: newActionCounter(cfg, "action_execution_throttled_total",
			"Total number of executor attempts that waited on a rate limit", "action_type"),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "action_execution_duration_seconds",
				Help:      "Duration of action execution in seconds",
				Buckets:   cfg.ExecutionDurationBuckets,
			},
			[]string{"action_type"},
		),
	}

	registry.MustRegister(
		am.proposedTotal,
		am.approvedTotal,
		am.rejectedTotal,
		am.executedTotal,
		am.retriesTotal,
		am.throttledTotal,
		am.executionDuration,
	)
	return am
}

// RecordExecution records an executor outcome and its duration.
func (am *ActionMetrics) RecordExecution(actionType, outcome string, duration time.Duration) {
	am.executedTotal.WithLabelValues(actionType, outcome).Inc()
	am.executionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}
