package metrics

import (
	"jobmail-hq/governor/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RolloutMetrics tracks bundle lifecycle transitions.
//
// Metrics:
//   - governor_bundles_rolled_back_total{trigger}
//   - governor_bundle_promotions_total{to}
//   - governor_rollback_escalations_total
//   - governor_bundle_imports_total{result}
type RolloutMetrics struct {
	rolledBackTotal  *prometheus.CounterVec
	promotionsTotal  *prometheus.CounterVec
	escalationsTotal prometheus.Counter
	importsTotal     *prometheus.CounterVec
}

// NewRolloutMetrics creates and registers rollout metrics with the provided registry.
func NewRolloutMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RolloutMetrics {
	rm := &RolloutMetrics{
		rolledBackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "bundles_rolled_back_total",
				Help:      "Total number of bundle rollbacks by triggering metric",
			},
			[]string{"trigger"},
		),
		promotionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "bundle_promotions_total",
				Help:      "Total number of bundle promotions by target stage",
			},
			[]string{"to"},
		),
		escalationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rollback_escalations_total",
				Help:      "Total number of rollbacks that found no known-good bundle",
			},
		),
		importsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "bundle_imports_total",
				Help:      "Total number of signed bundle imports by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(rm.rolledBackTotal, rm.promotionsTotal, rm.escalationsTotal, rm.importsTotal)
	return rm
}
