package metrics

import (
	"time"

	"jobmail-hq/governor/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// PolicyMetrics tracks bundle evaluations.
//
// Metrics:
//   - governor_evaluations_total{bundle,result}
//   - governor_evaluation_duration_seconds{bundle}
type PolicyMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
}

// NewPolicyMetrics creates and registers policy metrics with the provided registry.
func NewPolicyMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PolicyMetrics {
	pm := &PolicyMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluations_total",
				Help:      "Total number of bundle evaluations by result",
			},
			[]string{"bundle", "result"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of bundle evaluation in seconds",
				Buckets:   cfg.EvaluationDurationBuckets,
			},
			[]string{"bundle"},
		),
	}

	registry.MustRegister(pm.evaluationsTotal, pm.evaluationDuration)
	return pm
}

// RecordEvaluation records one evaluation of bundle with the given result.
func (pm *PolicyMetrics) RecordEvaluation(bundle, result string, duration time.Duration) {
	pm.evaluationsTotal.WithLabelValues(bundle, result).Inc()
	pm.evaluationDuration.WithLabelValues(bundle).Observe(duration.Seconds())
}
