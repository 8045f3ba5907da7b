package metrics

import (
	"sync"
	"time"

	"jobmail-hq/governor/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMaxBundleLabels bounds the number of distinct bundle versions used as
// label values before new versions are folded into "other".
const DefaultMaxBundleLabels = 256

// Collector owns every Prometheus metric emitted by the governor. All Record
// methods are safe to call on a nil *Collector, which records nothing; this
// lets components run without metrics in tests.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	policyMetrics  *PolicyMetrics
	actionMetrics  *ActionMetrics
	rolloutMetrics *RolloutMetrics

	bundleLabels *CardinalityLimiter
}

// NewCollector creates a collector and registers its metrics with registry.
// If registry is nil, a fresh registry is created.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	router.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg == nil {
		cfg = &config.MetricsConfig{}
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.EvaluationDurationBuckets) == 0 {
		// Evaluation is in-memory: 10µs to ~80ms.
		cfg.EvaluationDurationBuckets = prometheus.ExponentialBuckets(0.00001, 2, 14)
	}
	if len(cfg.ExecutionDurationBuckets) == 0 {
		// Executors call out to mailboxes and webhooks, bounded by the 30s timeout.
		cfg.ExecutionDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	}

	return &Collector{
		config:         cfg,
		registry:       registry,
		policyMetrics:  NewPolicyMetrics(cfg, registry),
		actionMetrics:  NewActionMetrics(cfg, registry),
		rolloutMetrics: NewRolloutMetrics(cfg, registry),
		bundleLabels:   NewCardinalityLimiter(DefaultMaxBundleLabels),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.IsEnabled()
}

func (c *Collector) bundleLabel(version string) string {
	if !c.bundleLabels.Allow(version) {
		return "other"
	}
	return version
}

// RecordEvaluation records one bundle evaluation.
//
// Parameters:
//   - bundle: Bundle version that was evaluated
//   - result: "match" or "no_match"
//   - duration: Time spent evaluating the bundle
func (c *Collector) RecordEvaluation(bundle, result string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.policyMetrics.RecordEvaluation(c.bundleLabel(bundle), result, duration)
}

// RecordProposed records a newly proposed action.
func (c *Collector) RecordProposed(actionType string) {
	if !c.enabled() {
		return
	}
	c.actionMetrics.proposedTotal.WithLabelValues(actionType).Inc()
}

// RecordApproved records a pending action that was approved.
func (c *Collector) RecordApproved(actionType string) {
	if !c.enabled() {
		return
	}
	c.actionMetrics.approvedTotal.WithLabelValues(actionType).Inc()
}

// RecordRejected records a pending action that was rejected.
func (c *Collector) RecordRejected(actionType string) {
	if !c.enabled() {
		return
	}
	c.actionMetrics.rejectedTotal.WithLabelValues(actionType).Inc()
}

// RecordExecution records the terminal outcome of an executor run.
//
// Parameters:
//   - actionType: Action type that was dispatched
//   - outcome: "success" or "failure"
//   - duration: Wall time including the retry, if any
func (c *Collector) RecordExecution(actionType, outcome string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.actionMetrics.RecordExecution(actionType, outcome, duration)
}

// RecordExecutionRetry records a transient executor failure that was retried.
func (c *Collector) RecordExecutionRetry(actionType string) {
	if !c.enabled() {
		return
	}
	c.actionMetrics.retriesTotal.WithLabelValues(actionType).Inc()
}

// RecordExecutionThrottled records an attempt that had to wait for its
// action type's rate limit.
func (c *Collector) RecordExecutionThrottled(actionType string) {
	if !c.enabled() {
		return
	}
	c.actionMetrics.throttledTotal.WithLabelValues(actionType).Inc()
}

// RecordRollback records a bundle rollback. trigger is the metric that
// caused it ("error_rate", "deny_rate", ...) or "manual".
func (c *Collector) RecordRollback(trigger string) {
	if !c.enabled() {
		return
	}
	c.rolloutMetrics.rolledBackTotal.WithLabelValues(trigger).Inc()
}

// RecordPromotion records a bundle entering a new stage.
func (c *Collector) RecordPromotion(to string) {
	if !c.enabled() {
		return
	}
	c.rolloutMetrics.promotionsTotal.WithLabelValues(to).Inc()
}

// RecordRollbackEscalation records a rollback that could not find a
// known-good bundle and needs an operator.
func (c *Collector) RecordRollbackEscalation() {
	if !c.enabled() {
		return
	}
	c.rolloutMetrics.escalationsTotal.Inc()
}

// RecordImport records a signed bundle import attempt. result is "success"
// or the import failure reason.
func (c *Collector) RecordImport(result string) {
	if !c.enabled() {
		return
	}
	c.rolloutMetrics.importsTotal.WithLabelValues(result).Inc()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter bounds the number of unique label values tracked.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether labelSet may be used. Known label sets are always
// allowed; new ones are admitted until the limit is reached.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
