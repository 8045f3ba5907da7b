// Package metrics provides Prometheus metrics for the governor.
//
// # Metrics
//
//   - Evaluation: governor_evaluations_total{bundle,result} and
//     governor_evaluation_duration_seconds
//   - Actions: proposed, approved, rejected and executed{outcome} counters,
//     executor retries and execution duration
//   - Rollout: rollbacks by trigger, promotions by stage, rollback
//     escalations and signed bundle imports
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordProposed("archive")
//	collector.RecordExecution("archive", "success", 120*time.Millisecond)
//
// A nil *Collector is valid and records nothing.
//
// # Cardinality
//
// Bundle versions are used as label values. After DefaultMaxBundleLabels
// distinct versions, further versions are reported as "other".
package metrics
