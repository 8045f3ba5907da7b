// Package telemetry groups the governor's observability packages.
//
//   - logging: slog construction from configuration, with redaction of
//     mailbox addresses and credentials
//   - metrics: Prometheus counters and histograms for evaluation, the action
//     workflow and rollouts
//   - tracing: OpenTelemetry spans around evaluation, approval and execution
//   - health: liveness and readiness checks, where readiness requires an
//     active bundle
//
// Every component takes these as optional collaborators. A nil metrics
// collector or tracer records nothing, and logging.Discard() silences
// tests.
package telemetry
