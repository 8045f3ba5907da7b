// Package rollout watches live bundles and protects production traffic.
//
// The action workflow feeds Samples with evaluation, decision and execution
// outcomes per bundle version. Monitor reads them over a rolling window to
// answer two questions:
//
//   - CheckGates: may a canary be promoted? (sample size, error rate,
//     deny rate and cost delta against the active bundle)
//   - Check: has a live bundle breached a rollback trigger? If so it calls
//     Registry.Rollback as system:rollout-monitor, the same entry point an
//     operator uses.
//
// Check runs on a cron schedule (default "@every 1m").
package rollout
