// Package policy defines policies, policy bundles and the bundle lifecycle.
//
// A Policy pairs a condition tree with the action it proposes. Policies are
// grouped into versioned Bundles that move through a staged rollout:
//
//	draft -> canary_10 -> canary_50 -> active -> archived
//
// Bundles move forward only by promotion and backward only by rollback.
// Policies are editable while their bundle is a draft and immutable after.
//
// Subpackages:
//   - engine: condition evaluation, confidence scoring, first-match selection
//   - registry: bundle storage, canary routing, promotion and rollback
//   - rollout: quality gates and the auto-rollback monitor
//   - gitsource: draft bundles loaded from a git repository
package policy
