// Package registry holds policy bundles and moves them through the staged
// rollout: draft, canary_10, canary_50, active and archived.
//
// Evaluation paths call SelectBundle, which reads an atomic snapshot and
// never blocks. Writers (draft edits, promotion, rollback) are serialized,
// carry the caller's view of the active version, and fail with a
// policy.ConflictError when that view is stale:
//
//	cur := reg.Current()
//	if _, err := reg.Promote(ctx, "1.4.0", cur, "alice"); err != nil {
//		var conflict *policy.ConflictError
//		if errors.As(err, &conflict) {
//			// re-read and retry
//		}
//	}
//
// Canary routing hashes the resource ID with xxhash64 into 100 buckets, so
// a resource keeps its bundle for as long as the canary percentage is
// unchanged.
package registry
