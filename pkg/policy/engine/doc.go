// Package engine evaluates policy conditions against resource contexts.
//
// Evaluation is pure and total: an unknown field makes exists false and every
// other comparator false, incompatible types compare false, and nothing
// panics. The literal "now" is resolved from the engine's clock once per
// Evaluate call and never cached across calls.
//
// # Coercion
//
// RFC 3339 strings (and date-only "2006-01-02" strings) are coerced to
// timestamps when compared against a timestamp, or against "now". Two
// strings that both parse as timestamps compare chronologically under
// ordering operators; otherwise strings compare lexically.
//
// # Regular expressions
//
// regex is anchored against the whole field value. Compiled patterns are
// cached in a sync.Map shared by all goroutines.
//
// # Bundle evaluation
//
// EvaluateBundle walks enabled policies by ascending priority (ties broken by
// policy ID) and returns the first policy whose condition holds and whose
// confidence reaches its threshold. Confidence comes from a pluggable Scorer;
// the default "match_ratio" scorer weighs matched comparators along the tree.
//
// Evaluation takes no locks on the hot path and never mutates conditions or
// contexts, so one Engine may be shared by any number of goroutines.
package engine
