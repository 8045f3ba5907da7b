package engine

import (
	"sort"

	"jobmail-hq/governor/pkg/policy"
)

// SortPolicies returns the enabled policies of ps in evaluation order:
// ascending priority, ties broken by ascending ID. The input is not modified.
func SortPolicies(ps []policy.Policy) []policy.Policy {
	out := make([]policy.Policy, 0, len(ps))
	for _, p := range ps {
		if p.Enabled {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}
