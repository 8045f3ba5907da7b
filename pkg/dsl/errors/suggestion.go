package errors

import (
	"fmt"
	"strings"
)

var knownOperators = []string{
	"all", "any", "not",
	"eq", "neq", "lt", "lte", "gt", "gte", "in", "regex", "exists",
}

// SuggestOperator suggests the closest known operator for an unknown one.
func SuggestOperator(unknown string) string {
	return suggest(unknown, knownOperators, "Valid operators")
}

// SuggestActionType suggests the closest registered action type.
func SuggestActionType(unknown string, validActions []string) string {
	return suggest(unknown, validActions, "Valid action types")
}

func suggest(unknown string, candidates []string, label string) string {
	if len(candidates) == 0 {
		return ""
	}

	minDistance := 1000
	var bestMatch string
	for _, c := range candidates {
		if dist := levenshteinDistance(unknown, c); dist < minDistance {
			minDistance = dist
			bestMatch = c
		}
	}

	// Short names make every candidate "close", so scale the cutoff.
	if minDistance <= max(1, len(unknown)/3) {
		return fmt.Sprintf("did you mean %q?", bestMatch)
	}
	return fmt.Sprintf("%s: %s", label, strings.Join(candidates, ", "))
}

// levenshteinDistance computes the edit distance between two strings.
func levenshteinDistance(s1, s2 string) int {
	if s1 == s2 {
		return 0
	}

	len1, len2 := len(s1), len(s2)
	prev := make([]int, len2+1)
	curr := make([]int, len2+1)
	for j := 0; j <= len2; j++ {
		prev[j] = j
	}

	for i := 1; i <= len1; i++ {
		curr[0] = i
		for j := 1; j <= len2; j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len2]
}
