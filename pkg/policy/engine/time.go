package engine

import (
	"time"

	"jobmail-hq/governor/pkg/dsl/ast"
)

// timestampLayouts are tried in order when coercing strings.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// parseTimestamp parses an ISO-8601 string. Strings without a zone are read
// as UTC.
func parseTimestamp(s string) (time.Time, bool) {
	if len(s) < len(time.DateOnly) {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// asTime returns v as a timestamp, coercing strings.
func asTime(v Value) (time.Time, bool) {
	switch v.Type {
	case ast.ValueTypeTimestamp:
		return v.Time, true
	case ast.ValueTypeString:
		return parseTimestamp(v.Str)
	}
	return time.Time{}, false
}

// resolveNow replaces the "now" literal with the evaluation instant.
func resolveNow(v Value, now time.Time) Value {
	if v.IsNow() {
		return ast.Timestamp(now)
	}
	return v
}
