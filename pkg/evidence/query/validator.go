package query

import (
	"fmt"

	"jobmail-hq/governor/pkg/evidence"
)

const (
	// DefaultLimit is the default number of records to return if not specified.
	DefaultLimit = 100

	// MaxLimit is the maximum number of records that can be returned in a single query.
	MaxLimit = 10000
)

// ValidSortOrders contains the valid sort orders.
var ValidSortOrders = map[string]bool{
	"asc":  true,
	"desc": true,
}

// Validate validates a query and returns an *evidence.QueryError if any
// parameter is invalid.
func Validate(q *evidence.Query) error {
	if q.Limit < 0 {
		return evidence.NewQueryError(q, fmt.Errorf("limit must be >= 0, got %d", q.Limit))
	}
	if q.Limit > MaxLimit {
		return evidence.NewQueryError(q, fmt.Errorf("limit must be <= %d, got %d", MaxLimit, q.Limit))
	}
	if q.Offset < 0 {
		return evidence.NewQueryError(q, fmt.Errorf("offset must be >= 0, got %d", q.Offset))
	}

	if q.SortOrder != "" && !ValidSortOrders[q.SortOrder] {
		return evidence.NewQueryError(q, fmt.Errorf("invalid sort order: %s (must be 'asc' or 'desc')", q.SortOrder))
	}

	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return evidence.NewQueryError(q, fmt.Errorf("start_time must be before end_time"))
	}

	if q.Event != "" && !q.Event.Valid() {
		return evidence.NewQueryError(q, fmt.Errorf("invalid event: %s", q.Event))
	}
	if q.Outcome != "" && !q.Outcome.Valid() {
		return evidence.NewQueryError(q, fmt.Errorf("invalid outcome: %s (must be 'success', 'failure', or 'noop')", q.Outcome))
	}

	return nil
}

// ApplyDefaults applies the default limit and sort order.
func ApplyDefaults(q *evidence.Query) {
	ApplyDefaultsWithLimit(q, DefaultLimit)
}

// ApplyDefaultsWithLimit is ApplyDefaults with a configured default limit.
func ApplyDefaultsWithLimit(q *evidence.Query, limit int) {
	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}
	if q.Limit == 0 {
		q.Limit = limit
	}
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}
}
