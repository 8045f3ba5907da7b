package query

import (
	"errors"
	"testing"
	"time"

	"jobmail-hq/governor/pkg/evidence"
)

func TestValidate(t *testing.T) {
	now := time.Now()
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name    string
		query   *evidence.Query
		wantErr bool
	}{
		{"valid query with all filters", &evidence.Query{
			StartTime: &past, EndTime: &now, Actor: "alice", ActionID: "a1",
			Event: evidence.EventApproved, Outcome: evidence.OutcomeSuccess,
			Limit: 100, SortOrder: "desc",
		}, false},
		{"empty query", &evidence.Query{}, false},
		{"negative limit", &evidence.Query{Limit: -1}, true},
		{"limit exceeds max", &evidence.Query{Limit: MaxLimit + 1}, true},
		{"negative offset", &evidence.Query{Offset: -1}, true},
		{"invalid sort order", &evidence.Query{SortOrder: "sideways"}, true},
		{"inverted time range", &evidence.Query{StartTime: &now, EndTime: &past}, true},
		{"unknown event", &evidence.Query{Event: "deleted"}, true},
		{"unknown outcome", &evidence.Query{Outcome: "partial"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.query)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var qe *evidence.QueryError
				if !errors.As(err, &qe) {
					t.Errorf("Validate() error type = %T, want *evidence.QueryError", err)
				}
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	q := &evidence.Query{}
	ApplyDefaults(q)
	if q.Limit != DefaultLimit || q.SortOrder != "desc" {
		t.Errorf("ApplyDefaults() = %+v", q)
	}

	q = &evidence.Query{Limit: 5, SortOrder: "asc"}
	ApplyDefaults(q)
	if q.Limit != 5 || q.SortOrder != "asc" {
		t.Errorf("ApplyDefaults() overwrote explicit values: %+v", q)
	}

	q = &evidence.Query{}
	ApplyDefaultsWithLimit(q, 25)
	if q.Limit != 25 {
		t.Errorf("ApplyDefaultsWithLimit() limit = %d, want 25", q.Limit)
	}
}
