package evidence

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newRecord(id string, event Event, createdAt time.Time) *AuditRecord {
	return &AuditRecord{
		ID:        id,
		Actor:     "alice",
		ActionID:  "action-" + id,
		Event:     event,
		Outcome:   OutcomeSuccess,
		Metadata:  map[string]string{"k": "v"},
		CreatedAt: createdAt,
	}
}

func TestMemoryStorage_AppendOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.Append(ctx, newRecord("1", EventProposed, base)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	err := s.Append(ctx, newRecord("1", EventApproved, base))
	if !errors.Is(err, ErrAppendOnly) {
		t.Fatalf("Append() duplicate error = %v, want ErrAppendOnly", err)
	}

	got, err := s.Get(ctx, "1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Event != EventProposed {
		t.Errorf("Event = %v, want %v (original must survive)", got.Event, EventProposed)
	}
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	rec := newRecord("1", EventProposed, time.Now())
	if err := s.Append(ctx, rec); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	rec.Metadata["k"] = "mutated"
	got, _ := s.Get(ctx, "1")
	if got.Metadata["k"] != "v" {
		t.Errorf("stored metadata changed through caller's map: %v", got.Metadata)
	}

	got.Actor = "mallory"
	again, _ := s.Get(ctx, "1")
	if again.Actor != "alice" {
		t.Errorf("stored record changed through returned copy: %v", again.Actor)
	}
}

func TestMemoryStorage_GetNotFound(t *testing.T) {
	_, err := NewMemoryStorage().Get(context.Background(), "missing")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("Get() error = %v, want ErrRecordNotFound", err)
	}
}

func TestMemoryStorage_Query(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	records := []*AuditRecord{
		newRecord("a", EventProposed, base),
		newRecord("b", EventApproved, base.Add(time.Minute)),
		newRecord("c", EventExecuted, base.Add(2*time.Minute)),
		newRecord("d", EventRolledBack, base.Add(3*time.Minute)),
	}
	records[3].Actor = "system:rollout-monitor"
	records[3].BundleVersion = "1.2.0"
	for _, r := range records {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	start := base.Add(time.Minute)
	end := base.Add(2 * time.Minute)

	tests := []struct {
		name  string
		query *Query
		want  []string
	}{
		{"nil query returns all ascending", nil, []string{"a", "b", "c", "d"}},
		{"desc", &Query{SortOrder: "desc"}, []string{"d", "c", "b", "a"}},
		{"by event", &Query{Event: EventApproved}, []string{"b"}},
		{"by actor", &Query{Actor: "system:rollout-monitor"}, []string{"d"}},
		{"by bundle", &Query{BundleVersion: "1.2.0"}, []string{"d"}},
		{"by action", &Query{ActionID: "action-c"}, []string{"c"}},
		{"time range inclusive", &Query{StartTime: &start, EndTime: &end}, []string{"b", "c"}},
		{"limit", &Query{Limit: 2}, []string{"a", "b"}},
		{"offset", &Query{Offset: 3}, []string{"d"}},
		{"offset past end", &Query{Offset: 10}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, tt.query)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Query() returned %d records, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("record[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}

	count, err := s.Count(ctx, &Query{Outcome: OutcomeSuccess})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 4 {
		t.Errorf("Count() = %d, want 4", count)
	}
}

func TestMemoryStorage_QueryStream(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		if err := s.Append(ctx, newRecord(id, EventProposed, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	recordsCh, errCh, err := s.QueryStream(ctx, &Query{})
	if err != nil {
		t.Fatalf("QueryStream() error = %v", err)
	}
	var ids []string
	for r := range recordsCh {
		ids = append(ids, r.ID)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Errorf("streamed %v, want [a b c]", ids)
	}
}

func TestMemoryStorage_Closed(t *testing.T) {
	s := NewMemoryStorage()
	_ = s.Close()
	if err := s.Append(context.Background(), newRecord("1", EventProposed, time.Now())); err == nil {
		t.Fatal("Append() after Close succeeded")
	}
}
