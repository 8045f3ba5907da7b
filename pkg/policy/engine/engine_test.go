package engine

import (
	"strings"
	"sync"
	"testing"
	"time"

	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/dsl/ast"
	"jobmail-hq/governor/pkg/policy"
)

var jan2 = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(jan2)
	e, err := New(&EngineConfig{Clock: fake})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return e, fake
}

func TestEvaluate_Comparators(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := ContextFromMap(map[string]any{
		"category":   "promotions",
		"age_days":   45,
		"score":      0.9,
		"unread":     true,
		"expires_at": "2025-01-01T00:00:00Z",
		"received":   time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC),
		"labels":     []any{"newsletter", "work"},
		"sender":     "jobs@recruit.example.com",
		"day":        "2024-12-30",
	})

	tests := []struct {
		name string
		cond ast.Condition
		want bool
	}{
		{"eq string", ast.Compare(ast.OpEq, "category", ast.String("promotions")), true},
		{"eq wrong value", ast.Compare(ast.OpEq, "category", ast.String("social")), false},
		{"eq number", ast.Compare(ast.OpEq, "age_days", ast.Number(45)), true},
		{"eq type mismatch", ast.Compare(ast.OpEq, "age_days", ast.String("45")), false},
		{"neq", ast.Compare(ast.OpNeq, "category", ast.String("social")), true},
		{"neq type mismatch is false", ast.Compare(ast.OpNeq, "age_days", ast.String("45")), false},
		{"lt number", ast.Compare(ast.OpLt, "score", ast.Number(1)), true},
		{"lte equal", ast.Compare(ast.OpLte, "age_days", ast.Number(45)), true},
		{"gt false", ast.Compare(ast.OpGt, "age_days", ast.Number(45)), false},
		{"gte", ast.Compare(ast.OpGte, "age_days", ast.Number(30)), true},
		{"string field before now", ast.Compare(ast.OpLt, "expires_at", ast.Now()), true},
		{"timestamp field vs string literal", ast.Compare(ast.OpGt, "received", ast.String("2024-12-31T00:00:00Z")), true},
		{"date-only literal", ast.Compare(ast.OpLt, "received", ast.String("2025-01-01")), true},
		{"date-only field vs now", ast.Compare(ast.OpLt, "day", ast.Now()), true},
		{"timestamp eq across formats", ast.Compare(ast.OpEq, "received", ast.String("2024-12-31T13:00:00+01:00")), true},
		{"ordering number vs string", ast.Compare(ast.OpLt, "age_days", ast.String("abc")), false},
		{"ordering bool field", ast.Compare(ast.OpLt, "unread", ast.Number(1)), false},
		{"lexical string ordering", ast.Compare(ast.OpLt, "category", ast.String("zzz")), true},
		{"in scalar", ast.Compare(ast.OpIn, "category", ast.List(ast.String("social"), ast.String("promotions"))), true},
		{"in scalar miss", ast.Compare(ast.OpIn, "category", ast.List(ast.String("social"))), false},
		{"in list field", ast.Compare(ast.OpIn, "labels", ast.List(ast.String("work"))), true},
		{"in list field miss", ast.Compare(ast.OpIn, "labels", ast.List(ast.String("personal"))), false},
		{"in non-list literal", ast.Compare(ast.OpIn, "category", ast.String("promotions")), false},
		{"regex anchored match", ast.Compare(ast.OpRegex, "sender", ast.String(`.*@recruit\.example\.com`)), true},
		{"regex is anchored", ast.Compare(ast.OpRegex, "sender", ast.String(`recruit`)), false},
		{"regex invalid pattern", ast.Compare(ast.OpRegex, "sender", ast.String(`(`)), false},
		{"regex non-string field", ast.Compare(ast.OpRegex, "age_days", ast.String(`4.`)), false},
		{"exists", ast.Exists("unread"), true},
		{"unknown field exists", ast.Exists("starred"), false},
		{"unknown field eq", ast.Compare(ast.OpEq, "starred", ast.Bool(true)), false},
		{"unknown field neq", ast.Compare(ast.OpNeq, "starred", ast.Bool(true)), false},
		{"bool eq", ast.Compare(ast.OpEq, "unread", ast.Bool(true)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Evaluate(tt.cond, ctx); got != tt.want {
				t.Errorf("Evaluate(%s) = %v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

func TestEvaluate_Logical(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := ContextFromMap(map[string]any{"a": 1, "b": 2})
	yes := ast.Compare(ast.OpEq, "a", ast.Number(1))
	no := ast.Compare(ast.OpEq, "b", ast.Number(3))

	tests := []struct {
		name string
		cond ast.Condition
		want bool
	}{
		{"all true", ast.All(yes, yes), true},
		{"all with false", ast.All(yes, no), false},
		{"all empty", ast.All(), false},
		{"any with true", ast.Any(no, yes), true},
		{"any all false", ast.Any(no, no), false},
		{"any empty", ast.Any(), false},
		{"not false", ast.Not(no), true},
		{"not true", ast.Not(yes), false},
		{"not malformed", &ast.Logical{Op: ast.OpNot}, false},
		{"nested", ast.All(yes, ast.Any(no, ast.Not(no))), true},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Evaluate(tt.cond, ctx); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

// "now" must follow the clock on every call.
func TestEvaluate_NowIsResolvedPerCall(t *testing.T) {
	e, fake := newTestEngine(t)
	cond := ast.Compare(ast.OpLt, "expires_at", ast.Now())
	ctx := ContextFromMap(map[string]any{"expires_at": "2025-01-05T00:00:00Z"})

	if e.Evaluate(cond, ctx) {
		t.Fatal("not yet expired on Jan 2")
	}
	fake.Advance(5 * 24 * time.Hour)
	if !e.Evaluate(cond, ctx) {
		t.Fatal("expired after advancing the clock")
	}
}

func TestEvaluateTrace(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := ContextFromMap(map[string]any{"category": "promotions", "age_days": 10})
	cond := ast.All(
		ast.Compare(ast.OpEq, "category", ast.String("promotions")),
		ast.Any(
			ast.Compare(ast.OpGt, "age_days", ast.Number(30)),
			ast.Compare(ast.OpLt, "age_days", ast.Number(20)),
		),
		ast.Not(ast.Exists("starred")),
	)

	tr := e.EvaluateTrace(cond, ctx)
	if !tr.Result {
		t.Fatal("expected match")
	}
	var got []string
	for _, m := range tr.Matched {
		got = append(got, m.String())
	}
	want := []string{`category eq "promotions"`, "age_days lt 20", "not(starred exists)"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Matched = %v, want %v", got, want)
	}

	if tr := e.EvaluateTrace(ast.Compare(ast.OpEq, "category", ast.String("x")), ctx); tr.Result || len(tr.Matched) != 0 {
		t.Errorf("unexpected trace %+v", tr)
	}
}

func TestMatchRatioScorer(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := ContextFromMap(map[string]any{"a": 1, "b": 2})
	yes := ast.Compare(ast.OpEq, "a", ast.Number(1))
	no := ast.Compare(ast.OpEq, "b", ast.Number(3))
	heavy := &ast.Comparator{Op: ast.OpEq, Field: "a", Value: ast.Number(1), Weight: 3}

	tests := []struct {
		name string
		cond ast.Condition
		want float64
	}{
		{"leaf true", yes, 1},
		{"leaf false", no, 0},
		{"all half", ast.All(yes, no), 0.5},
		{"all weighted", ast.All(heavy, no), 0.75},
		{"any max", ast.Any(no, ast.All(yes, no)), 0.5},
		{"not inverts", ast.Not(ast.All(yes, no)), 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Score(policy.Policy{Condition: tt.cond}, ctx)
			if got != tt.want {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateBundle_PriorityOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	always := ast.Exists("id")
	b := &policy.Bundle{
		Version: "1.0.0",
		Policies: []policy.Policy{
			{ID: "c-low", Enabled: true, Priority: 20, Condition: always, ActionType: "label"},
			{ID: "b-first", Enabled: true, Priority: 10, Condition: always, ActionType: "archive"},
			{ID: "a-first", Enabled: true, Priority: 10, Condition: always, ActionType: "archive"},
			{ID: "disabled", Enabled: false, Priority: 1, Condition: always, ActionType: "archive"},
		},
	}
	ctx := ContextFromMap(map[string]any{"id": "r1"})

	m, ok := e.EvaluateBundle(b, ctx)
	if !ok {
		t.Fatal("expected match")
	}
	if m.Policy.ID != "a-first" {
		t.Errorf("matched %s, want a-first", m.Policy.ID)
	}
	if m.BundleVersion != "1.0.0" {
		t.Errorf("BundleVersion = %s", m.BundleVersion)
	}
}

func TestEvaluateBundle_ConfidenceThreshold(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := ContextFromMap(map[string]any{"a": 1})
	partial := ast.Not(ast.All(
		ast.Compare(ast.OpEq, "a", ast.Number(1)),
		ast.Exists("missing"),
	))
	b := &policy.Bundle{
		Version: "1.0.0",
		Policies: []policy.Policy{
			{ID: "unsure", Enabled: true, Priority: 1, Condition: partial, ConfidenceThreshold: 0.8},
			{ID: "fallback", Enabled: true, Priority: 2, Condition: ast.Exists("a"), ConfidenceThreshold: 0.8},
		},
	}

	m, ok := e.EvaluateBundle(b, ctx)
	if !ok || m.Policy.ID != "fallback" {
		t.Fatalf("got %+v, %v; want fallback", m.Policy.ID, ok)
	}

	b.Policies = b.Policies[:1]
	if _, ok := e.EvaluateBundle(b, ctx); ok {
		t.Error("expected no match below threshold")
	}
}

// Archive expired promotions on Jan 2.
func TestEvaluateBundle_ExpiredPromotion(t *testing.T) {
	e, _ := newTestEngine(t)
	b := &policy.Bundle{
		Version: "1.0.0",
		Policies: []policy.Policy{{
			ID:      "archive-expired-promos",
			Enabled: true,
			Condition: ast.All(
				ast.Compare(ast.OpEq, "category", ast.String("promotions")),
				ast.Compare(ast.OpLt, "expires_at", ast.Now()),
			),
			ActionType:          "archive",
			ConfidenceThreshold: 0.8,
			Reasoning:           "the promotion has expired",
		}},
	}
	ctx := ContextFromMap(map[string]any{"category": "promotions", "expires_at": "2025-01-01T00:00:00Z"})

	m, ok := e.EvaluateBundle(b, ctx)
	if !ok {
		t.Fatal("expected match")
	}
	if m.Confidence < 0.8 {
		t.Errorf("Confidence = %v, want >= 0.8", m.Confidence)
	}
	for _, want := range []string{`category eq "promotions"`, `expires_at lt "now"`, "the promotion has expired"} {
		if !strings.Contains(m.Rationale, want) {
			t.Errorf("Rationale %q missing %q", m.Rationale, want)
		}
	}
}

func TestEvaluate_Concurrent(t *testing.T) {
	e, _ := newTestEngine(t)
	cond := ast.Any(
		ast.Compare(ast.OpRegex, "sender", ast.String(`.*@a\.com`)),
		ast.Compare(ast.OpRegex, "sender", ast.String(`.*@b\.com`)),
	)
	ctx := ContextFromMap(map[string]any{"sender": "x@b.com"})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !e.Evaluate(cond, ctx) {
					t.Error("expected match")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestNew_UnknownDefaultScorer(t *testing.T) {
	if _, err := New(&EngineConfig{DefaultScorer: "oracle"}); err == nil {
		t.Error("expected error for unknown scorer")
	}
	e, _ := newTestEngine(t)
	if !e.HasScorer("") || !e.HasScorer(ScorerStatic) || e.HasScorer("oracle") {
		t.Error("unexpected HasScorer results")
	}
}
