package errors

import (
	"strings"
	"testing"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"eq", "eq", 0},
		{"eqq", "eq", 1},
		{"regx", "regex", 1},
		{"kitten", "sitting", 3},
		{"", "abc", 3},
	}

	for _, tt := range tests {
		if got := levenshteinDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshteinDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSuggestOperator(t *testing.T) {
	tests := []struct {
		unknown string
		want    string
	}{
		{"regx", `did you mean "regex"?`},
		{"exist", `did you mean "exists"?`},
		{"contains", "Valid operators:"},
	}

	for _, tt := range tests {
		t.Run(tt.unknown, func(t *testing.T) {
			got := SuggestOperator(tt.unknown)
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("SuggestOperator(%q) = %q, want prefix %q", tt.unknown, got, tt.want)
			}
		})
	}
}

func TestErrorList(t *testing.T) {
	errs := NewErrorList()
	if errs.ToError() != nil {
		t.Fatal("empty list should convert to nil error")
	}

	errs.AddError(ErrorTypeStructural, "missing field", "all[0]")
	errs.AddErrorWithSuggestion(ErrorTypeLiteral, "in requires a list", "", "use [a, b]")

	if errs.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", errs.Count())
	}
	if !errs.HasErrorType(ErrorTypeLiteral) {
		t.Error("expected literal error type")
	}
	if errs.HasErrorType(ErrorTypeLimit) {
		t.Error("unexpected limit error type")
	}

	msg := errs.ToError().Error()
	for _, want := range []string{"2 errors", "missing field (at all[0])", "use [a, b]"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}
