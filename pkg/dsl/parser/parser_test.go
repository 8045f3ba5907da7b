package parser

import (
	"errors"
	"reflect"
	"testing"

	"jobmail-hq/governor/pkg/dsl/ast"
	dslErrors "jobmail-hq/governor/pkg/dsl/errors"
)

func TestParse_YAML(t *testing.T) {
	src := `
all:
  - eq: [category, promotions]
  - lt: [expires_at, now]
  - not:
      exists: starred
  - in: [labels, [newsletter, promo]]
    weight: 2
`
	cond, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	want := ast.All(
		ast.Compare(ast.OpEq, "category", ast.String("promotions")),
		ast.Compare(ast.OpLt, "expires_at", ast.Now()),
		ast.Not(ast.Exists("starred")),
		&ast.Comparator{Op: ast.OpIn, Field: "labels", Value: ast.List(ast.String("newsletter"), ast.String("promo")), Weight: 2},
	)
	if cond.String() != want.String() {
		t.Errorf("Parse() = %s, want %s", cond, want)
	}

	leaf := cond.(*ast.Logical).Children[3].(*ast.Comparator)
	if leaf.Weight != 2 {
		t.Errorf("weight = %v, want 2", leaf.Weight)
	}
}

func TestParse_JSON(t *testing.T) {
	src := `{"any": [{"gte": ["age_days", 30]}, {"regex": ["sender", ".*@example\\.com"]}]}`
	cond, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	node, ok := cond.(*ast.Logical)
	if !ok || node.Op != ast.OpAny || len(node.Children) != 2 {
		t.Fatalf("unexpected tree %s", cond)
	}
	gte := node.Children[0].(*ast.Comparator)
	if gte.Value.Type != ast.ValueTypeNumber || gte.Value.Num != 30 {
		t.Errorf("gte value = %v, want number 30", gte.Value)
	}
}

func TestParse_NotListForm(t *testing.T) {
	cond, err := Parse([]byte(`{"not": [{"exists": "starred"}]}`))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if cond.String() != "not(starred exists)" {
		t.Errorf("Parse() = %s", cond)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		errType dslErrors.ErrorType
	}{
		{"unknown operator", `{"contains": ["subject", "x"]}`, dslErrors.ErrorTypeStructural},
		{"two operators", `{"eq": ["a", 1], "neq": ["b", 2]}`, dslErrors.ErrorTypeStructural},
		{"comparator arity", `{"eq": ["a"]}`, dslErrors.ErrorTypeStructural},
		{"all not a list", `{"all": {"exists": "a"}}`, dslErrors.ErrorTypeStructural},
		{"null literal", `{"eq": ["a", null]}`, dslErrors.ErrorTypeLiteral},
		{"nested list literal", `{"in": ["a", [[1]]]}`, dslErrors.ErrorTypeLiteral},
		{"weight on logical", `{"all": [{"exists": "a"}], "weight": 2}`, dslErrors.ErrorTypeStructural},
		{"scalar root", `42`, dslErrors.ErrorTypeStructural},
		{"bad json", `{"eq": [`, dslErrors.ErrorTypeSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			if err == nil {
				t.Fatal("expected error")
			}

			var list *dslErrors.ErrorList
			var single *dslErrors.Error
			switch {
			case errors.As(err, &list):
				if !list.HasErrorType(tt.errType) {
					t.Errorf("error types = %v, want %s", list.Errors, tt.errType)
				}
			case errors.As(err, &single):
				if single.Type != tt.errType {
					t.Errorf("error type = %s, want %s", single.Type, tt.errType)
				}
			default:
				t.Fatalf("unexpected error %T: %v", err, err)
			}
		})
	}
}

// Rendering then rebuilding must reproduce the tree exactly.
func TestRender_RoundTrip(t *testing.T) {
	conds := []ast.Condition{
		ast.Exists("starred"),
		ast.All(
			ast.Compare(ast.OpEq, "category", ast.String("promotions")),
			ast.Compare(ast.OpLt, "expires_at", ast.Now()),
			ast.Not(ast.Exists("starred")),
		),
		ast.Any(
			ast.Compare(ast.OpIn, "sender_domain", ast.List(ast.String("a.com"), ast.String("b.com"))),
			&ast.Comparator{Op: ast.OpGte, Field: "score", Value: ast.Number(0.75), Weight: 3},
			ast.Compare(ast.OpEq, "unread", ast.Bool(true)),
		),
	}

	for _, cond := range conds {
		t.Run(cond.String(), func(t *testing.T) {
			for _, marshal := range []func(ast.Condition) ([]byte, error){MarshalJSON, MarshalYAML} {
				data, err := marshal(cond)
				if err != nil {
					t.Fatalf("marshal failed: %v", err)
				}
				got, err := Parse(data)
				if err != nil {
					t.Fatalf("Parse(%s) failed: %v", data, err)
				}
				if !reflect.DeepEqual(got, cond) {
					t.Errorf("round trip of %s produced %s", cond, got)
				}
			}
		})
	}
}
