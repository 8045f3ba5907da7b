package validator

import (
	"errors"
	"testing"

	"jobmail-hq/governor/pkg/dsl/ast"
	dslErrors "jobmail-hq/governor/pkg/dsl/errors"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cond    ast.Condition
		wantErr bool
		errType dslErrors.ErrorType
	}{
		{
			name: "valid tree",
			cond: ast.All(
				ast.Compare(ast.OpEq, "category", ast.String("promotions")),
				ast.Compare(ast.OpLt, "expires_at", ast.Now()),
				ast.Not(ast.Exists("starred")),
				ast.Compare(ast.OpIn, "label", ast.List(ast.String("a"), ast.String("b"))),
				ast.Compare(ast.OpRegex, "sender", ast.String(`.*@example\.com`)),
			),
		},
		{
			name:    "nil condition",
			cond:    nil,
			wantErr: true,
			errType: dslErrors.ErrorTypeStructural,
		},
		{
			name:    "all without children",
			cond:    ast.All(),
			wantErr: true,
			errType: dslErrors.ErrorTypeStructural,
		},
		{
			name:    "not with two children",
			cond:    &ast.Logical{Op: ast.OpNot, Children: []ast.Condition{ast.Exists("a"), ast.Exists("b")}},
			wantErr: true,
			errType: dslErrors.ErrorTypeStructural,
		},
		{
			name:    "unknown logical operator",
			cond:    &ast.Logical{Op: "xor", Children: []ast.Condition{ast.Exists("a")}},
			wantErr: true,
			errType: dslErrors.ErrorTypeStructural,
		},
		{
			name:    "unknown comparator",
			cond:    &ast.Comparator{Op: "contains", Field: "subject", Value: ast.String("x")},
			wantErr: true,
			errType: dslErrors.ErrorTypeStructural,
		},
		{
			name:    "missing field",
			cond:    ast.Compare(ast.OpEq, "", ast.String("x")),
			wantErr: true,
			errType: dslErrors.ErrorTypeStructural,
		},
		{
			name:    "missing value",
			cond:    &ast.Comparator{Op: ast.OpEq, Field: "category"},
			wantErr: true,
			errType: dslErrors.ErrorTypeLiteral,
		},
		{
			name:    "in with scalar literal",
			cond:    ast.Compare(ast.OpIn, "label", ast.String("a")),
			wantErr: true,
			errType: dslErrors.ErrorTypeLiteral,
		},
		{
			name:    "lt with list literal",
			cond:    ast.Compare(ast.OpLt, "age", ast.List(ast.Number(1))),
			wantErr: true,
			errType: dslErrors.ErrorTypeLiteral,
		},
		{
			name:    "gte with boolean literal",
			cond:    ast.Compare(ast.OpGte, "age", ast.Bool(true)),
			wantErr: true,
			errType: dslErrors.ErrorTypeLiteral,
		},
		{
			name:    "uncompilable regex",
			cond:    ast.Compare(ast.OpRegex, "sender", ast.String("(unclosed")),
			wantErr: true,
			errType: dslErrors.ErrorTypeLiteral,
		},
		{
			name:    "exists needs no value",
			cond:    ast.Exists("starred"),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cond)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}

			var list *dslErrors.ErrorList
			if !errors.As(err, &list) {
				t.Fatalf("expected ErrorList, got %T", err)
			}
			if !list.HasErrorType(tt.errType) {
				t.Errorf("expected error type %s, got %v", tt.errType, list.Errors)
			}
		})
	}
}

func TestValidate_MaxDepth(t *testing.T) {
	var cond ast.Condition = ast.Exists("a")
	for i := 0; i < 5; i++ {
		cond = ast.Not(cond)
	}

	if err := NewValidator().WithMaxDepth(6).Validate(cond); err != nil {
		t.Errorf("depth 6 should pass with max 6: %v", err)
	}

	err := NewValidator().WithMaxDepth(5).Validate(cond)
	var list *dslErrors.ErrorList
	if !errors.As(err, &list) || !list.HasErrorType(dslErrors.ErrorTypeLimit) {
		t.Errorf("expected limit error, got %v", err)
	}
}

// Errors from different nodes are all reported with their paths.
func TestValidate_AccumulatesWithPaths(t *testing.T) {
	cond := ast.All(
		ast.Compare(ast.OpIn, "label", ast.String("a")),
		ast.Any(ast.Compare(ast.OpRegex, "x", ast.String("["))),
	)

	err := Validate(cond)
	var list *dslErrors.ErrorList
	if !errors.As(err, &list) {
		t.Fatalf("expected ErrorList, got %v", err)
	}
	if list.Count() != 2 {
		t.Fatalf("Count() = %d, want 2: %v", list.Count(), list)
	}
	if list.Errors[0].Path != "all[0]" || list.Errors[1].Path != "all[1].any[0]" {
		t.Errorf("paths = %q, %q", list.Errors[0].Path, list.Errors[1].Path)
	}
}
