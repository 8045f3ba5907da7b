package validator

import (
	"fmt"
	"regexp"

	"jobmail-hq/governor/pkg/dsl/ast"
	dslErrors "jobmail-hq/governor/pkg/dsl/errors"
)

// DefaultMaxDepth bounds condition nesting unless configured otherwise.
const DefaultMaxDepth = 16

// Validator validates condition trees.
type Validator struct {
	maxDepth int
}

// NewValidator creates a validator with default limits.
func NewValidator() *Validator {
	return &Validator{maxDepth: DefaultMaxDepth}
}

// WithMaxDepth sets the maximum nesting depth. Non-positive values keep the
// default.
func (v *Validator) WithMaxDepth(depth int) *Validator {
	if depth > 0 {
		v.maxDepth = depth
	}
	return v
}

// Validate validates cond with default limits.
func Validate(cond ast.Condition) error {
	return NewValidator().Validate(cond)
}

// Validate returns a *errors.ErrorList describing every problem in cond, or
// nil when the tree is well formed.
func (v *Validator) Validate(cond ast.Condition) error {
	errs := dslErrors.NewErrorList()
	if cond == nil {
		errs.AddError(dslErrors.ErrorTypeStructural, "condition is required", "")
		return errs.ToError()
	}

	if depth := ast.Depth(cond); depth > v.maxDepth {
		errs.AddError(dslErrors.ErrorTypeLimit,
			fmt.Sprintf("condition depth %d exceeds maximum %d", depth, v.maxDepth), "")
	}

	if err := ast.Walk(cond, &nodeChecker{errors: errs}); err != nil {
		return err
	}
	return errs.ToError()
}

type nodeChecker struct {
	errors *dslErrors.ErrorList
}

func (c *nodeChecker) VisitLogical(path string, node *ast.Logical) error {
	if !ast.IsLogicalOp(string(node.Op)) {
		c.errors.AddErrorWithSuggestion(dslErrors.ErrorTypeStructural,
			fmt.Sprintf("unknown logical operator %q", node.Op), path, dslErrors.SuggestOperator(string(node.Op)))
		return nil
	}

	switch {
	case node.Op == ast.OpNot && len(node.Children) != 1:
		c.errors.AddError(dslErrors.ErrorTypeStructural,
			fmt.Sprintf("not requires exactly one child, got %d", len(node.Children)), path)
	case len(node.Children) == 0:
		c.errors.AddError(dslErrors.ErrorTypeStructural,
			fmt.Sprintf("%s requires at least one child", node.Op), path)
	}

	for i, child := range node.Children {
		if child == nil {
			c.errors.AddError(dslErrors.ErrorTypeStructural,
				fmt.Sprintf("child %d is empty", i), path)
		}
	}
	return nil
}

func (c *nodeChecker) VisitComparator(path string, node *ast.Comparator) error {
	if !ast.IsCompareOp(string(node.Op)) {
		c.errors.AddErrorWithSuggestion(dslErrors.ErrorTypeStructural,
			fmt.Sprintf("unknown comparator %q", node.Op), path, dslErrors.SuggestOperator(string(node.Op)))
		return nil
	}
	if node.Field == "" {
		c.errors.AddError(dslErrors.ErrorTypeStructural,
			fmt.Sprintf("%s requires a field", node.Op), path)
	}
	if node.Weight < 0 {
		c.errors.AddError(dslErrors.ErrorTypeStructural, "weight must not be negative", path)
	}
	if node.Op == ast.OpExists {
		return nil
	}

	lit := node.Value
	if lit.IsZero() {
		c.errors.AddError(dslErrors.ErrorTypeLiteral,
			fmt.Sprintf("%s requires a value", node.Op), path)
		return nil
	}

	switch {
	case node.Op == ast.OpIn:
		if lit.Type != ast.ValueTypeList {
			c.errors.AddErrorWithSuggestion(dslErrors.ErrorTypeLiteral,
				fmt.Sprintf("in requires a list literal, got %s", lit.Type), path,
				fmt.Sprintf("use [%s, %s]", node.Field, lit.String()))
		}
	case node.Op.IsOrdering():
		if lit.Type == ast.ValueTypeList || lit.Type == ast.ValueTypeBoolean {
			c.errors.AddError(dslErrors.ErrorTypeLiteral,
				fmt.Sprintf("%s cannot compare against a %s literal", node.Op, lit.Type), path)
		}
	case node.Op == ast.OpRegex:
		if lit.Type != ast.ValueTypeString {
			c.errors.AddError(dslErrors.ErrorTypeLiteral,
				fmt.Sprintf("regex requires a string pattern, got %s", lit.Type), path)
			return nil
		}
		if _, err := regexp.Compile(`^(?:` + lit.Str + `)$`); err != nil {
			c.errors.AddError(dslErrors.ErrorTypeLiteral,
				fmt.Sprintf("regex %q does not compile: %v", lit.Str, err), path)
		}
	}
	return nil
}
