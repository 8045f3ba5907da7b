package engine

import (
	"regexp"
	"strings"
	"sync"

	"jobmail-hq/governor/pkg/dsl/ast"
)

// compare applies a comparator operator. field is the context value and lit
// the literal with "now" already resolved. Incompatible types yield false.
func (e *Engine) compare(op ast.CompareOp, field, lit Value) bool {
	switch op {
	case ast.OpEq:
		eq, ok := equalValues(field, lit)
		return ok && eq
	case ast.OpNeq:
		eq, ok := equalValues(field, lit)
		return ok && !eq
	case ast.OpLt, ast.OpLte, ast.OpGt, ast.OpGte:
		c, ok := orderValues(field, lit)
		if !ok {
			return false
		}
		switch op {
		case ast.OpLt:
			return c < 0
		case ast.OpLte:
			return c <= 0
		case ast.OpGt:
			return c > 0
		default:
			return c >= 0
		}
	case ast.OpIn:
		return evaluateIn(field, lit)
	case ast.OpRegex:
		return e.regexes.match(field, lit)
	}
	return false
}

// equalValues reports equality and whether the types were comparable.
func equalValues(a, b Value) (bool, bool) {
	if a.Type == ast.ValueTypeTimestamp || b.Type == ast.ValueTypeTimestamp {
		ta, okA := asTime(a)
		tb, okB := asTime(b)
		if !okA || !okB {
			return false, false
		}
		return ta.Equal(tb), true
	}
	if a.Type != b.Type {
		return false, false
	}
	return a.Equal(b), true
}

// orderValues returns -1, 0, +1 and whether the values are ordered types.
func orderValues(a, b Value) (int, bool) {
	switch {
	case a.Type == ast.ValueTypeNumber && b.Type == ast.ValueTypeNumber:
		switch {
		case a.Num < b.Num:
			return -1, true
		case a.Num > b.Num:
			return 1, true
		}
		return 0, true

	case a.Type == ast.ValueTypeTimestamp || b.Type == ast.ValueTypeTimestamp:
		return orderTimes(a, b)

	case a.Type == ast.ValueTypeString && b.Type == ast.ValueTypeString:
		if c, ok := orderTimes(a, b); ok {
			return c, true
		}
		return strings.Compare(a.Str, b.Str), true
	}
	return 0, false
}

func orderTimes(a, b Value) (int, bool) {
	ta, okA := asTime(a)
	tb, okB := asTime(b)
	if !okA || !okB {
		return 0, false
	}
	return ta.Compare(tb), true
}

// evaluateIn reports membership of field in the literal list. A list field
// matches when any element is a member.
func evaluateIn(field, lit Value) bool {
	if lit.Type != ast.ValueTypeList {
		return false
	}
	if field.Type == ast.ValueTypeList {
		for _, item := range field.List {
			if member(item, lit.List) {
				return true
			}
		}
		return false
	}
	return member(field, lit.List)
}

func member(v Value, set []Value) bool {
	for _, candidate := range set {
		if eq, ok := equalValues(v, candidate); ok && eq {
			return true
		}
	}
	return false
}

// regexCache memoizes compiled, anchored patterns. Patterns that fail to
// compile are cached as nil and never match.
type regexCache struct {
	patterns sync.Map // string -> *regexp.Regexp
}

func (c *regexCache) get(pattern string) *regexp.Regexp {
	if cached, ok := c.patterns.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		re = nil
	}
	actual, _ := c.patterns.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp)
}

func (c *regexCache) match(field, lit Value) bool {
	if field.Type != ast.ValueTypeString || lit.Type != ast.ValueTypeString {
		return false
	}
	re := c.get(lit.Str)
	return re != nil && re.MatchString(field.Str)
}
