package parser

import (
	"fmt"
	"math"
	"sort"
	"time"

	"jobmail-hq/governor/pkg/dsl/ast"
	dslErrors "jobmail-hq/governor/pkg/dsl/errors"
)

// weightKey is the optional scoring weight carried next to a comparator.
const weightKey = "weight"

// Build converts decoded YAML/JSON data (maps, slices, scalars) into a
// condition tree. Structural problems are accumulated and returned as a
// *errors.ErrorList.
func Build(raw any) (ast.Condition, error) {
	b := &builder{errors: dslErrors.NewErrorList()}
	cond := b.condition(raw, "")
	if err := b.errors.ToError(); err != nil {
		return nil, err
	}
	return cond, nil
}

type builder struct {
	errors *dslErrors.ErrorList
}

func (b *builder) fail(path, format string, args ...any) {
	b.errors.AddError(dslErrors.ErrorTypeStructural, fmt.Sprintf(format, args...), path)
}

func (b *builder) condition(raw any, path string) ast.Condition {
	m, ok := asMap(raw)
	if !ok {
		b.fail(path, "condition must be a map with a single operator key, got %T", raw)
		return nil
	}

	var weight float64
	if w, present := m[weightKey]; present {
		n, ok := asNumber(w)
		if !ok || n < 0 {
			b.fail(path, "weight must be a non-negative number")
		}
		weight = n
		delete(m, weightKey)
	}

	if len(m) != 1 {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.fail(path, "condition must have exactly one operator key, got %v", keys)
		return nil
	}

	for key, arg := range m {
		switch {
		case ast.IsLogicalOp(key):
			if weight != 0 {
				b.fail(path, "weight is only allowed on comparators")
			}
			return b.logical(ast.LogicalOp(key), arg, path)
		case key == string(ast.OpExists):
			field, ok := arg.(string)
			if !ok || field == "" {
				b.fail(path, "exists takes a field name")
				return nil
			}
			return &ast.Comparator{Op: ast.OpExists, Field: field, Weight: weight}
		case ast.IsCompareOp(key):
			return b.comparator(ast.CompareOp(key), arg, weight, path)
		default:
			b.errors.AddErrorWithSuggestion(dslErrors.ErrorTypeStructural,
				fmt.Sprintf("unknown operator %q", key), path, dslErrors.SuggestOperator(key))
			return nil
		}
	}
	return nil
}

func (b *builder) logical(op ast.LogicalOp, arg any, path string) ast.Condition {
	var items []any
	switch v := arg.(type) {
	case []any:
		items = v
	default:
		if op != ast.OpNot {
			b.fail(path, "%s takes a list of conditions", op)
			return nil
		}
		items = []any{v}
	}

	node := &ast.Logical{Op: op, Children: make([]ast.Condition, 0, len(items))}
	for i, item := range items {
		child := b.condition(item, childPath(path, string(op), i))
		if child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node
}

func (b *builder) comparator(op ast.CompareOp, arg any, weight float64, path string) ast.Condition {
	pair, ok := arg.([]any)
	if !ok || len(pair) != 2 {
		b.fail(path, "%s takes [field, value]", op)
		return nil
	}
	field, ok := pair[0].(string)
	if !ok || field == "" {
		b.fail(path, "%s field must be a non-empty string", op)
		return nil
	}
	value, err := literal(pair[1])
	if err != nil {
		b.errors.AddError(dslErrors.ErrorTypeLiteral, fmt.Sprintf("%s value: %v", op, err), path)
		return nil
	}
	return &ast.Comparator{Op: op, Field: field, Value: value, Weight: weight}
}

// literal converts a decoded scalar or list into an ast.Value. Timestamps
// decoded by YAML are kept as RFC 3339 strings so that rendering and
// re-parsing yields the same tree; the evaluator coerces them on use.
func literal(raw any) (ast.Value, error) {
	switch v := raw.(type) {
	case string:
		return ast.String(v), nil
	case bool:
		return ast.Bool(v), nil
	case time.Time:
		return ast.String(v.UTC().Format(time.RFC3339Nano)), nil
	case []any:
		items := make([]ast.Value, 0, len(v))
		for _, item := range v {
			lit, err := literal(item)
			if err != nil {
				return ast.Value{}, err
			}
			if lit.Type == ast.ValueTypeList {
				return ast.Value{}, fmt.Errorf("nested lists are not supported")
			}
			items = append(items, lit)
		}
		return ast.List(items...), nil
	case nil:
		return ast.Value{}, fmt.Errorf("null literal")
	}
	if n, ok := asNumber(raw); ok {
		return ast.Number(n), nil
	}
	return ast.Value{}, fmt.Errorf("unsupported literal type %T", raw)
}

func asNumber(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case uint:
		return float64(v), true
	}
	return 0, false
}

// asMap copies string-keyed maps so the builder may consume keys.
func asMap(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out, true
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}

func childPath(parent, op string, index int) string {
	if parent == "" {
		return fmt.Sprintf("%s[%d]", op, index)
	}
	return fmt.Sprintf("%s.%s[%d]", parent, op, index)
}
