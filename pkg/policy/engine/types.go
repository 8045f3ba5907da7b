package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"jobmail-hq/governor/pkg/dsl/ast"
	"jobmail-hq/governor/pkg/policy"
)

// Value is a tagged attribute value.
type Value = ast.Value

// Context is the flat attribute map describing one resource.
type Context map[string]Value

// ContextFromMap converts decoded JSON/YAML data into a Context. Values that
// have no tagged representation (nil, nested maps) are dropped, which makes
// them behave as unknown fields.
func ContextFromMap(m map[string]any) Context {
	ctx := make(Context, len(m))
	for k, raw := range m {
		if v, ok := toValue(raw); ok {
			ctx[k] = v
		}
	}
	return ctx
}

func toValue(raw any) (Value, bool) {
	switch v := raw.(type) {
	case Value:
		return v, true
	case string:
		return ast.String(v), true
	case bool:
		return ast.Bool(v), true
	case time.Time:
		return ast.Timestamp(v), true
	case *time.Time:
		if v == nil {
			return Value{}, false
		}
		return ast.Timestamp(*v), true
	case float64:
		return ast.Number(v), true
	case float32:
		return ast.Number(float64(v)), true
	case int:
		return ast.Number(float64(v)), true
	case int32:
		return ast.Number(float64(v)), true
	case int64:
		return ast.Number(float64(v)), true
	case uint64:
		return ast.Number(float64(v)), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Value{}, false
		}
		return ast.Number(f), true
	case []string:
		items := make([]Value, len(v))
		for i, s := range v {
			items[i] = ast.String(s)
		}
		return ast.List(items...), true
	case []any:
		items := make([]Value, 0, len(v))
		for _, item := range v {
			if iv, ok := toValue(item); ok && iv.Type != ast.ValueTypeList {
				items = append(items, iv)
			}
		}
		return ast.List(items...), true
	}
	return Value{}, false
}

// ToMap converts a Context back into plain Go data.
func (c Context) ToMap() map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		out[k] = v.Interface()
	}
	return out
}

// MarshalJSON encodes the context as a plain JSON object.
func (c Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToMap())
}

// UnmarshalJSON decodes a plain JSON object.
func (c *Context) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode context: %w", err)
	}
	*c = ContextFromMap(m)
	return nil
}

// Trace is the detailed result of one evaluation.
type Trace struct {
	Result bool

	// Matched lists the sub-conditions that made the result true: comparators
	// that held, and not(...) nodes as a unit. Empty when Result is false.
	Matched []ast.Condition
}

// Match is the outcome of a successful bundle evaluation.
type Match struct {
	BundleVersion string
	Policy        policy.Policy
	Confidence    float64
	Matched       []ast.Condition
	Rationale     string
}
