package parser

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"jobmail-hq/governor/pkg/dsl/ast"
	dslErrors "jobmail-hq/governor/pkg/dsl/errors"
)

// Parse decodes a condition from YAML or JSON bytes.
func Parse(data []byte) (ast.Condition, error) {
	var raw any
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, syntaxError("JSON", err)
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, syntaxError("YAML", err)
	}
	if raw == nil {
		return nil, &dslErrors.Error{Type: dslErrors.ErrorTypeSyntax, Message: "empty condition"}
	}
	return Build(raw)
}

func syntaxError(format string, err error) error {
	return &dslErrors.Error{
		Type:       dslErrors.ErrorTypeSyntax,
		Message:    fmt.Sprintf("%s parsing failed: %v", format, err),
		Suggestion: "check indentation, colons and quotes",
	}
}

// Render converts a condition tree into plain maps and slices in the compact
// form, suitable for yaml.Marshal or json.Marshal.
func Render(cond ast.Condition) any {
	switch node := cond.(type) {
	case *ast.Logical:
		children := make([]any, 0, len(node.Children))
		for _, child := range node.Children {
			children = append(children, Render(child))
		}
		if node.Op == ast.OpNot && len(children) == 1 {
			return map[string]any{string(node.Op): children[0]}
		}
		return map[string]any{string(node.Op): children}
	case *ast.Comparator:
		out := make(map[string]any, 2)
		if node.Op == ast.OpExists {
			out[string(node.Op)] = node.Field
		} else {
			out[string(node.Op)] = []any{node.Field, node.Value.Interface()}
		}
		if node.Weight != 0 {
			out[weightKey] = node.Weight
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON renders a condition as JSON.
func MarshalJSON(cond ast.Condition) ([]byte, error) {
	return json.Marshal(Render(cond))
}

// MarshalYAML renders a condition as YAML.
func MarshalYAML(cond ast.Condition) ([]byte, error) {
	return yaml.Marshal(Render(cond))
}
