package ast

import "fmt"

// Visitor is called for every node during Walk. Returning an error stops the
// walk.
type Visitor interface {
	VisitLogical(path string, node *Logical) error
	VisitComparator(path string, node *Comparator) error
}

// Walk traverses the tree depth-first, parents before children. Paths look
// like "all[1].not[0]" and identify the node for error reporting.
func Walk(cond Condition, visitor Visitor) error {
	return walk(cond, "", visitor)
}

func walk(cond Condition, path string, visitor Visitor) error {
	switch node := cond.(type) {
	case *Logical:
		if err := visitor.VisitLogical(path, node); err != nil {
			return err
		}
		for i, child := range node.Children {
			if child == nil {
				continue
			}
			if err := walk(child, childPath(path, string(node.Op), i), visitor); err != nil {
				return err
			}
		}
		return nil
	case *Comparator:
		return visitor.VisitComparator(path, node)
	default:
		return nil
	}
}

func childPath(parent, op string, index int) string {
	if parent == "" {
		return fmt.Sprintf("%s[%d]", op, index)
	}
	return fmt.Sprintf("%s.%s[%d]", parent, op, index)
}

// Fields returns the distinct attribute names referenced by the tree, in
// first-seen order.
func Fields(cond Condition) []string {
	c := &fieldCollector{seen: make(map[string]bool)}
	_ = Walk(cond, c)
	return c.fields
}

type fieldCollector struct {
	seen   map[string]bool
	fields []string
}

func (c *fieldCollector) VisitLogical(string, *Logical) error { return nil }

func (c *fieldCollector) VisitComparator(_ string, node *Comparator) error {
	if !c.seen[node.Field] {
		c.seen[node.Field] = true
		c.fields = append(c.fields, node.Field)
	}
	return nil
}

// Depth returns the nesting depth of the tree; a lone comparator has depth 1.
func Depth(cond Condition) int {
	node, ok := cond.(*Logical)
	if !ok {
		if cond == nil {
			return 0
		}
		return 1
	}
	deepest := 0
	for _, child := range node.Children {
		if d := Depth(child); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}
