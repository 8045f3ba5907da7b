package ast

import (
	"fmt"
	"strings"
)

// Kind discriminates the two node types of a condition tree.
type Kind string

const (
	KindLogical    Kind = "logical"
	KindComparator Kind = "comparator"
)

// LogicalOp is the operator of a Logical node.
type LogicalOp string

const (
	OpAll LogicalOp = "all" // every child must hold
	OpAny LogicalOp = "any" // at least one child must hold
	OpNot LogicalOp = "not" // the single child must not hold
)

// CompareOp is the operator of a Comparator node.
type CompareOp string

const (
	OpEq     CompareOp = "eq"
	OpNeq    CompareOp = "neq"
	OpLt     CompareOp = "lt"
	OpLte    CompareOp = "lte"
	OpGt     CompareOp = "gt"
	OpGte    CompareOp = "gte"
	OpIn     CompareOp = "in"
	OpRegex  CompareOp = "regex"
	OpExists CompareOp = "exists"
)

// LogicalOps lists every logical operator, in wire order.
var LogicalOps = []LogicalOp{OpAll, OpAny, OpNot}

// CompareOps lists every comparator operator, in wire order.
var CompareOps = []CompareOp{OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpIn, OpRegex, OpExists}

// IsLogicalOp reports whether s names a logical operator.
func IsLogicalOp(s string) bool {
	for _, op := range LogicalOps {
		if string(op) == s {
			return true
		}
	}
	return false
}

// IsCompareOp reports whether s names a comparator operator.
func IsCompareOp(s string) bool {
	for _, op := range CompareOps {
		if string(op) == s {
			return true
		}
	}
	return false
}

// IsOrdering reports whether op compares by order (lt, lte, gt, gte).
func (op CompareOp) IsOrdering() bool {
	switch op {
	case OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// Condition is a node of the condition tree. The interface is sealed: only
// *Logical and *Comparator implement it.
type Condition interface {
	Kind() Kind
	String() string
	isCondition()
}

// Logical combines child conditions.
type Logical struct {
	Op       LogicalOp
	Children []Condition
}

// Kind implements Condition.
func (l *Logical) Kind() Kind { return KindLogical }

func (*Logical) isCondition() {}

// String renders the node in a compact human-readable form, e.g.
// all(category eq "promotions", expires_at lt "now").
func (l *Logical) String() string {
	parts := make([]string, 0, len(l.Children))
	for _, child := range l.Children {
		if child == nil {
			parts = append(parts, "<nil>")
			continue
		}
		parts = append(parts, child.String())
	}
	return fmt.Sprintf("%s(%s)", l.Op, strings.Join(parts, ", "))
}

// Comparator tests one context attribute against a literal.
type Comparator struct {
	Op    CompareOp
	Field string
	Value Value

	// Weight scales this leaf in confidence scoring. Zero means 1.
	Weight float64
}

// Kind implements Condition.
func (c *Comparator) Kind() Kind { return KindComparator }

func (*Comparator) isCondition() {}

// String renders the comparator, e.g. `category eq "promotions"`.
func (c *Comparator) String() string {
	if c.Op == OpExists {
		return fmt.Sprintf("%s exists", c.Field)
	}
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, c.Value.String())
}

// EffectiveWeight returns the scoring weight, defaulting to 1.
func (c *Comparator) EffectiveWeight() float64 {
	if c.Weight <= 0 {
		return 1
	}
	return c.Weight
}

// All builds an all(...) node.
func All(children ...Condition) *Logical {
	return &Logical{Op: OpAll, Children: children}
}

// Any builds an any(...) node.
func Any(children ...Condition) *Logical {
	return &Logical{Op: OpAny, Children: children}
}

// Not builds a not(...) node.
func Not(child Condition) *Logical {
	return &Logical{Op: OpNot, Children: []Condition{child}}
}

// Compare builds a comparator node.
func Compare(op CompareOp, field string, value Value) *Comparator {
	return &Comparator{Op: op, Field: field, Value: value}
}

// Exists builds an exists comparator.
func Exists(field string) *Comparator {
	return &Comparator{Op: OpExists, Field: field}
}
