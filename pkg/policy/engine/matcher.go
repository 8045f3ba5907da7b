package engine

import (
	"time"

	"jobmail-hq/governor/pkg/dsl/ast"
)

// evaluation carries the per-call state of one Evaluate: the context and the
// resolved instant for "now".
type evaluation struct {
	engine *Engine
	ctx    Context
	now    time.Time
}

func (e *Engine) newEvaluation(ctx Context) *evaluation {
	return &evaluation{engine: e, ctx: ctx, now: e.clock.Now()}
}

// Evaluate reports whether cond holds for ctx. A nil condition never holds.
func (e *Engine) Evaluate(cond ast.Condition, ctx Context) bool {
	return e.newEvaluation(ctx).match(cond)
}

// EvaluateTrace evaluates cond and reports the sub-conditions that made it
// hold.
func (e *Engine) EvaluateTrace(cond ast.Condition, ctx Context) Trace {
	ev := e.newEvaluation(ctx)
	var matched []ast.Condition
	if !ev.trace(cond, &matched) {
		return Trace{Result: false}
	}
	return Trace{Result: true, Matched: matched}
}

func (ev *evaluation) match(cond ast.Condition) bool {
	switch node := cond.(type) {
	case *ast.Logical:
		return ev.matchLogical(node)
	case *ast.Comparator:
		return ev.leaf(node)
	}
	return false
}

func (ev *evaluation) matchLogical(node *ast.Logical) bool {
	switch node.Op {
	case ast.OpAll:
		if len(node.Children) == 0 {
			return false
		}
		for _, child := range node.Children {
			if !ev.match(child) {
				return false
			}
		}
		return true
	case ast.OpAny:
		for _, child := range node.Children {
			if ev.match(child) {
				return true
			}
		}
		return false
	case ast.OpNot:
		if len(node.Children) != 1 {
			return false
		}
		return !ev.match(node.Children[0])
	}
	return false
}

// leaf evaluates a single comparator against the context.
func (ev *evaluation) leaf(node *ast.Comparator) bool {
	field, ok := ev.ctx[node.Field]
	if node.Op == ast.OpExists {
		return ok
	}
	if !ok {
		return false
	}
	return ev.engine.compare(node.Op, field, resolveNow(node.Value, ev.now))
}

// trace mirrors match but evaluates every child of any(...) so that all
// contributing comparators are reported.
func (ev *evaluation) trace(cond ast.Condition, matched *[]ast.Condition) bool {
	switch node := cond.(type) {
	case *ast.Comparator:
		if ev.leaf(node) {
			*matched = append(*matched, node)
			return true
		}
		return false
	case *ast.Logical:
		switch node.Op {
		case ast.OpAll:
			if len(node.Children) == 0 {
				return false
			}
			mark := len(*matched)
			for _, child := range node.Children {
				if !ev.trace(child, matched) {
					*matched = (*matched)[:mark]
					return false
				}
			}
			return true
		case ast.OpAny:
			result := false
			for _, child := range node.Children {
				mark := len(*matched)
				if ev.trace(child, matched) {
					result = true
				} else {
					*matched = (*matched)[:mark]
				}
			}
			return result
		case ast.OpNot:
			if len(node.Children) == 1 && !ev.match(node.Children[0]) {
				*matched = append(*matched, node)
				return true
			}
			return false
		}
	}
	return false
}
