package engine

import "jobmail-hq/governor/pkg/dsl/ast"

// Scorer names.
const (
	ScorerMatchRatio = "match_ratio"
	ScorerStatic     = "static"
)

// LeafFunc evaluates one comparator within the current evaluation.
type LeafFunc func(*ast.Comparator) bool

// Scorer computes the confidence (0-1) of a policy match.
type Scorer interface {
	Score(cond ast.Condition, leaf LeafFunc) float64
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(cond ast.Condition, leaf LeafFunc) float64

// Score implements Scorer.
func (f ScorerFunc) Score(cond ast.Condition, leaf LeafFunc) float64 {
	return f(cond, leaf)
}

// MatchRatioScorer scores a tree by the weighted share of comparators that
// hold: a comparator scores 1 or 0, all(...) the weighted mean of its
// children, any(...) the best child and not(...) one minus its child.
// Comparators weigh by their Weight; logical children weigh 1.
type MatchRatioScorer struct{}

// Score implements Scorer.
func (MatchRatioScorer) Score(cond ast.Condition, leaf LeafFunc) float64 {
	return ratio(cond, leaf)
}

func ratio(cond ast.Condition, leaf LeafFunc) float64 {
	switch node := cond.(type) {
	case *ast.Comparator:
		if leaf(node) {
			return 1
		}
		return 0
	case *ast.Logical:
		if len(node.Children) == 0 {
			return 0
		}
		switch node.Op {
		case ast.OpAll:
			var sum, total float64
			for _, child := range node.Children {
				w := 1.0
				if c, ok := child.(*ast.Comparator); ok {
					w = c.EffectiveWeight()
				}
				sum += w * ratio(child, leaf)
				total += w
			}
			return sum / total
		case ast.OpAny:
			best := 0.0
			for _, child := range node.Children {
				if s := ratio(child, leaf); s > best {
					best = s
				}
			}
			return best
		case ast.OpNot:
			return 1 - ratio(node.Children[0], leaf)
		}
	}
	return 0
}

// StaticScorer assigns a fixed confidence to every match.
type StaticScorer struct {
	Value float64
}

// Score implements Scorer.
func (s StaticScorer) Score(ast.Condition, LeafFunc) float64 {
	return s.Value
}

func defaultScorers() map[string]Scorer {
	return map[string]Scorer{
		ScorerMatchRatio: MatchRatioScorer{},
		ScorerStatic:     StaticScorer{Value: 1},
	}
}
