// Package tree grows relational decision trees node by node and predicts
// with them.
package tree

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/aggregate"
	"github.com/wbrown/janus-reltree/reltree/binding"
	"github.com/wbrown/janus-reltree/reltree/feature"
	"github.com/wbrown/janus-reltree/reltree/join"
	"github.com/wbrown/janus-reltree/reltree/stats"
)

// ErrArity is returned when an example does not match the target variables.
var ErrArity = errors.New("example arity does not match the target relation")

// Branch indices of an internal node.
const (
	Positive = 0
	Negative = 1
)

// Test is the split of an internal node: the value of Aggregators over
// Chain compared to Threshold.
type Test struct {
	Chain       join.Chain
	Aggregators feature.AggregatorChain
	Comparator  aggregate.Comparator
	// Threshold is a float64 for ordered comparators and a []interface{}
	// for set comparators.
	Threshold interface{}
	// Variables marks a threshold that lists target variable names.
	Variables bool
	// Vars declares every non-target variable of Chain. Constants carry
	// their value.
	Vars []feature.Var
}

// Evaluate computes the test value for one example whose target variables
// take the values in descriptive.
func (t *Test) Evaluate(ev *join.Evaluator, targets []feature.Var, descriptive reltree.Tuple) (interface{}, error) {
	ex, err := feature.Scope{feature.Level(targets)}.Example(t.Vars...)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(targets))
	for i, v := range targets {
		names[i] = v.Name
	}
	unground := ex.Ground(names, descriptive)
	defer unground()
	return ev.Evaluate(ex, -1, t.Chain, t.Aggregators.Aggregators)
}

// Passes reports whether value satisfies the test. For variable tests the
// threshold names are resolved against descriptive.
func (t *Test) Passes(value interface{}, targets []feature.Var, descriptive reltree.Tuple) bool {
	if !t.Variables {
		return t.Comparator.Compare(value, t.Threshold)
	}
	names, _ := t.Threshold.([]interface{})
	set := make([]interface{}, 0, len(names))
	for _, n := range names {
		for i, v := range targets {
			if v.Name == n && i < len(descriptive) {
				set = append(set, descriptive[i])
			}
		}
	}
	return t.Comparator.Compare(value, set)
}

func (t *Test) String() string {
	constants := make(map[string]string)
	for _, v := range t.Vars {
		if kind, err := binding.KindOf(v.Name); err == nil && kind == binding.Constant {
			constants[v.Name] = reltree.FormatValue(v.Value)
		}
	}
	atoms := make([]string, len(t.Chain))
	for i, a := range t.Chain {
		args := make([]string, len(a.Args))
		for j, name := range a.Args {
			if c, ok := constants[name]; ok {
				args[j] = c
			} else {
				args[j] = name
			}
		}
		atoms[i] = a.Relation.Name() + "(" + strings.Join(args, ", ") + ")"
	}
	var threshold string
	if set, ok := t.Threshold.([]interface{}); ok {
		threshold = aggregate.FormatSet(set)
	} else {
		threshold = reltree.FormatValue(t.Threshold)
	}
	return fmt.Sprintf("%s %s %s %s", strings.Join(atoms, ", "), t.Aggregators, t.Comparator, threshold)
}

// Node is a tree node. Internal nodes have a test and two children, the
// positive branch first.
type Node struct {
	Label    string
	Depth    int
	Stats    stats.Statistics
	Test     *Test
	Children []*Node
	Parent   *Node
}

// IsLeaf reports whether n has no test.
func (n *Node) IsLeaf() bool { return n.Test == nil }

// Walk visits n and its subtree in pre-order, positive branches first.
func (n *Node) Walk(fn func(*Node)) {
	stack := []*Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(cur)
		for i := len(cur.Children) - 1; i >= 0; i-- {
			stack = append(stack, cur.Children[i])
		}
	}
}

// Tree is a grown relational decision tree.
type Tree struct {
	Target string
	// TargetVars name the descriptive arguments of the target relation.
	TargetVars     []feature.Var
	Kind           stats.Kind
	Heuristic      stats.Heuristic
	IgnoreCritical bool
	Root           *Node
}

// Leaf returns the leaf an example reaches. Every call uses its own
// bindings, so concurrent predictions are safe.
func (t *Tree) Leaf(descriptive reltree.Tuple) (*Node, error) {
	if len(descriptive) != len(t.TargetVars) {
		return nil, fmt.Errorf("%w: %s expects %d values, got %d",
			ErrArity, t.Target, len(t.TargetVars), len(descriptive))
	}
	ev := join.NewEvaluator(nil, t.IgnoreCritical)
	n := t.Root
	for !n.IsLeaf() {
		v, err := n.Test.Evaluate(ev, t.TargetVars, descriptive)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.Label, err)
		}
		if n.Test.Passes(v, t.TargetVars, descriptive) {
			n = n.Children[Positive]
		} else {
			n = n.Children[Negative]
		}
	}
	return n, nil
}

// Predict returns the point prediction of the leaf the example reaches.
func (t *Tree) Predict(descriptive reltree.Tuple) (interface{}, error) {
	leaf, err := t.Leaf(descriptive)
	if err != nil {
		return nil, err
	}
	return leaf.Stats.Prediction(), nil
}

// PredictStats returns the statistics of the leaf the example reaches, for
// ensembles that combine more than point predictions. The result is
// shared with the tree and must not be modified.
func (t *Tree) PredictStats(descriptive reltree.Tuple) (stats.Statistics, error) {
	leaf, err := t.Leaf(descriptive)
	if err != nil {
		return nil, err
	}
	return leaf.Stats, nil
}

// Size returns the number of nodes.
func (t *Tree) Size() int {
	n := 0
	t.Root.Walk(func(*Node) { n++ })
	return n
}

// InternalNodes returns the number of nodes with a test.
func (t *Tree) InternalNodes() int {
	n := 0
	t.Root.Walk(func(node *Node) {
		if !node.IsLeaf() {
			n++
		}
	})
	return n
}

// Depth returns the depth of the deepest node.
func (t *Tree) Depth() int {
	d := 0
	t.Root.Walk(func(node *Node) {
		if node.Depth > d {
			d = node.Depth
		}
	})
	return d
}

// String dumps the tree with one indented line per test and leaf.
func (t *Tree) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tree for %s:\n", t.Target)
	dump(&b, t.Root)
	return b.String()
}

func dump(b *strings.Builder, n *Node) {
	spaces := strings.Repeat("  ", n.Depth)
	if n.IsLeaf() {
		fmt.Fprintf(b, "%s%s\n", spaces, n.Stats)
		return
	}
	fmt.Fprintf(b, "%sIF %s:\n", spaces, n.Test)
	for i, name := range []string{"YES", "NO"} {
		fmt.Fprintf(b, "%s%s\n", spaces, name)
		dump(b, n.Children[i])
	}
}
