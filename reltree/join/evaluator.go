// Package join evaluates relational features: it grounds a chain of atoms
// against the bindings of one example and folds the matches through an
// aggregator chain.
package join

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/aggregate"
	"github.com/wbrown/janus-reltree/reltree/binding"
)

var (
	// ErrUnboundVariable is returned when a chain mentions a variable that
	// is not in the example's scope.
	ErrUnboundVariable = errors.New("variable not in scope")
	// ErrMalformedChain is returned for chains that cannot be evaluated.
	ErrMalformedChain = errors.New("malformed chain")
)

// Evaluator computes feature values. With a nil memo every call is
// evaluated from scratch.
type Evaluator struct {
	memo           *Memo
	ignoreCritical bool
}

// NewEvaluator creates an evaluator. When ignoreCritical is set, aggregator
// outputs equal to +Inf, -Inf or the empty mode are dropped before they
// reach the enclosing aggregator.
func NewEvaluator(memo *Memo, ignoreCritical bool) *Evaluator {
	return &Evaluator{memo: memo, ignoreCritical: ignoreCritical}
}

// Memo returns the evaluator's cache, possibly nil.
func (e *Evaluator) Memo() *Memo { return e.memo }

// Evaluate returns the value of aggs over chain for the example whose
// variables are bound in ex. id identifies the example in the memo; a
// negative id bypasses it.
func (e *Evaluator) Evaluate(ex *binding.Example, id int, chain Chain, aggs []aggregate.Aggregator) (interface{}, error) {
	out, err := e.EvaluateBatch(ex, id, chain, [][]aggregate.Aggregator{aggs})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EvaluateBatch evaluates several aggregator chains over the same chain.
// The join is enumerated once for all chains that miss the memo.
func (e *Evaluator) EvaluateBatch(ex *binding.Example, id int, chain Chain, aggChains [][]aggregate.Aggregator) ([]interface{}, error) {
	p, err := newPlan(ex, chain)
	if err != nil {
		return nil, err
	}
	for _, aggs := range aggChains {
		if len(aggs) != len(chain) {
			return nil, fmt.Errorf("%w: %d aggregators for %d atoms", ErrMalformedChain, len(aggs), len(chain))
		}
	}

	results := make([]interface{}, len(aggChains))
	useMemo := e.memo != nil && id >= 0
	var relKey string
	var missing []int
	if useMemo {
		relKey = p.key()
		for j, aggs := range aggChains {
			if v, ok := e.memo.Get(id, relKey+"|"+AggregatorNames(aggs)); ok {
				results[j] = v
			} else {
				missing = append(missing, j)
			}
		}
	} else {
		missing = make([]int, len(aggChains))
		for j := range missing {
			missing[j] = j
		}
	}
	if len(missing) == 0 {
		return results, nil
	}

	w := &walker{ex: ex, plan: p, ignoreCritical: e.ignoreCritical}
	w.aggs = make([][]aggregate.Aggregator, len(missing))
	for i, j := range missing {
		w.aggs[i] = aggChains[j]
	}
	lists := w.walk(0)
	for i, j := range missing {
		v := w.aggs[i][0].AggregateFlat(lists[i])
		results[j] = v
		if useMemo {
			e.memo.Set(id, relKey+"|"+AggregatorNames(aggChains[j]), v)
		}
	}
	return results, nil
}

// step is the static shape of one atom: which positions are known when the
// recursion reaches it and which free variables it grounds.
type step struct {
	atom    Atom
	vars    []*binding.Variable
	known   []int
	fresh   []int   // first position of each distinct unknown variable
	repeats [][]int // positions sharing an unknown variable
}

type plan struct {
	steps []step
}

func newPlan(ex *binding.Example, chain Chain) (*plan, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty chain", ErrMalformedChain)
	}
	p := &plan{steps: make([]step, len(chain))}
	seen := make(map[string]bool)
	for d, a := range chain {
		if len(a.Args) != a.Relation.Arity() {
			return nil, fmt.Errorf("%w: %s has %d arguments, relation arity is %d",
				ErrMalformedChain, a, len(a.Args), a.Relation.Arity())
		}
		s := step{atom: a, vars: make([]*binding.Variable, len(a.Args))}
		firstAt := make(map[string]int)
		for pos, name := range a.Args {
			v, ok := ex.Get(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s in %s", ErrUnboundVariable, name, a)
			}
			s.vars[pos] = v
			if v.IsSet() || seen[name] {
				s.known = append(s.known, pos)
				continue
			}
			if first, dup := firstAt[name]; dup {
				s.repeats = appendRepeat(s.repeats, first, pos)
				continue
			}
			firstAt[name] = pos
			s.fresh = append(s.fresh, pos)
		}
		for name := range firstAt {
			seen[name] = true
		}
		p.steps[d] = s
	}
	return p, nil
}

func appendRepeat(repeats [][]int, first, pos int) [][]int {
	for i, r := range repeats {
		if r[0] == first {
			repeats[i] = append(r, pos)
			return repeats
		}
	}
	return append(repeats, []int{first, pos})
}

// key normalises the chain for the memo: known values are written out and
// free variables are numbered in order of first appearance, so chains that
// differ only in variable names share entries.
func (p *plan) key() string {
	var b strings.Builder
	numbers := make(map[string]int)
	for d, s := range p.steps {
		if d > 0 {
			b.WriteByte(';')
		}
		b.WriteString(s.atom.Relation.Name())
		b.WriteByte('(')
		for pos, v := range s.vars {
			if pos > 0 {
				b.WriteByte(',')
			}
			if value, ok := v.Value(); ok {
				b.WriteByte('=')
				b.WriteString(encodeValue(value))
				continue
			}
			n, ok := numbers[v.Name()]
			if !ok {
				n = len(numbers)
				numbers[v.Name()] = n
			}
			b.WriteByte('#')
			b.WriteString(strconv.Itoa(n))
		}
		b.WriteByte(')')
	}
	return b.String()
}

func encodeValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return reltree.FormatValue(v)
}

type walker struct {
	ex             *binding.Example
	plan           *plan
	aggs           [][]aggregate.Aggregator
	ignoreCritical bool
}

func (w *walker) matches(s *step) []reltree.Tuple {
	values := make([]interface{}, len(s.known))
	for i, pos := range s.known {
		values[i], _ = s.vars[pos].Value()
	}
	found := s.atom.Relation.GetAll(s.known, values)
	if len(s.repeats) == 0 {
		return found
	}
	out := make([]reltree.Tuple, 0, len(found))
	for _, t := range found {
		if consistent(t, s.repeats) {
			out = append(out, t)
		}
	}
	return out
}

func consistent(t reltree.Tuple, repeats [][]int) bool {
	for _, r := range repeats {
		for _, pos := range r[1:] {
			if !reltree.ValuesEqual(t[r[0]], t[pos]) {
				return false
			}
		}
	}
	return true
}

// walk returns, for each aggregator chain, the list that aggregator d
// folds.
func (w *walker) walk(d int) [][]interface{} {
	s := &w.plan.steps[d]
	found := w.matches(s)
	out := make([][]interface{}, len(w.aggs))

	if d == len(w.plan.steps)-1 {
		list := lastValues(found, s.fresh)
		for i := range out {
			out[i] = list
		}
		return out
	}

	names := make([]string, len(s.fresh))
	for i, pos := range s.fresh {
		names[i] = s.vars[pos].Name()
	}
	lists := make([][][]interface{}, len(w.aggs))
	values := make([]interface{}, len(s.fresh))
	for _, t := range found {
		for i, pos := range s.fresh {
			values[i] = t[pos]
		}
		child := w.descend(d, names, values)
		for i := range lists {
			lists[i] = append(lists[i], child[i])
		}
	}
	for i, aggs := range w.aggs {
		folded := aggs[d+1].Aggregate(lists[i])
		if w.ignoreCritical {
			folded = dropCritical(folded)
		}
		out[i] = folded
	}
	return out
}

func (w *walker) descend(d int, names []string, values []interface{}) [][]interface{} {
	undo := w.ex.Ground(names, values)
	defer undo()
	return w.walk(d + 1)
}

// lastValues is the input of the innermost aggregator: the match count
// when nothing is free, the free values when one variable is free, and
// whole tuples otherwise.
func lastValues(found []reltree.Tuple, fresh []int) []interface{} {
	switch len(fresh) {
	case 0:
		return []interface{}{float64(len(found))}
	case 1:
		out := make([]interface{}, len(found))
		for i, t := range found {
			out[i] = t[fresh[0]]
		}
		return out
	}
	out := make([]interface{}, len(found))
	for i, t := range found {
		out[i] = t
	}
	return out
}

func dropCritical(values []interface{}) []interface{} {
	out := values[:0:0]
	for _, v := range values {
		if !aggregate.IsCritical(v) {
			out = append(out, v)
		}
	}
	return out
}
