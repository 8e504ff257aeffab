// Package split searches the best binary split of a node's examples given
// the value one candidate test takes on each of them.
package split

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/aggregate"
	"github.com/wbrown/janus-reltree/reltree/dataset"
	"github.com/wbrown/janus-reltree/reltree/stats"
)

// Worst is the score of an invalid split. Lower scores are better.
var Worst = math.Inf(1)

const (
	eps = 1e-10
	// infinityOffset places a threshold next to a value whose neighbour is
	// infinite.
	infinityOffset = 21.21
	// DefaultMaxSetSize bounds exhaustive subset enumeration.
	DefaultMaxSetSize = 5
)

// ErrOnlyExistential is returned for values that cannot be reduced to
// an existence test.
var ErrOnlyExistential = errors.New("only existential tests allowed")

// Config parameterises the search.
type Config struct {
	Heuristic stats.Heuristic
	// MinLeafWeight is the smallest weight a child may have.
	MinLeafWeight float64
	// MinImpurityImprovement is the relative improvement of the parent
	// variability a split must exceed.
	MinImpurityImprovement float64
	// OnlyExistential reduces numeric values to x > 0 and rejects nominal
	// tests.
	OnlyExistential bool
	MaxSetSize      int
}

// Split is the best split found for one test. Partition[0] holds the
// indices of the examples that pass the test, Partition[1] the rest.
type Split struct {
	Score      float64
	Comparator aggregate.Comparator
	// Threshold is a float64 for ordered comparators and a []interface{}
	// for set comparators.
	Threshold interface{}
	// Variables is set when Threshold lists target variable names rather
	// than values.
	Variables bool
	Partition [2][]int
	Children  [2]stats.Statistics
}

// Found reports whether the split beat the worst score.
func (s Split) Found() bool { return s.Score < Worst }

// TargetVar is a target variable eligible for a variable-valued test.
type TargetVar struct {
	Name string
	// Index is the position of the variable in the descriptive part of an
	// example.
	Index int
}

// Searcher scores splits of one node. It is not safe for concurrent use.
type Searcher struct {
	cfg       Config
	rng       *rand.Rand
	parent    stats.Statistics
	parentVar float64
}

// NewSearcher prepares a search below parent.
func NewSearcher(cfg Config, parent stats.Statistics, rng *rand.Rand) *Searcher {
	if cfg.MaxSetSize <= 0 {
		cfg.MaxSetSize = DefaultMaxSetSize
	}
	return &Searcher{cfg: cfg, rng: rng, parent: parent, parentVar: cfg.Heuristic.Variability(parent)}
}

func (s *Searcher) valid(children []stats.Statistics) bool {
	for _, c := range children {
		if c.Weight() <= s.cfg.MinLeafWeight-eps {
			return false
		}
	}
	return true
}

func (s *Searcher) score(children []stats.Statistics) float64 {
	if !s.valid(children) {
		return Worst
	}
	score := s.cfg.Heuristic.EvaluateSplit(s.parent, children)
	gain := s.parentVar - score
	if gain <= 0 || gain <= s.cfg.MinImpurityImprovement*s.parentVar {
		return Worst
	}
	return score
}

func transposed(children []stats.Statistics) bool {
	return children[0].Weight() < children[1].Weight()
}

// Numeric finds the best threshold. Examples below the threshold start
// in the positive branch; when that branch ends up lighter the comparator
// becomes Bigger and the branches swap.
func (s *Searcher) Numeric(values []float64, data []dataset.Example) (Split, error) {
	n := len(values)
	best := Split{Score: Worst, Comparator: aggregate.Smaller, Threshold: math.Inf(-1)}
	if n == 0 {
		return best, nil
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })

	xs := values
	if s.cfg.OnlyExistential {
		lo, hi := values[order[0]], values[order[n-1]]
		if lo < 0 || math.IsInf(hi, 1) {
			return best, fmt.Errorf("%w: counts must lie in [0, inf), got [%s, %s]",
				ErrOnlyExistential, reltree.FormatValue(lo), reltree.FormatValue(hi))
		}
		xs = make([]float64, n)
		for i, x := range values {
			if x != 0 {
				xs[i] = 1
			}
		}
	}

	children := []stats.Statistics{s.parent.Empty(), s.parent.Clone()}
	bestAt, flip := -1, false
	var bestChildren [2]stats.Statistics
	previous := xs[order[0]]
	for i, j := range order {
		x := xs[j]
		if x > previous {
			var threshold float64
			switch {
			case math.IsInf(x, 1):
				threshold = previous + infinityOffset
			case math.IsInf(previous, -1):
				threshold = x - infinityOffset
			default:
				threshold = previous + (x-previous)/2
			}
			previous = x
			if score := s.score(children); score < best.Score {
				best.Score = score
				best.Threshold = threshold
				bestAt = i
				flip = transposed(children)
				bestChildren = [2]stats.Statistics{children[0].Clone(), children[1].Clone()}
			}
		}
		children[1].Remove(data[j].Target, data[j].Weight)
		children[0].Add(data[j].Target, data[j].Weight)
	}
	if bestAt < 0 {
		return best, nil
	}
	best.Partition = [2][]int{append([]int(nil), order[:bestAt]...), append([]int(nil), order[bestAt:]...)}
	best.Children = bestChildren
	if flip {
		best.Comparator = aggregate.Bigger
		best.Partition[0], best.Partition[1] = best.Partition[1], best.Partition[0]
		best.Children[0], best.Children[1] = best.Children[1], best.Children[0]
	}
	return best, nil
}

// Nominal finds the best subset of the observed values. Above the set size
// cap, random subsets are drawn instead of enumerating them all. The
// positive branch holds the examples whose value is in the subset; when it
// is lighter the comparator becomes DoesNotContain and the branches swap.
func (s *Searcher) Nominal(values []interface{}, data []dataset.Example) (Split, error) {
	if s.cfg.OnlyExistential {
		return Split{Score: Worst}, fmt.Errorf("%w: nominal test", ErrOnlyExistential)
	}
	distinct := reltree.DistinctSorted(append([]interface{}(nil), values...))
	n := len(distinct)
	m := n
	if m > s.cfg.MaxSetSize {
		m = s.cfg.MaxSetSize
	}
	options := 0
	if m > 0 {
		options = 1 << uint(m-1)
	}
	subsets := s.subsets(n, options)
	return s.search(subsets, func(chosen []bool) ([]interface{}, func(int) bool) {
		var left []interface{}
		for i, c := range chosen {
			if c {
				left = append(left, distinct[i])
			}
		}
		return left, func(e int) bool {
			for _, v := range left {
				if reltree.ValuesEqual(values[e], v) {
					return true
				}
			}
			return false
		}
	}, data, false), nil
}

// Variables finds the best subset of target variables: an example passes
// when its value equals the value of one of the chosen variables.
func (s *Searcher) Variables(values []interface{}, data []dataset.Example, vars []TargetVar) (Split, error) {
	if s.cfg.OnlyExistential {
		return Split{Score: Worst}, fmt.Errorf("%w: nominal test", ErrOnlyExistential)
	}
	n := len(vars)
	if n == 0 {
		return Split{Score: Worst}, nil
	}
	m := n
	if m > s.cfg.MaxSetSize {
		m = s.cfg.MaxSetSize
	}
	subsets := s.subsets(n, 1<<uint(m))
	return s.search(subsets, func(chosen []bool) ([]interface{}, func(int) bool) {
		var names []interface{}
		var indices []int
		for i, c := range chosen {
			if c {
				names = append(names, vars[i].Name)
				indices = append(indices, vars[i].Index)
			}
		}
		return names, func(e int) bool {
			for _, k := range indices {
				if reltree.ValuesEqual(data[e].Descriptive[k], values[e]) {
					return true
				}
			}
			return false
		}
	}, data, true), nil
}

// subsets returns options subsets of n elements: the first ones in
// counting order without the empty set, or random ones when n exceeds the
// set size cap.
func (s *Searcher) subsets(n, options int) [][]bool {
	if n > s.cfg.MaxSetSize {
		out := make([][]bool, options)
		for i := range out {
			mask := make([]bool, n)
			for j := range mask {
				mask[j] = s.rng.Float64() <= 0.5
			}
			out[i] = mask
		}
		return out
	}
	all := reltree.Subsets(n, options)
	if len(all) == 0 {
		return nil
	}
	return all[1:]
}

func (s *Searcher) search(subsets [][]bool, build func([]bool) ([]interface{}, func(int) bool),
	data []dataset.Example, variables bool) Split {
	best := Split{Score: Worst, Comparator: aggregate.Contains, Variables: variables}
	for _, chosen := range subsets {
		set, in := build(chosen)
		children := []stats.Statistics{s.parent.Empty(), s.parent.Empty()}
		var partition [2][]int
		for e := range data {
			j := 1
			if in(e) {
				j = 0
			}
			partition[j] = append(partition[j], e)
			children[j].Add(data[e].Target, data[e].Weight)
		}
		score := s.score(children)
		if score >= best.Score {
			continue
		}
		best.Score = score
		best.Threshold = set
		best.Partition = partition
		best.Children = [2]stats.Statistics{children[0], children[1]}
		best.Comparator = aggregate.Contains
		if transposed(children) {
			best.Comparator = aggregate.DoesNotContain
			best.Partition[0], best.Partition[1] = partition[1], partition[0]
			best.Children[0], best.Children[1] = children[1], children[0]
		}
	}
	return best
}
