// Package dataset holds the labelled examples a tree is grown from: the
// tuples of the target relation, split into the descriptive part that
// binds the target variables and the label in the last position.
package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/relation"
	"github.com/wbrown/janus-reltree/reltree/stats"
)

var (
	// ErrEmpty is returned when a dataset without examples is used for
	// induction.
	ErrEmpty = errors.New("dataset has no examples")
	// ErrTargetType is returned for targets that cannot be learned.
	ErrTargetType = errors.New("unsupported target type")
)

// Example is one labelled example. ID is stable across subsets and is
// the key of the per-example memo.
type Example struct {
	ID          int
	Descriptive reltree.Tuple
	Target      interface{}
	Weight      float64
}

// Dataset is an ordered set of examples of one target relation.
type Dataset struct {
	Target     string
	Types      []reltree.Type
	TargetType reltree.Type
	Examples   []Example
}

// FromRelation builds a dataset from the tuples of the target relation.
// The last argument is the label; every example has weight 1.
func FromRelation(r *relation.Relation) (*Dataset, error) {
	types := r.Types()
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: target relation %s has no arguments", ErrTargetType, r.Name())
	}
	d := &Dataset{
		Target:     r.Name(),
		Types:      append([]reltree.Type(nil), types[:len(types)-1]...),
		TargetType: types[len(types)-1],
	}
	if !d.TargetType.IsConstant() {
		return nil, fmt.Errorf("%w: target %s of relation %s must be nominal, numeric or multi-target",
			ErrTargetType, d.TargetType, r.Name())
	}
	for i, t := range r.Tuples() {
		d.Examples = append(d.Examples, Example{
			ID:          i,
			Descriptive: append(reltree.Tuple(nil), t[:len(t)-1]...),
			Target:      t[len(t)-1],
			Weight:      1,
		})
	}
	return d, nil
}

// Len returns the number of examples.
func (d *Dataset) Len() int { return len(d.Examples) }

// IsClassification reports whether the label is nominal.
func (d *Dataset) IsClassification() bool { return d.TargetType.IsNominal() }

// Classes returns the sorted distinct labels of a classification dataset.
func (d *Dataset) Classes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range d.Examples {
		if s, ok := e.Target.(string); ok && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Targets returns the number of components of a multi-target label.
func (d *Dataset) Targets() int {
	for _, e := range d.Examples {
		if v, ok := e.Target.(reltree.Vector); ok {
			return len(v)
		}
	}
	return 0
}

// Statistics returns empty statistics of the variant that fits the label.
// Classification uses classes, which are normally those of the full
// dataset so that subsets agree on the class order.
func (d *Dataset) Statistics(classes []string) (stats.Statistics, error) {
	switch {
	case d.TargetType.IsNominal():
		return stats.NewClassification(classes), nil
	case d.TargetType.IsNumeric():
		return stats.NewRegression(), nil
	case d.TargetType.IsMultiTarget():
		return stats.NewMultiTarget(d.Targets()), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTargetType, d.TargetType)
}

// Fill adds every example to s.
func (d *Dataset) Fill(s stats.Statistics) stats.Statistics {
	for _, e := range d.Examples {
		s.Add(e.Target, e.Weight)
	}
	return s
}

func (d *Dataset) with(examples []Example) *Dataset {
	return &Dataset{Target: d.Target, Types: d.Types, TargetType: d.TargetType, Examples: examples}
}

// Subset returns the examples at the given indices, repeats included.
func (d *Dataset) Subset(indices []int) *Dataset {
	out := make([]Example, len(indices))
	for i, j := range indices {
		out[i] = d.Examples[j]
	}
	return d.with(out)
}

// WithTargets returns a copy with replaced labels, used by boosting.
func (d *Dataset) WithTargets(t reltree.Type, targets []interface{}) *Dataset {
	out := make([]Example, len(d.Examples))
	for i, e := range d.Examples {
		e.Target = targets[i]
		out[i] = e
	}
	c := d.with(out)
	c.TargetType = t
	return c
}

// Weighted returns a copy whose example weights are multiplied by the
// weight of their class. Classes without a weight keep theirs.
func (d *Dataset) Weighted(classWeights map[string]float64) *Dataset {
	if len(classWeights) == 0 {
		return d
	}
	out := make([]Example, len(d.Examples))
	for i, e := range d.Examples {
		if s, ok := e.Target.(string); ok {
			if w, ok := classWeights[s]; ok {
				e.Weight *= w
			}
		}
		out[i] = e
	}
	return d.with(out)
}

// Bootstrap draws a bootstrap replicate. When stratified, every class is
// resampled separately, classes in sorted order, so the class proportions
// are kept.
func (d *Dataset) Bootstrap(rng *rand.Rand, stratified bool) *Dataset {
	if !stratified || !d.IsClassification() {
		return d.Subset(resample(rng, seq(len(d.Examples))))
	}
	byClass := make(map[string][]int)
	for i, e := range d.Examples {
		s, _ := e.Target.(string)
		byClass[s] = append(byClass[s], i)
	}
	var indices []int
	for _, c := range d.Classes() {
		indices = append(indices, resample(rng, byClass[c])...)
	}
	return d.Subset(indices)
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func resample(rng *rand.Rand, from []int) []int {
	n := len(from)
	out := make([]int, n)
	for i := range out {
		out[i] = from[int(float64(n)*rng.Float64())]
	}
	return out
}

// Folds partitions the examples into k folds after a seeded shuffle.
func (d *Dataset) Folds(k int, seed int64) ([]*Dataset, error) {
	if k < 2 || k > len(d.Examples) {
		return nil, fmt.Errorf("cannot split %d examples into %d folds", len(d.Examples), k)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(len(d.Examples))
	parts := make([][]int, k)
	for i, j := range perm {
		parts[i%k] = append(parts[i%k], j)
	}
	out := make([]*Dataset, k)
	for i, p := range parts {
		sort.Ints(p)
		out[i] = d.Subset(p)
	}
	return out, nil
}

// Without returns the union of every fold except the i-th.
func Without(folds []*Dataset, i int) *Dataset {
	var examples []Example
	for j, f := range folds {
		if j != i {
			examples = append(examples, f.Examples...)
		}
	}
	return folds[i].with(examples)
}
