// Package stats holds the sufficient statistics of a tree node's weighted
// label distribution and the impurity heuristics computed from them.
package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/wbrown/janus-reltree/reltree"
)

// Kind identifies a statistics variant.
type Kind uint8

const (
	KindClassification Kind = iota
	KindRegression
	KindMultiTarget
	KindBinaryBoosting
	KindMulticlassBoosting
)

func (k Kind) String() string {
	switch k {
	case KindClassification:
		return "classification"
	case KindRegression:
		return "regression"
	case KindMultiTarget:
		return "multi-target regression"
	case KindBinaryBoosting:
		return "binary boosting"
	case KindMulticlassBoosting:
		return "multiclass boosting"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Statistics is implemented by the fixed set of variants in this package.
// Add and Remove are O(1) amortized so split search can sweep thresholds
// incrementally. Prediction is valid after Finalize.
type Statistics interface {
	Kind() Kind
	// Empty returns a zero-weight statistics object of the same variant.
	Empty() Statistics
	Clone() Statistics
	Add(target interface{}, weight float64)
	Remove(target interface{}, weight float64)
	Weight() float64
	Finalize()
	Prediction() interface{}
	// Merge folds a finalized leaf statistics object into an ensemble
	// accumulator with the given weight.
	Merge(other Statistics, weight float64)
	BranchFrequencies() []float64
	SetBranchFrequencies(fs []float64)
	String() string

	isStatistics()
}

type common struct {
	weight    float64
	branches  []float64
	finalized bool
}

func (c *common) Weight() float64                  { return c.weight }
func (c *common) BranchFrequencies() []float64     { return c.branches }
func (c *common) SetBranchFrequencies(fs []float64) { c.branches = fs }
func (c *common) isStatistics()                    {}

func (c common) clone() common {
	out := c
	if c.branches != nil {
		out.branches = append([]float64(nil), c.branches...)
	}
	return out
}

// Classification keeps weighted counts per class. Classes are sorted and
// shared by every node of a tree.
type Classification struct {
	common
	classes    []string
	index      map[string]int
	counts     []float64
	probs      []float64
	prediction string
}

// NewClassification returns empty statistics over the given classes.
func NewClassification(classes []string) *Classification {
	sorted := append([]string(nil), classes...)
	sort.Strings(sorted)
	index := make(map[string]int, len(sorted))
	for i, c := range sorted {
		index[c] = i
	}
	return &Classification{
		classes: sorted,
		index:   index,
		counts:  make([]float64, len(sorted)),
		probs:   make([]float64, len(sorted)),
	}
}

func (s *Classification) Kind() Kind { return KindClassification }

func (s *Classification) Empty() Statistics {
	return &Classification{
		classes: s.classes,
		index:   s.index,
		counts:  make([]float64, len(s.classes)),
		probs:   make([]float64, len(s.classes)),
	}
}

func (s *Classification) Clone() Statistics {
	return &Classification{
		common:     s.common.clone(),
		classes:    s.classes,
		index:      s.index,
		counts:     append([]float64(nil), s.counts...),
		probs:      append([]float64(nil), s.probs...),
		prediction: s.prediction,
	}
}

func (s *Classification) Add(target interface{}, weight float64) {
	s.delta(target, weight)
}

func (s *Classification) Remove(target interface{}, weight float64) {
	s.delta(target, -weight)
}

func (s *Classification) delta(target interface{}, weight float64) {
	label, _ := target.(string)
	i, ok := s.index[label]
	if !ok {
		return
	}
	s.counts[i] += weight
	s.weight += weight
}

// Classes returns the sorted class names.
func (s *Classification) Classes() []string { return s.classes }

// Counts returns the weighted count per class.
func (s *Classification) Counts() []float64 { return s.counts }

// Probabilities returns the class distribution. For an ensemble
// accumulator these are the summed member probabilities.
func (s *Classification) Probabilities() []float64 {
	if s.finalized {
		return s.probs
	}
	return s.proportions()
}

func (s *Classification) proportions() []float64 {
	out := make([]float64, len(s.counts))
	if s.weight == 0 {
		return out
	}
	for i, c := range s.counts {
		out[i] = c / s.weight
	}
	return out
}

func (s *Classification) Finalize() {
	s.probs = s.proportions()
	s.prediction = s.classes[argMax(s.counts)]
	s.finalized = true
}

func (s *Classification) Prediction() interface{} { return s.prediction }

// Merge adds the member's probabilities scaled by weight and one weighted
// vote for the member's predicted class.
func (s *Classification) Merge(other Statistics, weight float64) {
	o := other.(*Classification)
	for i := range s.probs {
		s.probs[i] += o.probs[i] * weight
	}
	if i, ok := s.index[o.prediction]; ok {
		s.counts[i] += weight
	}
	s.weight += weight
	s.finalized = true
}

// Vote returns the class with the largest value in values, the first one
// on ties.
func (s *Classification) Vote(values []float64) string {
	return s.classes[argMax(values)]
}

func (s *Classification) String() string {
	counts := make([]string, len(s.counts))
	for i, c := range s.counts {
		counts[i] = reltree.FormatValue(c)
	}
	return fmt.Sprintf("return %s ([%s]: [%s])", s.prediction,
		strings.Join(s.classes, ", "), strings.Join(counts, ", "))
}

// Regression keeps the weighted sum and sum of squares of the targets.
type Regression struct {
	common
	sum1, sum2 float64
	prediction float64
}

func NewRegression() *Regression { return &Regression{} }

func (s *Regression) Kind() Kind        { return KindRegression }
func (s *Regression) Empty() Statistics { return &Regression{} }

func (s *Regression) Clone() Statistics {
	out := *s
	out.common = s.common.clone()
	return &out
}

func (s *Regression) Add(target interface{}, weight float64) {
	y, _ := reltree.AsFloat(target)
	s.delta(y, weight)
}

func (s *Regression) Remove(target interface{}, weight float64) {
	y, _ := reltree.AsFloat(target)
	s.delta(y, -weight)
}

func (s *Regression) delta(y, weight float64) {
	wy := weight * y
	s.sum1 += wy
	s.sum2 += wy * y
	s.weight += weight
}

// Moments returns the weighted sum, sum of squares and total weight.
func (s *Regression) Moments() (sum1, sum2, weight float64) {
	return s.sum1, s.sum2, s.weight
}

func (s *Regression) Finalize() {
	if s.weight != 0 {
		s.prediction = s.sum1 / s.weight
	}
	s.finalized = true
}

func (s *Regression) Prediction() interface{} { return s.prediction }

// Merge accumulates weight times the member's prediction so the finalized
// accumulator predicts the weighted average of its members.
func (s *Regression) Merge(other Statistics, weight float64) {
	y, _ := reltree.AsFloat(other.Prediction())
	s.sum1 += weight * y
	s.sum2 += weight * y * y
	s.weight += weight
}

func (s *Regression) String() string {
	return fmt.Sprintf("return %s (%s examples)", reltree.FormatValue(s.prediction),
		reltree.FormatValue(s.weight))
}

// MultiTarget is the vector analogue of Regression.
type MultiTarget struct {
	common
	sum1, sum2 []float64
	prediction reltree.Vector
}

func NewMultiTarget(targets int) *MultiTarget {
	return &MultiTarget{sum1: make([]float64, targets), sum2: make([]float64, targets)}
}

func (s *MultiTarget) Kind() Kind        { return KindMultiTarget }
func (s *MultiTarget) Empty() Statistics { return NewMultiTarget(len(s.sum1)) }

func (s *MultiTarget) Clone() Statistics {
	return &MultiTarget{
		common:     s.common.clone(),
		sum1:       append([]float64(nil), s.sum1...),
		sum2:       append([]float64(nil), s.sum2...),
		prediction: append(reltree.Vector(nil), s.prediction...),
	}
}

func (s *MultiTarget) Add(target interface{}, weight float64) {
	s.delta(target, weight)
}

func (s *MultiTarget) Remove(target interface{}, weight float64) {
	s.delta(target, -weight)
}

func (s *MultiTarget) delta(target interface{}, weight float64) {
	ys, _ := target.(reltree.Vector)
	for i := 0; i < len(ys) && i < len(s.sum1); i++ {
		wy := weight * ys[i]
		s.sum1[i] += wy
		s.sum2[i] += wy * ys[i]
	}
	s.weight += weight
}

// Moments returns the per-target sums, sums of squares and total weight.
func (s *MultiTarget) Moments() (sum1, sum2 []float64, weight float64) {
	return s.sum1, s.sum2, s.weight
}

func (s *MultiTarget) Finalize() {
	s.prediction = make(reltree.Vector, len(s.sum1))
	if s.weight != 0 {
		for i, v := range s.sum1 {
			s.prediction[i] = v / s.weight
		}
	}
	s.finalized = true
}

func (s *MultiTarget) Prediction() interface{} { return s.prediction }

func (s *MultiTarget) Merge(other Statistics, weight float64) {
	ys, _ := other.Prediction().(reltree.Vector)
	for i := 0; i < len(ys) && i < len(s.sum1); i++ {
		s.sum1[i] += weight * ys[i]
		s.sum2[i] += weight * ys[i] * ys[i]
	}
	s.weight += weight
}

func (s *MultiTarget) String() string {
	return fmt.Sprintf("return %s (%s examples)", s.prediction.String(),
		reltree.FormatValue(s.weight))
}

// Boosting fits pseudo-residuals of a classification loss. Besides the
// regression moments it tracks the weighted sum of absolute residuals,
// used by the Newton step of the leaf prediction.
type Boosting struct {
	Regression
	sumAbs  float64
	classes int
}

// NewBinaryBoosting returns statistics for two-class log-loss boosting.
func NewBinaryBoosting() *Boosting { return &Boosting{classes: 2} }

// NewMulticlassBoosting returns statistics for one class of a K-class
// boosting stage.
func NewMulticlassBoosting(classes int) *Boosting {
	return &Boosting{classes: classes}
}

func (s *Boosting) Kind() Kind {
	if s.classes == 2 {
		return KindBinaryBoosting
	}
	return KindMulticlassBoosting
}

func (s *Boosting) Empty() Statistics { return &Boosting{classes: s.classes} }

func (s *Boosting) Clone() Statistics {
	out := *s
	out.common = s.common.clone()
	return &out
}

func (s *Boosting) Add(target interface{}, weight float64) {
	y, _ := reltree.AsFloat(target)
	s.Regression.delta(y, weight)
	s.sumAbs += weight * math.Abs(y)
}

func (s *Boosting) Remove(target interface{}, weight float64) {
	y, _ := reltree.AsFloat(target)
	s.Regression.delta(y, -weight)
	s.sumAbs -= weight * math.Abs(y)
}

// Finalize computes the Newton step. A zero denominator yields +Inf and an
// infinite residual sum yields 0.
func (s *Boosting) Finalize() {
	if s.classes == 2 {
		denominator := 2*s.sumAbs - s.sum2
		switch {
		case denominator == 0:
			s.prediction = math.Inf(1)
		case math.IsInf(s.sum1, 0):
			s.prediction = 0
		default:
			s.prediction = s.sum1 / denominator
		}
	} else {
		k := float64(s.classes)
		denominator := s.sumAbs - s.sum2
		if denominator == 0 {
			s.prediction = math.Inf(1)
		} else {
			s.prediction = (k - 1) / k * s.sum1 / denominator
		}
	}
	s.finalized = true
}

func (s *Boosting) Merge(other Statistics, weight float64) {
	s.Regression.Merge(other, weight)
	if o, ok := other.(*Boosting); ok {
		s.sumAbs += weight * o.sumAbs
	}
}

func argMax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
