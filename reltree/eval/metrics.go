// Package eval measures how well a model predicts held-out examples and
// runs k-fold cross-validation.
package eval

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/dataset"
)

// ErrPrediction is returned when a prediction does not fit the target.
var ErrPrediction = errors.New("prediction does not match target")

// Predictor is satisfied by trees, forests and boosting models.
type Predictor interface {
	Predict(descriptive reltree.Tuple) (interface{}, error)
}

// ClassMetrics are the one-vs-rest scores of one class.
type ClassMetrics struct {
	Class     string
	Precision float64
	Recall    float64
	Support   int
}

// Metrics summarizes predictions. Classification fills the accuracies and
// Classes; regression fills the error measures. Multi-target errors are
// averaged over components.
type Metrics struct {
	Classification bool
	Examples       int

	Accuracy         float64
	WeightedAccuracy float64 // by example weight
	Classes          []ClassMetrics

	MSE  float64
	RMSE float64
	MAE  float64
}

// Scorer accumulates target and prediction pairs.
type Scorer struct {
	classification bool
	n              int

	weight, correctWeight float64
	correct               int
	truePositive          map[string]int
	predicted             map[string]int
	actual                map[string]int

	squared, absolute float64
	components        int
}

// NewScorer returns a scorer for classification or regression targets.
func NewScorer(classification bool) *Scorer {
	return &Scorer{
		classification: classification,
		truePositive:   make(map[string]int),
		predicted:      make(map[string]int),
		actual:         make(map[string]int),
	}
}

// Add records one prediction.
func (s *Scorer) Add(target, prediction interface{}, weight float64) error {
	if s.classification {
		want, ok1 := target.(string)
		got, ok2 := prediction.(string)
		if !ok1 || !ok2 {
			return fmt.Errorf("%w: class %v predicted as %v", ErrPrediction, target, prediction)
		}
		s.n++
		s.weight += weight
		s.actual[want]++
		s.predicted[got]++
		if want == got {
			s.correct++
			s.correctWeight += weight
			s.truePositive[want]++
		}
		return nil
	}

	want, got, err := components(target, prediction)
	if err != nil {
		return err
	}
	s.n++
	for i := range want {
		d := got[i] - want[i]
		s.squared += d * d
		s.absolute += math.Abs(d)
	}
	s.components += len(want)
	return nil
}

func components(target, prediction interface{}) ([]float64, []float64, error) {
	switch t := target.(type) {
	case float64:
		if p, ok := prediction.(float64); ok {
			return []float64{t}, []float64{p}, nil
		}
	case reltree.Vector:
		if p, ok := prediction.(reltree.Vector); ok && len(p) == len(t) {
			return t, p, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: value %v predicted as %v", ErrPrediction, target, prediction)
}

// Metrics returns the scores of the recorded predictions.
func (s *Scorer) Metrics() Metrics {
	m := Metrics{Classification: s.classification, Examples: s.n}
	if s.classification {
		if s.n > 0 {
			m.Accuracy = float64(s.correct) / float64(s.n)
		}
		if s.weight > 0 {
			m.WeightedAccuracy = s.correctWeight / s.weight
		}
		seen := make(map[string]bool)
		var classes []string
		for _, counts := range []map[string]int{s.actual, s.predicted} {
			for c := range counts {
				if !seen[c] {
					seen[c] = true
					classes = append(classes, c)
				}
			}
		}
		sort.Strings(classes)
		for _, c := range classes {
			cm := ClassMetrics{Class: c, Support: s.actual[c]}
			if p := s.predicted[c]; p > 0 {
				cm.Precision = float64(s.truePositive[c]) / float64(p)
			}
			if a := s.actual[c]; a > 0 {
				cm.Recall = float64(s.truePositive[c]) / float64(a)
			}
			m.Classes = append(m.Classes, cm)
		}
		return m
	}
	if s.components > 0 {
		m.MSE = s.squared / float64(s.components)
		m.RMSE = math.Sqrt(m.MSE)
		m.MAE = s.absolute / float64(s.components)
	}
	return m
}

// Evaluate scores p on every example of data.
func Evaluate(p Predictor, data *dataset.Dataset) (Metrics, error) {
	s := NewScorer(data.IsClassification())
	for _, e := range data.Examples {
		got, err := p.Predict(e.Descriptive)
		if err != nil {
			return Metrics{}, fmt.Errorf("example %s: %w", e.Descriptive, err)
		}
		if err := s.Add(e.Target, got, e.Weight); err != nil {
			return Metrics{}, fmt.Errorf("example %s: %w", e.Descriptive, err)
		}
	}
	return s.Metrics(), nil
}
