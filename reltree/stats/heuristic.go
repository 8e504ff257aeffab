package stats

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownHeuristic is returned by ParseHeuristic.
var ErrUnknownHeuristic = errors.New("unknown heuristic")

// Heuristic is an impurity measure. The score of a split is the
// weight-averaged variability of its children; lower is better.
type Heuristic uint8

const (
	Gini Heuristic = iota
	Variance
	MultiTargetVariance
)

var heuristicNames = [...]string{"gini", "variance", "multi-target-variance"}

func (h Heuristic) String() string {
	if int(h) < len(heuristicNames) {
		return heuristicNames[h]
	}
	return fmt.Sprintf("Heuristic(%d)", uint8(h))
}

// ParseHeuristic maps a heuristic name to its value.
func ParseHeuristic(name string) (Heuristic, error) {
	for i, n := range heuristicNames {
		if n == name {
			return Heuristic(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownHeuristic, name)
}

// DefaultHeuristic picks the measure matching a statistics variant.
func DefaultHeuristic(k Kind) Heuristic {
	switch k {
	case KindClassification:
		return Gini
	case KindMultiTarget:
		return MultiTargetVariance
	}
	return Variance
}

// Supports reports whether h can measure statistics of kind k.
func (h Heuristic) Supports(k Kind) bool {
	switch h {
	case Gini:
		return k == KindClassification
	case Variance:
		return k == KindRegression || k == KindBinaryBoosting || k == KindMulticlassBoosting
	case MultiTargetVariance:
		return k == KindMultiTarget
	}
	return false
}

// Variability returns the impurity of s, or 0 when h does not support it.
func (h Heuristic) Variability(s Statistics) float64 {
	switch h {
	case Gini:
		if c, ok := s.(*Classification); ok {
			return gini(c.proportions())
		}
	case Variance:
		switch r := s.(type) {
		case *Regression:
			return variance(r.Moments())
		case *Boosting:
			return variance(r.Moments())
		}
	case MultiTargetVariance:
		if m, ok := s.(*MultiTarget); ok {
			return multiVariance(m.Moments())
		}
	}
	return 0
}

// EvaluateSplit returns sum over children of (w_c / w_p) * variability(c).
func (h Heuristic) EvaluateSplit(parent Statistics, children []Statistics) float64 {
	total := parent.Weight()
	score := 0.0
	for _, c := range children {
		if c.Weight() == 0 {
			continue
		}
		score += c.Weight() / total * h.Variability(c)
	}
	return score
}

func gini(probabilities []float64) float64 {
	g := 1.0
	for _, p := range probabilities {
		g -= p * p
	}
	return g
}

// variance is the biased weighted estimate E[Y^2] - E[Y]^2.
func variance(sum1, sum2, n float64) float64 {
	if n == 0 {
		return 0
	}
	return math.Max(0, (sum2-sum1*sum1/n)/n)
}

func multiVariance(sum1, sum2 []float64, n float64) float64 {
	if n == 0 || len(sum1) == 0 {
		return 0
	}
	v := 0.0
	for i := range sum1 {
		v += sum2[i] - sum1[i]*sum1[i]/n
	}
	v = v / float64(len(sum1)) / n
	return math.Max(0, v)
}
