package stats

import "fmt"

// Record is the serialisable form of a statistics object. Predictions are
// not stored: decoding finalizes the statistics again.
type Record struct {
	Kind     string    `json:"kind"`
	Weight   float64   `json:"weight"`
	Branches []float64 `json:"branches,omitempty"`
	Classes  []string  `json:"classes,omitempty"`
	Counts   []float64 `json:"counts,omitempty"`
	Sum1     []float64 `json:"sum1,omitempty"`
	Sum2     []float64 `json:"sum2,omitempty"`
	SumAbs   float64   `json:"sum_abs,omitempty"`
	Size     int       `json:"size,omitempty"` // boosting classes
}

// Encode captures s.
func Encode(s Statistics) Record {
	r := Record{Kind: s.Kind().String(), Weight: s.Weight(), Branches: s.BranchFrequencies()}
	switch v := s.(type) {
	case *Classification:
		r.Classes = v.classes
		r.Counts = v.counts
	case *Regression:
		r.Sum1, r.Sum2 = []float64{v.sum1}, []float64{v.sum2}
	case *MultiTarget:
		r.Sum1, r.Sum2 = v.sum1, v.sum2
	case *Boosting:
		r.Sum1, r.Sum2 = []float64{v.sum1}, []float64{v.sum2}
		r.SumAbs = v.sumAbs
		r.Size = v.classes
	}
	return r
}

// Decode rebuilds finalized statistics from r.
func Decode(r Record) (Statistics, error) {
	var s Statistics
	switch r.Kind {
	case KindClassification.String():
		if len(r.Counts) != len(r.Classes) {
			return nil, fmt.Errorf("classification record has %d counts for %d classes", len(r.Counts), len(r.Classes))
		}
		c := NewClassification(r.Classes)
		for i, class := range r.Classes {
			c.counts[c.index[class]] = r.Counts[i]
		}
		s = c
	case KindRegression.String():
		reg := NewRegression()
		reg.sum1, reg.sum2 = first(r.Sum1), first(r.Sum2)
		s = reg
	case KindMultiTarget.String():
		if len(r.Sum1) != len(r.Sum2) {
			return nil, fmt.Errorf("multi-target record has %d sums and %d squares", len(r.Sum1), len(r.Sum2))
		}
		m := NewMultiTarget(len(r.Sum1))
		copy(m.sum1, r.Sum1)
		copy(m.sum2, r.Sum2)
		s = m
	case KindBinaryBoosting.String(), KindMulticlassBoosting.String():
		b := &Boosting{classes: r.Size, sumAbs: r.SumAbs}
		b.sum1, b.sum2 = first(r.Sum1), first(r.Sum2)
		s = b
	default:
		return nil, fmt.Errorf("unknown statistics kind %q", r.Kind)
	}
	setWeight(s, r.Weight)
	s.SetBranchFrequencies(r.Branches)
	s.Finalize()
	return s, nil
}

func first(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[0]
}

func setWeight(s Statistics, w float64) {
	switch v := s.(type) {
	case *Classification:
		v.weight = w
	case *Regression:
		v.weight = w
	case *MultiTarget:
		v.weight = w
	case *Boosting:
		v.weight = w
	}
}

