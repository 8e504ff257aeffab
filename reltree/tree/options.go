package tree

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/wbrown/janus-reltree/reltree/feature"
)

// ErrInvalidOptions is returned for a configuration that cannot drive
// induction.
var ErrInvalidOptions = errors.New("invalid tree options")

// DefaultSeed seeds candidate sampling and random subsets.
const DefaultSeed int64 = 2718281828

// Relative candidate budgets understood besides a fraction in [0, 1].
const (
	RelativeSqrt = "sqrt"
	RelativeLog  = "log"
)

// Options configures tree induction.
type Options struct {
	// Search space
	Specs          []feature.Spec // nil derives one spec per domain position
	Aggregators    []string       // nil allows every aggregator
	MaxAtomTests   int
	MaxChainLength int

	// Stopping criteria. Negative limits are unlimited; the root has depth 1.
	MaxDepth               int
	MaxNodes               int // internal nodes
	MinLeafWeight          float64
	MinImpurityImprovement float64
	VariabilityEps         float64 // relative to the root variability

	// Per-node candidate budget: the smaller of MaxCandidates (negative is
	// unlimited) and RelativeCandidates applied to the candidate count.
	MaxCandidates      int
	RelativeCandidates string

	// Split search
	Heuristic       string // empty picks the one matching the target
	MaxSetSize      int
	OnlyExistential bool

	// Evaluation
	IgnoreCritical bool
	DisableMemo    bool

	ClassWeights map[string]float64
	Seed         int64
}

// DefaultOptions returns the options of a single unpruned tree with
// one-atom tests.
func DefaultOptions() Options {
	return Options{
		MaxAtomTests:       1,
		MaxChainLength:     4,
		MaxDepth:           -1,
		MaxNodes:           -1,
		MinLeafWeight:      1,
		VariabilityEps:     1e-16,
		MaxCandidates:      -1,
		RelativeCandidates: "1.0",
		Seed:               DefaultSeed,
	}
}

// Validate rejects options that cannot be used.
func (o Options) Validate() error {
	if o.MaxAtomTests < 1 {
		return fmt.Errorf("%w: max atom tests must be positive, got %d", ErrInvalidOptions, o.MaxAtomTests)
	}
	if o.MaxChainLength < 1 {
		return fmt.Errorf("%w: max chain length must be positive, got %d", ErrInvalidOptions, o.MaxChainLength)
	}
	if o.MinLeafWeight < 0 {
		return fmt.Errorf("%w: negative minimal leaf weight %v", ErrInvalidOptions, o.MinLeafWeight)
	}
	if o.MinImpurityImprovement < 0 {
		return fmt.Errorf("%w: negative minimal impurity improvement %v", ErrInvalidOptions, o.MinImpurityImprovement)
	}
	if _, err := o.relative(); err != nil {
		return err
	}
	for class, w := range o.ClassWeights {
		if w < 0 {
			return fmt.Errorf("%w: negative weight %v for class %s", ErrInvalidOptions, w, class)
		}
	}
	return nil
}

// relative returns a function of the candidate count for the relative
// budget.
func (o Options) relative() (func(n int) int, error) {
	switch o.RelativeCandidates {
	case "":
		return func(n int) int { return n }, nil
	case RelativeSqrt:
		return func(n int) int { return int(math.Round(math.Sqrt(float64(n)))) }, nil
	case RelativeLog:
		return func(n int) int {
			if n == 0 {
				return 0
			}
			return int(math.Round(math.Log2(float64(n))))
		}, nil
	}
	f, err := strconv.ParseFloat(o.RelativeCandidates, 64)
	if err != nil || f < 0 || f > 1 {
		return nil, fmt.Errorf("%w: relative candidate budget must be %q, %q or a fraction in [0, 1], got %q",
			ErrInvalidOptions, RelativeSqrt, RelativeLog, o.RelativeCandidates)
	}
	return func(n int) int { return int(math.Round(f * float64(n))) }, nil
}

// SampleSize returns the number of candidates evaluated out of n. At least
// one candidate is evaluated when any exists.
func (o Options) SampleSize(n int) (int, error) {
	rel, err := o.relative()
	if err != nil {
		return 0, err
	}
	k := rel(n)
	if o.MaxCandidates >= 0 && o.MaxCandidates < k {
		k = o.MaxCandidates
	}
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k, nil
}
