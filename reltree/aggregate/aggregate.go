// Package aggregate defines the closed set of aggregators and comparators
// used by relational tests, together with the type tables that decide which
// aggregator may consume which values.
package aggregate

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wbrown/janus-reltree/reltree"
)

var (
	ErrUnknownAggregator = errors.New("unknown aggregator")
	ErrUnknownComparator = errors.New("unknown comparator")
)

// EmptyMode is the value of mode over an empty list.
const EmptyMode = "Nothing to see here"

// IsCritical reports whether v is one of the "no data" markers: +Inf, -Inf
// or EmptyMode.
func IsCritical(v interface{}) bool {
	switch val := v.(type) {
	case float64:
		return math.IsInf(val, 0)
	case string:
		return val == EmptyMode
	}
	return false
}

// Class is a set of value classes an aggregator accepts.
type Class uint8

const (
	ClassNumeric Class = 1 << iota
	ClassNominal
	ClassDomain
	ClassTuple
)

// ClassOf returns the class of a single declared type.
func ClassOf(t reltree.Type) Class {
	switch {
	case t.IsNumeric():
		return ClassNumeric
	case t.IsNominal():
		return ClassNominal
	default:
		return ClassDomain
	}
}

func (c Class) String() string {
	var parts []string
	for _, p := range []struct {
		c    Class
		name string
	}{{ClassNumeric, "numeric"}, {ClassNominal, "nominal"}, {ClassDomain, "type"}, {ClassTuple, "tuple"}} {
		if c&p.c != 0 {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "|")
}

// Output describes an aggregator's output type.
type Output uint8

const (
	// OutputNumeric aggregators always produce numbers.
	OutputNumeric Output = iota
	// OutputSameAsInput aggregators produce values of their input type.
	OutputSameAsInput
)

// Op identifies a base aggregation operation.
type Op uint8

const (
	OpCount Op = iota
	OpCountUnique
	OpMin
	OpMax
	OpMean
	OpSum
	OpMode
	OpFlatten
	OpFlattenUnique
	numOps
)

// ProjectionName enables projection aggregators in an allowed list.
const ProjectionName = "projection"

type opInfo struct {
	name   string
	inputs Class
	output Output
	flat   func([]interface{}) interface{}
	concat bool
}

var ops = [numOps]opInfo{
	OpCount:         {"count", ClassNumeric | ClassNominal | ClassDomain | ClassTuple, OutputNumeric, count, false},
	OpCountUnique:   {"countUnique", ClassNumeric | ClassNominal | ClassDomain | ClassTuple, OutputNumeric, countUnique, false},
	OpMin:           {"min", ClassNumeric, OutputNumeric, minOf, false},
	OpMax:           {"max", ClassNumeric, OutputNumeric, maxOf, false},
	OpMean:          {"mean", ClassNumeric, OutputNumeric, mean, false},
	OpSum:           {"sum", ClassNumeric, OutputNumeric, sum, false},
	OpMode:          {"mode", ClassNominal | ClassDomain, OutputSameAsInput, mode, false},
	OpFlatten:       {"flatten", ClassNumeric | ClassNominal | ClassDomain, OutputSameAsInput, identity, true},
	OpFlattenUnique: {"flattenUnique", ClassNumeric | ClassNominal | ClassDomain, OutputSameAsInput, identity, true},
}

// Aggregator is one step of an aggregator chain: a base operation, possibly
// applied to one component of composite tuple values. Aggregators are
// comparable and usable as map keys.
type Aggregator struct {
	op        Op
	projected bool
	component int
}

// Base aggregators.
var (
	Count         = Aggregator{op: OpCount}
	CountUnique   = Aggregator{op: OpCountUnique}
	Min           = Aggregator{op: OpMin}
	Max           = Aggregator{op: OpMax}
	Mean          = Aggregator{op: OpMean}
	Sum           = Aggregator{op: OpSum}
	Mode          = Aggregator{op: OpMode}
	Flatten       = Aggregator{op: OpFlatten}
	FlattenUnique = Aggregator{op: OpFlattenUnique}
)

// All lists the base aggregators in table order.
var All = []Aggregator{Flatten, FlattenUnique, Count, CountUnique, Min, Max, Mean, Sum, Mode}

// Projection applies base to one component of tuple values.
func Projection(component int, base Aggregator) Aggregator {
	return Aggregator{op: base.op, projected: true, component: component}
}

// Names returns every name accepted in an allowed-aggregator list.
func Names() []string {
	names := make([]string, 0, len(All)+1)
	for _, a := range All {
		names = append(names, a.Name())
	}
	return append(names, ProjectionName)
}

// Parse resolves an aggregator name, including projections written as
// projection<k>_<base>.
func Parse(name string) (Aggregator, error) {
	if strings.HasPrefix(name, ProjectionName) {
		rest := strings.TrimPrefix(name, ProjectionName)
		i := strings.IndexByte(rest, '_')
		if i <= 0 {
			return Aggregator{}, fmt.Errorf("%w: %q", ErrUnknownAggregator, name)
		}
		k, err := strconv.Atoi(rest[:i])
		if err != nil || k < 0 {
			return Aggregator{}, fmt.Errorf("%w: %q", ErrUnknownAggregator, name)
		}
		base, err := Parse(rest[i+1:])
		if err != nil || base.projected {
			return Aggregator{}, fmt.Errorf("%w: %q", ErrUnknownAggregator, name)
		}
		return Projection(k, base), nil
	}
	for op := Op(0); op < numOps; op++ {
		if ops[op].name == name {
			return Aggregator{op: op}, nil
		}
	}
	return Aggregator{}, fmt.Errorf("%w: %q", ErrUnknownAggregator, name)
}

// Name returns the aggregator name.
func (a Aggregator) Name() string {
	if a.projected {
		return fmt.Sprintf("%s%d_%s", ProjectionName, a.component, ops[a.op].name)
	}
	return ops[a.op].name
}

func (a Aggregator) String() string { return a.Name() }

// Op returns the base operation.
func (a Aggregator) Op() Op { return a.op }

// Base returns the aggregator without projection.
func (a Aggregator) Base() Aggregator { return Aggregator{op: a.op} }

// IsProjection reports whether a projects tuple components.
func (a Aggregator) IsProjection() bool { return a.projected }

// Component returns the projected tuple position.
func (a Aggregator) Component() int { return a.component }

// IsFlatten reports whether the base operation belongs to the flatten family.
func (a Aggregator) IsFlatten() bool { return ops[a.op].concat }

// Inputs returns the accepted input classes.
func (a Aggregator) Inputs() Class {
	if a.projected {
		return ClassTuple
	}
	return ops[a.op].inputs
}

// Accepts reports whether a can consume values of class c.
func (a Aggregator) Accepts(c Class) bool { return a.Inputs()&c != 0 }

// Output returns the output type of the base operation.
func (a Aggregator) Output() Output { return ops[a.op].output }

// AggregateFlat folds one list of values.
func (a Aggregator) AggregateFlat(values []interface{}) interface{} {
	if a.projected {
		values = project(values, a.component)
	}
	return ops[a.op].flat(values)
}

// Aggregate folds each list. The flatten family concatenates the lists
// instead, returning the individual values.
func (a Aggregator) Aggregate(lists [][]interface{}) []interface{} {
	if ops[a.op].concat {
		var out []interface{}
		for _, l := range lists {
			if a.projected {
				l = project(l, a.component)
			}
			out = append(out, l...)
		}
		if a.op == OpFlattenUnique {
			out = unique(out)
		}
		return out
	}
	out := make([]interface{}, len(lists))
	for i, l := range lists {
		out[i] = a.AggregateFlat(l)
	}
	return out
}

func project(values []interface{}, component int) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v.(reltree.Tuple)[component]
	}
	return out
}

func identity(values []interface{}) interface{} { return values }

func count(values []interface{}) interface{} { return float64(len(values)) }

func countUnique(values []interface{}) interface{} { return float64(len(unique(values))) }

func unique(values []interface{}) []interface{} {
	seen := reltree.NewTupleKeyMapWithCapacity(len(values))
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		key := reltree.NewValueKey(v)
		if _, ok := seen.Get(key); ok {
			continue
		}
		seen.Put(key, nil)
		out = append(out, v)
	}
	return out
}

func minOf(values []interface{}) interface{} {
	m := math.Inf(1)
	for _, v := range values {
		if f := v.(float64); f < m {
			m = f
		}
	}
	return m
}

func maxOf(values []interface{}) interface{} {
	m := math.Inf(-1)
	for _, v := range values {
		if f := v.(float64); f > m {
			m = f
		}
	}
	return m
}

func mean(values []interface{}) interface{} {
	if len(values) == 0 {
		return math.Inf(1)
	}
	return sum(values).(float64) / float64(len(values))
}

func sum(values []interface{}) interface{} {
	s := 0.0
	for _, v := range values {
		s += v.(float64)
	}
	return s
}

// mode returns the most frequent value; ties go to the smallest value.
func mode(values []interface{}) interface{} {
	if len(values) == 0 {
		return EmptyMode
	}
	counts := reltree.NewTupleKeyMapWithCapacity(len(values))
	for _, v := range values {
		key := reltree.NewValueKey(v)
		c, _ := counts.Get(key)
		n, _ := c.(int)
		counts.Put(key, n+1)
	}
	var best interface{}
	bestCount := 0
	for _, v := range reltree.DistinctSorted(values) {
		c, _ := counts.Get(reltree.NewValueKey(v))
		if n := c.(int); n > bestCount {
			best, bestCount = v, n
		}
	}
	return best
}
