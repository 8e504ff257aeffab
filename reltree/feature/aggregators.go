package feature

import (
	"strconv"
	"strings"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/aggregate"
)

// AggregatorChain is one aggregator per atom, outermost first, together
// with the declared type of the value it produces.
type AggregatorChain struct {
	Aggregators []aggregate.Aggregator
	Output      reltree.Type
}

func (a AggregatorChain) String() string {
	names := make([]string, len(a.Aggregators))
	for i, agg := range a.Aggregators {
		names[i] = agg.Name()
	}
	return "[" + strings.Join(names, ", ") + "]"
}

// aggState is the class and type of the values flowing out of an
// aggregator. For tuples, types holds the type of every tuple position.
type aggState struct {
	class aggregate.Class
	typ   reltree.Type
	types []reltree.Type
}

func (s aggState) out(a aggregate.Aggregator) aggState {
	if a.Output() == aggregate.OutputNumeric {
		return aggState{class: aggregate.ClassNumeric, typ: reltree.Numeric}
	}
	if s.class == aggregate.ClassTuple {
		t := s.types[a.Component()]
		return aggState{class: aggregate.ClassOf(t), typ: t}
	}
	return s
}

// group partitions the base aggregators by what may follow them.
func group(a aggregate.Aggregator) int {
	switch a.Base() {
	case aggregate.Min, aggregate.Max, aggregate.Mean, aggregate.Sum:
		return 0
	case aggregate.Count, aggregate.CountUnique:
		return 1
	case aggregate.Mode:
		return 2
	}
	return 3
}

var groups = [4][]aggregate.Aggregator{
	{aggregate.Min, aggregate.Max, aggregate.Mean, aggregate.Sum},
	{aggregate.Count, aggregate.CountUnique},
	{aggregate.Mode},
	{aggregate.Flatten, aggregate.FlattenUnique},
}

func (g *Generator) filter(options ...[]aggregate.Aggregator) []aggregate.Aggregator {
	var out []aggregate.Aggregator
	for _, opts := range options {
		for _, a := range opts {
			if g.allowed[a.Name()] {
				out = append(out, a)
			}
		}
	}
	return out
}

// lastStep lists the aggregators that may consume the values of the last
// atom: nothing when no variable is fresh (the count is summed), the
// projections and counts of tuples, or the aggregators of one class.
func (g *Generator) lastStep(fr []fresh, class aggregate.Class) []aggregate.Aggregator {
	switch {
	case len(fr) == 0:
		return nil
	case class == aggregate.ClassTuple:
		var out []aggregate.Aggregator
		if g.allowed[aggregate.ProjectionName] {
			for _, f := range fr {
				for _, o := range g.lastStep([]fresh{f}, aggregate.ClassOf(f.typ)) {
					if o == aggregate.Count {
						continue
					}
					out = append(out, aggregate.Projection(f.position, o))
				}
			}
		}
		return append(out, g.filter(groups[1])...)
	case class == aggregate.ClassNumeric:
		return g.filter([]aggregate.Aggregator{
			aggregate.Flatten, aggregate.FlattenUnique, aggregate.Count, aggregate.CountUnique,
			aggregate.Min, aggregate.Max, aggregate.Mean, aggregate.Sum,
		})
	}
	return g.filter([]aggregate.Aggregator{
		aggregate.Flatten, aggregate.FlattenUnique, aggregate.Count, aggregate.CountUnique, aggregate.Mode,
	})
}

// followers lists the aggregators allowed one position further out.
func (g *Generator) followers(s aggState, previous aggregate.Aggregator) []aggregate.Aggregator {
	var opts []aggregate.Aggregator
	switch group(previous) {
	case 0, 1:
		opts = g.filter(groups[0])
	case 2:
		opts = g.filter(groups[1], groups[2], groups[3])
	default:
		switch s.class {
		case aggregate.ClassNumeric:
			opts = g.filter(groups[0], groups[1], groups[3])
		case aggregate.ClassTuple:
			opts = g.filter(groups[1], groups[3])
		default:
			opts = g.filter(groups[1], groups[2], groups[3])
		}
	}
	out := opts[:0]
	for _, a := range opts {
		if a.Accepts(s.class) {
			out = append(out, a)
		}
	}
	return out
}

// aggregatorChains returns the aggregator chains for a chain of length
// atoms whose last atom has the given fresh variables and types.
func (g *Generator) aggregatorChains(length int, fr []fresh, lastTypes []reltree.Type) []AggregatorChain {
	key := aggKey(length, fr)
	if cached, ok := g.aggCache[key]; ok {
		return cached
	}
	var start aggState
	switch len(fr) {
	case 0:
		start = aggState{class: aggregate.ClassNumeric, typ: reltree.Numeric}
	case 1:
		start = aggState{class: aggregate.ClassOf(fr[0].typ), typ: fr[0].typ}
	default:
		start = aggState{class: aggregate.ClassTuple, types: lastTypes}
	}
	g.forceSum = len(fr) == 0
	var out []AggregatorChain
	g.gen(g.lastStep(fr, start.class), start, length-1, nil, func(aggs []aggregate.Aggregator, final aggState) {
		out = append(out, AggregatorChain{Aggregators: aggs, Output: final.typ})
	})
	g.aggCache[key] = out
	return out
}

// gen extends the partial chain right, which holds the aggregators of
// positions after position, innermost last.
func (g *Generator) gen(options []aggregate.Aggregator, s aggState, position int,
	right []aggregate.Aggregator, emit func([]aggregate.Aggregator, aggState)) {
	if g.forceSum {
		if len(options) == 0 {
			options = []aggregate.Aggregator{aggregate.Sum}
		} else {
			g.forceSum = false
		}
	}
	for _, o := range options {
		next := s.out(o)
		chain := make([]aggregate.Aggregator, 0, len(right)+1)
		chain = append(chain, o)
		chain = append(chain, right...)
		if position == 0 {
			if !o.IsFlatten() {
				emit(chain, next)
			}
			continue
		}
		g.gen(g.followers(next, o), next, position-1, chain, emit)
	}
}

func aggKey(length int, fr []fresh) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(length))
	for _, f := range fr {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(f.position))
		b.WriteByte(':')
		b.WriteString(string(f.typ))
	}
	return b.String()
}
