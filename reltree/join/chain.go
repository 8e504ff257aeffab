package join

import (
	"strings"

	"github.com/wbrown/janus-reltree/reltree/aggregate"
	"github.com/wbrown/janus-reltree/reltree/relation"
)

// Atom is one relational reference of a chain: a relation and the
// variable name used at each of its argument positions.
type Atom struct {
	Relation *relation.Relation
	Args     []string
}

// NewAtom builds an atom over r.
func NewAtom(r *relation.Relation, args ...string) Atom {
	return Atom{Relation: r, Args: args}
}

// Equal reports whether two atoms reference the same relation with the
// same variables.
func (a Atom) Equal(b Atom) bool {
	if a.Relation.Name() != b.Relation.Name() || len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	return true
}

// Uses reports whether the atom mentions the variable.
func (a Atom) Uses(name string) bool {
	for _, n := range a.Args {
		if n == name {
			return true
		}
	}
	return false
}

func (a Atom) String() string {
	return a.Relation.Name() + "(" + strings.Join(a.Args, ", ") + ")"
}

// Chain is a join-connected sequence of atoms.
type Chain []Atom

func (c Chain) String() string {
	parts := make([]string, len(c))
	for i, a := range c {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// Relations returns the relation names of the chain in order.
func (c Chain) Relations() []string {
	out := make([]string, len(c))
	for i, a := range c {
		out[i] = a.Relation.Name()
	}
	return out
}

// AggregatorNames renders an aggregator chain outermost first.
func AggregatorNames(aggs []aggregate.Aggregator) string {
	names := make([]string, len(aggs))
	for i, a := range aggs {
		names[i] = a.Name()
	}
	return strings.Join(names, ",")
}
