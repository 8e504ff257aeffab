package feature

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/aggregate"
	"github.com/wbrown/janus-reltree/reltree/binding"
	"github.com/wbrown/janus-reltree/reltree/join"
)

// Config bounds the candidate space.
type Config struct {
	Specs []Spec
	// Aggregators lists the allowed aggregator names; "projection"
	// enables projections of tuple-valued atoms.
	Aggregators []string
	// MaxAtomTests is the number of atoms one test may add.
	MaxAtomTests int
	// MaxChainLength bounds a test chain including the extended prefix.
	MaxChainLength int
}

// Generator enumerates candidates. It is not safe for concurrent use; each
// tree build owns one.
type Generator struct {
	specs          []Spec
	allowed        map[string]bool
	maxAtomTests   int
	maxChainLength int

	temp     int
	forceSum bool
	aggCache map[string][]AggregatorChain
}

// NewGenerator validates cfg.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.MaxAtomTests < 1 {
		return nil, fmt.Errorf("%w: max atom tests %d", ErrInvalidSpec, cfg.MaxAtomTests)
	}
	if cfg.MaxChainLength < 1 {
		return nil, fmt.Errorf("%w: max chain length %d", ErrInvalidSpec, cfg.MaxChainLength)
	}
	allowed := make(map[string]bool, len(cfg.Aggregators))
	for _, name := range cfg.Aggregators {
		if name != aggregate.ProjectionName {
			if _, err := aggregate.Parse(name); err != nil {
				return nil, err
			}
		}
		allowed[name] = true
	}
	specs := append([]Spec(nil), cfg.Specs...)
	for _, s := range specs {
		if len(s.Modes) != s.Relation.Arity() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSpec, s)
		}
	}
	sort.SliceStable(specs, func(i, j int) bool { return specs[i].sortKey() < specs[j].sortKey() })
	return &Generator{
		specs:          specs,
		allowed:        allowed,
		maxAtomTests:   cfg.MaxAtomTests,
		maxChainLength: cfg.MaxChainLength,
		aggCache:       make(map[string][]AggregatorChain),
	}, nil
}

// Allowed reports whether the named aggregator may be used.
func (g *Generator) Allowed(name string) bool { return g.allowed[name] }

// fresh is a variable first introduced by the last atom of a chain.
type fresh struct {
	name     string
	typ      reltree.Type
	position int
}

// enumerate calls fn for every valid chain extending parent under scope.
// Variables of new atoms get temporary names; the counter restarts on
// every call so two passes name chains identically.
func (g *Generator) enumerate(scope Scope, parent join.Chain, fn func(start int, chain join.Chain, last []fresh)) error {
	if len(scope) == 0 {
		return fmt.Errorf("%w: empty scope", ErrInvalidSpec)
	}
	if len(scope)-1 != len(parent) {
		return fmt.Errorf("%w: scope has %d levels for a chain of %d atoms", ErrInvalidSpec, len(scope), len(parent))
	}
	g.temp = 0
	targets := make(map[string]bool)
	for _, v := range scope[0] {
		targets[v.Name] = true
	}
	p := present{}
	for start := 1; start <= len(scope); start++ {
		p = p.withLevel(scope[start-1])
		prefix := parent[:start-1]
		budget := g.maxAtomTests
		if room := g.maxChainLength - len(prefix); room < budget {
			budget = room
		}
		if budget <= 0 {
			continue
		}
		g.steps(1, budget, p, func(tail []join.Atom) {
			chain := make(join.Chain, 0, len(prefix)+len(tail))
			chain = append(chain, prefix...)
			chain = append(chain, tail...)
			if !validChain(chain) {
				return
			}
			fn(start, chain, freshInLast(chain, targets))
		})
	}
	return nil
}

// steps emits every sequence of up to limit atoms, each drawing old
// variables from what is in scope after the atoms before it.
func (g *Generator) steps(depth, limit int, p present, emit func([]join.Atom)) {
	g.oneStep(p, func(head join.Atom) {
		emit([]join.Atom{head})
		if depth >= limit {
			return
		}
		next := p.with(head.Args, head.Relation.Types())
		g.steps(depth+1, limit, next, func(tail []join.Atom) {
			chain := make([]join.Atom, 0, 1+len(tail))
			chain = append(chain, head)
			emit(append(chain, tail...))
		})
	})
}

// typeConfig is one way of filling the positions of one argument type.
type typeConfig struct {
	old      []int
	oldNames []string
	new      []int
	offsets  []int
}

func (g *Generator) oneStep(p present, emit func(join.Atom)) {
	for _, spec := range g.specs {
		types, bySlots := spec.typedSlots()
		perType := make([][]typeConfig, len(types))
		usable := true
		for i, t := range types {
			perType[i] = configurations(p[t], bySlots[t])
			if len(perType[i]) == 0 {
				usable = false
				break
			}
		}
		if !usable {
			continue
		}
		arity := spec.Relation.Arity()
		product(perType, func(choice []typeConfig) {
			args := make([]string, arity)
			for i, t := range types {
				c := choice[i]
				for j, pos := range c.old {
					args[pos] = c.oldNames[j]
				}
				for j, name := range g.tempNames(binding.FreePrefix, c.offsets) {
					args[c.new[j]] = name
				}
				for _, pos := range bySlots[t].consts {
					args[pos] = g.tempNames(binding.ConstantPrefix, []int{1})[0]
				}
			}
			emit(join.NewAtom(spec.Relation, args...))
		})
	}
}

// configurations lists the fillings of one type's positions: any subset of
// the new positions may reuse variables in scope, the old ones must, and
// the remaining new positions get canonically numbered fresh variables.
func configurations(names []string, sl *slots) []typeConfig {
	var out []typeConfig
	for _, mask := range reltree.Subsets(len(sl.new), -1) {
		old := append([]int(nil), sl.old...)
		var brandNew []int
		for i, pos := range sl.new {
			if mask[i] {
				old = append(old, pos)
			} else {
				brandNew = append(brandNew, pos)
			}
		}
		for _, idx := range reltree.Counting(len(names), len(old)) {
			oldNames := make([]string, len(idx))
			for i, j := range idx {
				oldNames[i] = names[j]
			}
			for _, seq := range reltree.RestrictedGrowth(len(brandNew)) {
				out = append(out, typeConfig{old: old, oldNames: oldNames, new: brandNew, offsets: seq})
			}
		}
	}
	return out
}

// product calls fn for every element of the cartesian product, the last
// factor varying fastest.
func product(factors [][]typeConfig, fn func([]typeConfig)) {
	choice := make([]typeConfig, len(factors))
	var rec func(i int)
	rec = func(i int) {
		if i == len(factors) {
			fn(choice)
			return
		}
		for _, c := range factors[i] {
			choice[i] = c
			rec(i + 1)
		}
	}
	rec(0)
}

// tempNames returns prefix followed by temp-offset for every offset and
// moves the counter past the largest offset.
func (g *Generator) tempNames(prefix byte, offsets []int) []string {
	names := make([]string, len(offsets))
	largest := 0
	for i, off := range offsets {
		names[i] = string(prefix) + strconv.Itoa(g.temp-off)
		if off > largest {
			largest = off
		}
	}
	g.temp -= largest
	return names
}

// validChain checks that every atom sharing free variables passes one on
// to its successor, that adjacent atoms share a variable, and that no atom
// repeats.
func validChain(chain join.Chain) bool {
	for i := 0; i < len(chain)-1; i++ {
		hasFree, linked := false, false
		for _, name := range chain[i].Args {
			if name[0] != binding.FreePrefix {
				continue
			}
			hasFree = true
			if chain[i+1].Uses(name) {
				linked = true
				break
			}
		}
		if hasFree && !linked {
			return false
		}
	}
	for i := 1; i < len(chain); i++ {
		shared := false
		for _, name := range chain[i].Args {
			if chain[i-1].Uses(name) {
				shared = true
				break
			}
		}
		if !shared {
			return false
		}
	}
	for i := range chain {
		for j := i + 1; j < len(chain); j++ {
			if chain[i].Equal(chain[j]) {
				return false
			}
		}
	}
	return true
}

// freshInLast returns the variables the last atom introduces: not
// constants, not target variables and absent from earlier atoms. A
// variable repeated within the atom is reported at its first position.
func freshInLast(chain join.Chain, targets map[string]bool) []fresh {
	earlier := make(map[string]bool)
	for _, a := range chain[:len(chain)-1] {
		for _, n := range a.Args {
			earlier[n] = true
		}
	}
	last := chain[len(chain)-1]
	types := last.Relation.Types()
	var out []fresh
	seen := make(map[string]bool)
	for pos, n := range last.Args {
		if n[0] == binding.ConstantPrefix || targets[n] || earlier[n] || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, fresh{name: n, typ: types[pos], position: pos})
	}
	return out
}
