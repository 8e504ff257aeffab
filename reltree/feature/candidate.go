package feature

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/binding"
	"github.com/wbrown/janus-reltree/reltree/join"
	"github.com/wbrown/janus-reltree/reltree/relation"
)

// Constant is a constant position of a candidate chain. Its values range
// over the observed domain of the position.
type Constant struct {
	Name     string
	Type     reltree.Type
	Relation *relation.Relation
	Position int
	Domain   []interface{}
}

// Candidate is a valid chain and its aggregator chains. Every combination
// of constant values and aggregator chain is one candidate test.
type Candidate struct {
	// Start is the scope level the chain extends: the chain reuses the
	// first Start-1 atoms of the parent chain.
	Start       int
	Chain       join.Chain
	Aggregators []AggregatorChain
	// Constants are sorted by name.
	Constants []Constant
	// Vars are the temporary variables of the new atoms in order of first
	// appearance.
	Vars []Var
}

// Combinations returns the number of constant bindings.
func (c *Candidate) Combinations() int {
	n := 1
	for _, k := range c.Constants {
		n *= len(k.Domain)
	}
	return n
}

// Size returns the number of candidate tests c stands for.
func (c *Candidate) Size() int { return len(c.Aggregators) * c.Combinations() }

// ConstantValues returns the i-th constant binding. The last constant
// varies fastest.
func (c *Candidate) ConstantValues(i int) []interface{} {
	values := make([]interface{}, len(c.Constants))
	for j := len(c.Constants) - 1; j >= 0; j-- {
		d := c.Constants[j].Domain
		values[j] = d[i%len(d)]
		i /= len(d)
	}
	return values
}

// Bind returns the temporary variables with the constants set to values.
func (c *Candidate) Bind(values []interface{}) []Var {
	byName := make(map[string]interface{}, len(c.Constants))
	for i, k := range c.Constants {
		byName[k.Name] = values[i]
	}
	out := make([]Var, len(c.Vars))
	for i, v := range c.Vars {
		out[i] = v
		if val, ok := byName[v.Name]; ok {
			out[i].Value = val
		}
	}
	return out
}

// Accept turns a chosen candidate into permanent form. Variables already
// in scope keep their names, every other variable gets the next permanent
// name and constants take their chosen values. It returns the renamed
// chain and one level per new atom, holding the variables that atom
// introduces.
func (c *Candidate) Accept(scope Scope, values []interface{}, namer *Namer) (join.Chain, []Level) {
	inScope := scope.Names()
	bound := c.Bind(values)
	temp := make(map[string]Var, len(bound))
	for _, v := range bound {
		temp[v.Name] = v
	}
	renamed := make(map[string]string)
	chain := make(join.Chain, len(c.Chain))
	var levels []Level
	for i, atom := range c.Chain {
		args := make([]string, len(atom.Args))
		var level Level
		for j, name := range atom.Args {
			switch {
			case inScope[name]:
				args[j] = name
			case renamed[name] != "":
				args[j] = renamed[name]
			default:
				perm := namer.Next(name[0])
				renamed[name] = perm
				args[j] = perm
				v := temp[name]
				v.Name = perm
				level = append(level, v)
			}
		}
		chain[i] = join.NewAtom(atom.Relation, args...)
		if i >= c.Start-1 {
			levels = append(levels, level)
		}
	}
	return chain, levels
}

// Selection is one candidate chain under one constant binding, with the
// sampled aggregator chains to evaluate over it.
type Selection struct {
	Candidate   *Candidate
	Values      []interface{}
	Aggregators []AggregatorChain
}

// Example creates the evaluation scope of the selection.
func (s Selection) Example(scope Scope) (*binding.Example, error) {
	return scope.Example(s.Candidate.Bind(s.Values)...)
}

// Count returns the number of candidate tests available under scope.
func (g *Generator) Count(scope Scope, parent join.Chain) (int, error) {
	total := 0
	err := g.candidates(scope, parent, func(c *Candidate) error {
		total += c.Size()
		return nil
	})
	return total, err
}

// Walk visits the candidate tests whose indices are listed in selected,
// which must be sorted ascending and below total. Indices run over
// candidates in generation order, then constant bindings, then aggregator
// chains. fn is called once per candidate and binding that has at least
// one selected aggregator chain.
func (g *Generator) Walk(scope Scope, parent join.Chain, total int, selected []int, fn func(Selection) error) error {
	offset, next := 0, 0
	err := g.candidates(scope, parent, func(c *Candidate) error {
		size := c.Size()
		na := len(c.Aggregators)
		for next < len(selected) && selected[next] < offset+size {
			combo := (selected[next] - offset) / na
			sel := Selection{Candidate: c, Values: c.ConstantValues(combo)}
			for next < len(selected) && selected[next] < offset+size && (selected[next]-offset)/na == combo {
				sel.Aggregators = append(sel.Aggregators, c.Aggregators[(selected[next]-offset)%na])
				next++
			}
			if err := fn(sel); err != nil {
				return err
			}
		}
		offset += size
		return nil
	})
	if err != nil {
		return err
	}
	if offset != total {
		return fmt.Errorf("%w: counted %d, generated %d", ErrCandidateCountMismatch, total, offset)
	}
	return nil
}

// candidates calls fn for every candidate with at least one aggregator
// chain.
func (g *Generator) candidates(scope Scope, parent join.Chain, fn func(*Candidate) error) error {
	inScope := scope.Names()
	var ferr error
	err := g.enumerate(scope, parent, func(start int, chain join.Chain, last []fresh) {
		if ferr != nil {
			return
		}
		aggs := g.aggregatorChains(len(chain), last, chain[len(chain)-1].Relation.Types())
		if len(aggs) == 0 {
			return
		}
		c := &Candidate{Start: start, Chain: chain, Aggregators: aggs}
		seen := make(map[string]bool)
		for _, atom := range chain[start-1:] {
			types := atom.Relation.Types()
			for pos, name := range atom.Args {
				if inScope[name] || seen[name] {
					continue
				}
				seen[name] = true
				c.Vars = append(c.Vars, Var{Name: name, Type: types[pos]})
				if name[0] == binding.ConstantPrefix {
					c.Constants = append(c.Constants, Constant{
						Name:     name,
						Type:     types[pos],
						Relation: atom.Relation,
						Position: pos,
						Domain:   atom.Relation.Domain(pos),
					})
				}
			}
		}
		sort.Slice(c.Constants, func(i, j int) bool { return c.Constants[i].Name < c.Constants[j].Name })
		if c.Combinations() == 0 {
			return
		}
		ferr = fn(c)
	})
	if err != nil {
		return err
	}
	return ferr
}

// SampleIndices draws k distinct indices from [0, n) and returns them
// sorted. It uses Floyd's algorithm so the cost is independent of n.
func SampleIndices(rng *rand.Rand, n, k int) []int {
	if k >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	chosen := make(map[int]bool, k)
	out := make([]int, 0, k)
	for j := n - k; j < n; j++ {
		t := rng.Intn(j + 1)
		if chosen[t] {
			t = j
		}
		chosen[t] = true
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}
