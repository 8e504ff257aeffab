package feature

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/join"
	"github.com/wbrown/janus-reltree/reltree/relation"
)

const people = `
target(ann, pos)
target(bob, neg)
parent(ann, bob)
parent(bob, cid)
age(ann, 40)
age(bob, 12)
age(cid, 3)
color(ann, red)
color(bob, blue)
color(cid, red)
`

func newPeople(t *testing.T) *relation.Store {
	t.Helper()
	s := relation.NewStore()
	for _, decl := range []struct {
		name  string
		types []reltree.Type
	}{
		{"target", []reltree.Type{"Person", reltree.Nominal}},
		{"parent", []reltree.Type{"Person", "Person"}},
		{"age", []reltree.Type{"Person", reltree.Numeric}},
		{"color", []reltree.Type{"Person", reltree.Nominal}},
	} {
		_, err := s.Declare(decl.name, decl.types)
		require.NoError(t, err)
	}
	_, err := relation.LoadFacts(strings.NewReader(people), s)
	require.NoError(t, err)
	return s
}

func spec(t *testing.T, s *relation.Store, name string, modes ...Mode) Spec {
	t.Helper()
	r, ok := s.Relation(name)
	require.True(t, ok, name)
	sp, err := NewSpec(r, modes...)
	require.NoError(t, err)
	return sp
}

func rootScope() (Scope, *Namer) {
	namer := NewNamer()
	return Scope{TargetLevel([]reltree.Type{"Person"}, namer)}, namer
}

func chainStrings(aggs []AggregatorChain) []string {
	out := make([]string, len(aggs))
	for i, a := range aggs {
		out[i] = a.String()
	}
	return out
}

func TestMode(t *testing.T) {
	for _, m := range []Mode{Old, New, Const} {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	_, err := ParseMode("older")
	assert.True(t, errors.Is(err, ErrInvalidSpec))
}

func TestNewSpec(t *testing.T) {
	s := newPeople(t)
	r, _ := s.Relation("age")
	_, err := NewSpec(r, Old)
	assert.True(t, errors.Is(err, relation.ErrArity))

	sp := spec(t, s, "age", Old, Const)
	assert.Equal(t, "age(old, c)", sp.String())
}

func TestDefaultSpecs(t *testing.T) {
	s := newPeople(t)
	var got []string
	for _, sp := range DefaultSpecs(s, "target") {
		got = append(got, sp.String())
	}
	assert.Equal(t, []string{
		"parent(old, new)", "parent(new, old)",
		"age(old, new)",
		"color(old, new)",
	}, got)
}

func TestNewGenerator(t *testing.T) {
	s := newPeople(t)
	specs := []Spec{spec(t, s, "age", Old, New)}

	t.Run("unknown aggregator", func(t *testing.T) {
		_, err := NewGenerator(Config{Specs: specs, Aggregators: []string{"median"}, MaxAtomTests: 1, MaxChainLength: 1})
		assert.Error(t, err)
	})
	t.Run("bounds", func(t *testing.T) {
		_, err := NewGenerator(Config{Specs: specs, Aggregators: []string{"count"}, MaxAtomTests: 0, MaxChainLength: 1})
		assert.True(t, errors.Is(err, ErrInvalidSpec))
		_, err = NewGenerator(Config{Specs: specs, Aggregators: []string{"count"}, MaxAtomTests: 1, MaxChainLength: 0})
		assert.True(t, errors.Is(err, ErrInvalidSpec))
	})
	t.Run("projection is allowed by name", func(t *testing.T) {
		g, err := NewGenerator(Config{Specs: specs, Aggregators: []string{"count", "projection"}, MaxAtomTests: 1, MaxChainLength: 1})
		require.NoError(t, err)
		assert.True(t, g.Allowed("projection"))
		assert.False(t, g.Allowed("sum"))
	})
}

func TestAggregatorChains(t *testing.T) {
	g, err := NewGenerator(Config{Aggregators: []string{"sum", "count", "mode"}, MaxAtomTests: 3, MaxChainLength: 3})
	require.NoError(t, err)
	numeric := []fresh{{name: "Y-1", typ: reltree.Numeric, position: 1}}
	nominal := []fresh{{name: "Y-1", typ: reltree.Nominal, position: 1}}
	types := []reltree.Type{"Person", reltree.Numeric}

	t.Run("numeric length one", func(t *testing.T) {
		assert.Equal(t, []string{"[count]", "[sum]"}, chainStrings(g.aggregatorChains(1, numeric, types)))
	})
	t.Run("nominal length two", func(t *testing.T) {
		got := g.aggregatorChains(2, nominal, []reltree.Type{"Person", reltree.Nominal})
		assert.Equal(t, []string{"[sum, count]", "[count, mode]", "[mode, mode]"}, chainStrings(got))
		assert.Equal(t, reltree.Numeric, got[0].Output)
		assert.Equal(t, reltree.Nominal, got[2].Output)
	})
	t.Run("numeric length three", func(t *testing.T) {
		assert.Equal(t, []string{"[sum, sum, count]", "[sum, sum, sum]"}, chainStrings(g.aggregatorChains(3, numeric, types)))
	})
	t.Run("nothing fresh sums the count", func(t *testing.T) {
		assert.Equal(t, []string{"[sum, sum]"}, chainStrings(g.aggregatorChains(2, nil, types)))
	})
	t.Run("sum forced even when not allowed", func(t *testing.T) {
		g2, err := NewGenerator(Config{Aggregators: []string{"count"}, MaxAtomTests: 2, MaxChainLength: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"[sum, sum]"}, chainStrings(g2.aggregatorChains(2, nil, types)))
	})
	t.Run("flatten never outermost", func(t *testing.T) {
		g2, err := NewGenerator(Config{Aggregators: []string{"flatten", "max"}, MaxAtomTests: 2, MaxChainLength: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"[max]"}, chainStrings(g2.aggregatorChains(1, numeric, types)))
		assert.Equal(t, []string{"[max, flatten]", "[max, max]"}, chainStrings(g2.aggregatorChains(2, numeric, types)))
	})
	t.Run("tuples", func(t *testing.T) {
		g2, err := NewGenerator(Config{Aggregators: []string{"max", "countUnique", "projection"}, MaxAtomTests: 1, MaxChainLength: 1})
		require.NoError(t, err)
		fr := []fresh{
			{name: "Y-1", typ: reltree.Nominal, position: 1},
			{name: "Y-2", typ: reltree.Numeric, position: 2},
		}
		got := g2.aggregatorChains(1, fr, []reltree.Type{"Person", reltree.Nominal, reltree.Numeric})
		assert.Equal(t, []string{
			"[projection1_countUnique]",
			"[projection2_countUnique]", "[projection2_max]",
			"[countUnique]",
		}, chainStrings(got))
		assert.Equal(t, reltree.Numeric, got[2].Output)
	})
}

func TestValidChain(t *testing.T) {
	s := newPeople(t)
	parent, _ := s.Relation("parent")
	age, _ := s.Relation("age")

	tests := []struct {
		name  string
		chain join.Chain
		want  bool
	}{
		{"single", join.Chain{join.NewAtom(age, "X0", "Y-1")}, true},
		{"linked", join.Chain{join.NewAtom(parent, "X0", "Y-1"), join.NewAtom(age, "Y-1", "Y-2")}, true},
		{"free variable dropped", join.Chain{join.NewAtom(parent, "X0", "Y-1"), join.NewAtom(age, "X0", "Y-2")}, false},
		{"disconnected", join.Chain{join.NewAtom(age, "X0", "C-1"), join.NewAtom(age, "X1", "C-2")}, false},
		{"repeated atom", join.Chain{join.NewAtom(age, "X0", "C-1"), join.NewAtom(age, "X0", "C-1")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validChain(tt.chain))
		})
	}
}

func TestFreshInLast(t *testing.T) {
	s := newPeople(t)
	parent, _ := s.Relation("parent")
	chain := join.Chain{join.NewAtom(parent, "X0", "Y-1"), join.NewAtom(parent, "Y-1", "Y-2")}
	got := freshInLast(chain, map[string]bool{"X0": true})
	assert.Equal(t, []fresh{{name: "Y-2", typ: "Person", position: 1}}, got)

	repeated := join.Chain{join.NewAtom(parent, "Y-1", "Y-1")}
	assert.Len(t, freshInLast(repeated, map[string]bool{"X0": true}), 1)
}

func TestCandidates(t *testing.T) {
	s := newPeople(t)
	scope, _ := rootScope()

	t.Run("single atom", func(t *testing.T) {
		g, err := NewGenerator(Config{
			Specs:          []Spec{spec(t, s, "age", Old, New)},
			Aggregators:    []string{"count", "max", "mean"},
			MaxAtomTests:   1,
			MaxChainLength: 1,
		})
		require.NoError(t, err)
		var got []*Candidate
		require.NoError(t, g.candidates(scope, nil, func(c *Candidate) error {
			got = append(got, c)
			return nil
		}))
		require.Len(t, got, 1)
		assert.Equal(t, "age(X0, Y-1)", got[0].Chain.String())
		assert.Equal(t, []string{"[count]", "[max]", "[mean]"}, chainStrings(got[0].Aggregators))
		assert.Equal(t, []Var{{Name: "Y-1", Type: reltree.Numeric}}, got[0].Vars)

		n, err := g.Count(scope, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("constants multiply the count", func(t *testing.T) {
		g, err := NewGenerator(Config{
			Specs:          []Spec{spec(t, s, "color", Old, Const)},
			Aggregators:    []string{"count"},
			MaxAtomTests:   1,
			MaxChainLength: 1,
		})
		require.NoError(t, err)
		n, err := g.Count(scope, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		var seen []interface{}
		require.NoError(t, g.Walk(scope, nil, n, []int{0, 1}, func(sel Selection) error {
			assert.Equal(t, "color(X0, C-1)", sel.Candidate.Chain.String())
			assert.Equal(t, []string{"[sum]"}, chainStrings(sel.Aggregators))
			seen = append(seen, sel.Values...)
			return nil
		}))
		assert.Equal(t, []interface{}{"blue", "red"}, seen)
	})

	t.Run("two atoms", func(t *testing.T) {
		g, err := NewGenerator(Config{
			Specs:          []Spec{spec(t, s, "parent", Old, New), spec(t, s, "age", Old, New)},
			Aggregators:    []string{"count", "max"},
			MaxAtomTests:   2,
			MaxChainLength: 2,
		})
		require.NoError(t, err)
		var chains []join.Chain
		require.NoError(t, g.candidates(scope, nil, func(c *Candidate) error {
			chains = append(chains, c.Chain)
			return nil
		}))
		found := false
		for _, c := range chains {
			assert.True(t, validChain(c), c.String())
			assert.LessOrEqual(t, len(c), 2)
			if len(c) == 2 && c[0].Relation.Name() == "parent" && c[1].Relation.Name() == "age" &&
				c[1].Args[0] == c[0].Args[1] {
				found = true
			}
		}
		assert.True(t, found, "parent then age of the child")
	})

	t.Run("scope must match the parent chain", func(t *testing.T) {
		g, err := NewGenerator(Config{
			Specs:          []Spec{spec(t, s, "age", Old, New)},
			Aggregators:    []string{"count"},
			MaxAtomTests:   1,
			MaxChainLength: 2,
		})
		require.NoError(t, err)
		age, _ := s.Relation("age")
		_, err = g.Count(scope, join.Chain{join.NewAtom(age, "X0", "Y1")})
		assert.True(t, errors.Is(err, ErrInvalidSpec))
	})
}

func TestWalk(t *testing.T) {
	s := newPeople(t)
	scope, _ := rootScope()
	g, err := NewGenerator(Config{
		Specs:          []Spec{spec(t, s, "age", Old, New), spec(t, s, "color", Old, Const)},
		Aggregators:    []string{"count", "max", "mean"},
		MaxAtomTests:   1,
		MaxChainLength: 1,
	})
	require.NoError(t, err)
	n, err := g.Count(scope, nil)
	require.NoError(t, err)
	// age(X0, Y-1) with three aggregators, color(X0, C-2) with two values
	assert.Equal(t, 5, n)

	t.Run("batches aggregators per binding", func(t *testing.T) {
		var sels []Selection
		require.NoError(t, g.Walk(scope, nil, n, []int{0, 2, 4}, func(sel Selection) error {
			sels = append(sels, sel)
			return nil
		}))
		require.Len(t, sels, 2)
		assert.Equal(t, []string{"[count]", "[mean]"}, chainStrings(sels[0].Aggregators))
		assert.Equal(t, []interface{}{"red"}, sels[1].Values)
	})
	t.Run("count mismatch", func(t *testing.T) {
		err := g.Walk(scope, nil, n+1, nil, func(Selection) error { return nil })
		assert.True(t, errors.Is(err, ErrCandidateCountMismatch))
	})
	t.Run("callback error stops the walk", func(t *testing.T) {
		boom := errors.New("boom")
		err := g.Walk(scope, nil, n, []int{0, 1}, func(Selection) error { return boom })
		assert.Equal(t, boom, err)
	})
}

func TestAccept(t *testing.T) {
	s := newPeople(t)
	scope, namer := rootScope()
	g, err := NewGenerator(Config{
		Specs:          []Spec{spec(t, s, "parent", Old, New), spec(t, s, "color", Old, Const)},
		Aggregators:    []string{"count"},
		MaxAtomTests:   2,
		MaxChainLength: 2,
	})
	require.NoError(t, err)

	var target *Candidate
	require.NoError(t, g.candidates(scope, nil, func(c *Candidate) error {
		if len(c.Chain) == 2 && c.Chain[0].Relation.Name() == "parent" && c.Chain[1].Relation.Name() == "color" &&
			c.Chain[1].Args[0] == c.Chain[0].Args[1] && target == nil {
			target = c
		}
		return nil
	}))
	require.NotNil(t, target)

	chain, levels := target.Accept(scope, []interface{}{"red"}, namer)
	assert.Equal(t, "parent(X0, Y1), color(Y1, C0)", chain.String())
	require.Len(t, levels, 2)
	assert.Equal(t, Level{{Name: "Y1", Type: "Person"}}, levels[0])
	assert.Equal(t, Level{{Name: "C0", Type: reltree.Nominal, Value: "red"}}, levels[1])

	child := scope.Extend(target.Start, levels)
	require.Len(t, child, 3)
	ex, err := child.Example()
	require.NoError(t, err)
	c0, ok := ex.Get("C0")
	require.True(t, ok)
	v, set := c0.Value()
	assert.True(t, set)
	assert.Equal(t, "red", v)

	// The extended scope admits candidates starting at every level.
	n, err := g.Count(child, chain)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestSampleIndices(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	got := SampleIndices(rng, 100, 10)
	require.Len(t, got, 10)
	for i := range got {
		assert.True(t, got[i] >= 0 && got[i] < 100)
		if i > 0 {
			assert.Less(t, got[i-1], got[i])
		}
	}
	assert.Equal(t, []int{0, 1, 2}, SampleIndices(rng, 3, 5))
}

func TestNamer(t *testing.T) {
	n := NewNamer()
	level := TargetLevel([]reltree.Type{"Person", reltree.Nominal}, n)
	assert.Equal(t, "X0", level[0].Name)
	assert.Equal(t, "X1", level[1].Name)
	assert.Equal(t, "Y2", n.Next('Y'))
	assert.Equal(t, "C0", n.Next('C'))
	assert.Equal(t, "C1", n.Next('C'))
}
