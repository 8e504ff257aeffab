package join

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/aggregate"
	"github.com/wbrown/janus-reltree/reltree/binding"
	"github.com/wbrown/janus-reltree/reltree/relation"
)

const family = `
fatherOf(jim1, ann)
fatherOf(jim1, bob)
fatherOf(jim1, dan)
fatherOf(tom, cid)
score(ann, 4)
score(ann, 8)
score(bob, 3)
score(bob, 5)
score(bob, 7)
score(cid, 1)
visit(jim1, rome, 3)
visit(jim1, oslo, 9)
visit(jim1, rome, 5)
pair(jim1, ann, ann)
pair(jim1, ann, bob)
pair(tom, cid, cid)
`

func newFamily(t *testing.T) *relation.Store {
	t.Helper()
	s := relation.NewStore()
	for name, types := range map[string][]reltree.Type{
		"fatherOf": {"Person", "Person"},
		"score":    {"Person", reltree.Numeric},
		"visit":    {"Person", reltree.Nominal, reltree.Numeric},
		"pair":     {"Person", "Person", "Person"},
	} {
		_, err := s.Declare(name, types)
		require.NoError(t, err)
	}
	_, err := relation.LoadFacts(strings.NewReader(family), s)
	require.NoError(t, err)
	return s
}

func atom(t *testing.T, s *relation.Store, name string, args ...string) Atom {
	t.Helper()
	r, ok := s.Relation(name)
	require.True(t, ok, name)
	return NewAtom(r, args...)
}

// scope binds X0 and declares the free and constant variables used below.
func scope(t *testing.T, x0 string, consts map[string]interface{}) *binding.Example {
	t.Helper()
	ex := binding.NewExample()
	add := func(name string, typ reltree.Type, value interface{}) {
		v, err := binding.NewVariable(name, typ, value)
		require.NoError(t, err)
		require.NoError(t, ex.Add(v))
	}
	add("X0", "Person", x0)
	for _, y := range []string{"Y0", "Y1", "Y2", "Y5", "Y9"} {
		add(y, "Person", nil)
	}
	for name, value := range consts {
		add(name, "Person", value)
	}
	return ex
}

func TestEvaluateAggregatorChains(t *testing.T) {
	s := newFamily(t)
	children := Chain{atom(t, s, "fatherOf", "X0", "Y0"), atom(t, s, "score", "Y0", "Y1")}

	tests := []struct {
		name  string
		chain Chain
		aggs  []aggregate.Aggregator
		want  interface{}
	}{
		// ann: mean 6, bob: mean 5, dan: no scores
		{"mean then min", children, []aggregate.Aggregator{aggregate.Min, aggregate.Mean}, 5.0},
		{"count then max", children, []aggregate.Aggregator{aggregate.Max, aggregate.Count}, 3.0},
		{"count then sum", children, []aggregate.Aggregator{aggregate.Sum, aggregate.Count}, 5.0},
		{"flatten then mean", children, []aggregate.Aggregator{aggregate.Mean, aggregate.Flatten}, 27.0 / 5},
		{"children", Chain{atom(t, s, "fatherOf", "X0", "Y0")}, []aggregate.Aggregator{aggregate.Count}, 3.0},
		{"mode", Chain{atom(t, s, "fatherOf", "X0", "Y0")}, []aggregate.Aggregator{aggregate.Mode}, "ann"},
		{"tuple count unique", Chain{atom(t, s, "visit", "X0", "Y0", "Y1")}, []aggregate.Aggregator{aggregate.CountUnique}, 3.0},
		{"tuple projection", Chain{atom(t, s, "visit", "X0", "Y0", "Y1")},
			[]aggregate.Aggregator{aggregate.Projection(2, aggregate.Max)}, 9.0},
		{"tuple projection nominal", Chain{atom(t, s, "visit", "X0", "Y0", "Y1")},
			[]aggregate.Aggregator{aggregate.Projection(1, aggregate.CountUnique)}, 2.0},
		{"repeated free variable", Chain{atom(t, s, "pair", "X0", "Y0", "Y0")}, []aggregate.Aggregator{aggregate.Count}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := scope(t, "jim1", nil)
			got, err := NewEvaluator(nil, false).Evaluate(ex, 0, tt.chain, tt.aggs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			for _, name := range []string{"Y0", "Y1"} {
				v, _ := ex.Get(name)
				assert.False(t, v.IsSet(), "%s left grounded", name)
			}
		})
	}
}

func TestEvaluateConstants(t *testing.T) {
	s := newFamily(t)
	chain := Chain{atom(t, s, "fatherOf", "X0", "C0")}
	sum := []aggregate.Aggregator{aggregate.Sum}

	got, err := NewEvaluator(nil, false).Evaluate(scope(t, "jim1", map[string]interface{}{"C0": "bob"}), 0, chain, sum)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	got, err = NewEvaluator(nil, false).Evaluate(scope(t, "tom", map[string]interface{}{"C0": "bob"}), 1, chain, sum)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}

func TestIgnoreCritical(t *testing.T) {
	s := newFamily(t)
	chain := Chain{atom(t, s, "fatherOf", "X0", "Y0"), atom(t, s, "score", "Y0", "Y1")}
	aggs := []aggregate.Aggregator{aggregate.Max, aggregate.Mean}

	// dan has no scores, so his mean is +Inf
	got, err := NewEvaluator(nil, false).Evaluate(scope(t, "jim1", nil), 0, chain, aggs)
	require.NoError(t, err)
	assert.True(t, math.IsInf(got.(float64), 1))

	got, err = NewEvaluator(nil, true).Evaluate(scope(t, "jim1", nil), 0, chain, aggs)
	require.NoError(t, err)
	assert.Equal(t, 6.0, got)
}

func TestMemo(t *testing.T) {
	s := newFamily(t)
	chain := Chain{atom(t, s, "fatherOf", "X0", "Y0"), atom(t, s, "score", "Y0", "Y1")}
	renamed := Chain{atom(t, s, "fatherOf", "X0", "Y5"), atom(t, s, "score", "Y5", "Y9")}
	aggs := []aggregate.Aggregator{aggregate.Min, aggregate.Mean}

	t.Run("same value with and without memo", func(t *testing.T) {
		memo := NewMemo()
		withMemo := NewEvaluator(memo, false)
		plain := NewEvaluator(nil, false)
		for _, x := range []string{"jim1", "tom"} {
			ex := scope(t, x, nil)
			first, err := withMemo.Evaluate(ex, 7, chain, aggs)
			require.NoError(t, err)
			second, err := withMemo.Evaluate(ex, 7, chain, aggs)
			require.NoError(t, err)
			reference, err := plain.Evaluate(ex, 7, chain, aggs)
			require.NoError(t, err)
			assert.Equal(t, reference, first)
			assert.Equal(t, first, second)
			memo.Clear()
		}
	})

	t.Run("renamed variables share entries", func(t *testing.T) {
		memo := NewMemo()
		e := NewEvaluator(memo, false)
		_, err := e.Evaluate(scope(t, "jim1", nil), 0, chain, aggs)
		require.NoError(t, err)
		got, err := e.Evaluate(scope(t, "jim1", nil), 0, renamed, aggs)
		require.NoError(t, err)
		assert.Equal(t, 5.0, got)

		hits, misses, size := memo.Stats()
		assert.Equal(t, int64(1), hits)
		assert.Equal(t, int64(1), misses)
		assert.Equal(t, 1, size)
	})

	t.Run("keys", func(t *testing.T) {
		p, err := newPlan(scope(t, "jim1", map[string]interface{}{"C3": "ann"}), Chain{
			atom(t, s, "fatherOf", "X0", "Y0"),
			atom(t, s, "pair", "Y0", "Y1", "C3"),
		})
		require.NoError(t, err)
		assert.Equal(t, `fatherOf(="jim1",#0);pair(#0,#1,="ann")`, p.key())
		assert.Equal(t, []int{0, 2}, p.steps[1].known)
		assert.Equal(t, []int{1}, p.steps[1].fresh)
	})

	t.Run("nil memo", func(t *testing.T) {
		var m *Memo
		_, ok := m.Get(0, "k")
		assert.False(t, ok)
		m.Set(0, "k", 1.0)
		hits, misses, size := m.Stats()
		assert.Zero(t, hits+misses)
		assert.Zero(t, size)
	})
}

func TestEvaluateBatch(t *testing.T) {
	s := newFamily(t)
	chain := Chain{atom(t, s, "fatherOf", "X0", "Y0"), atom(t, s, "score", "Y0", "Y1")}
	batch := [][]aggregate.Aggregator{
		{aggregate.Min, aggregate.Mean},
		{aggregate.Max, aggregate.Count},
		{aggregate.Sum, aggregate.Sum},
	}
	memo := NewMemo()
	e := NewEvaluator(memo, false)

	// warm one entry so the batch mixes hits and misses
	_, err := e.Evaluate(scope(t, "jim1", nil), 3, chain, batch[1])
	require.NoError(t, err)

	got, err := e.EvaluateBatch(scope(t, "jim1", nil), 3, chain, batch)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{5.0, 3.0, 27.0}, got)

	hits, _, size := memo.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, 3, size)
}

func TestEvaluateErrors(t *testing.T) {
	s := newFamily(t)
	e := NewEvaluator(nil, false)

	_, err := e.Evaluate(scope(t, "jim1", nil), 0, Chain{atom(t, s, "fatherOf", "X0", "Y7")}, []aggregate.Aggregator{aggregate.Count})
	assert.ErrorIs(t, err, ErrUnboundVariable)

	_, err = e.Evaluate(scope(t, "jim1", nil), 0, Chain{atom(t, s, "fatherOf", "X0")}, []aggregate.Aggregator{aggregate.Count})
	assert.ErrorIs(t, err, ErrMalformedChain)

	_, err = e.Evaluate(scope(t, "jim1", nil), 0, Chain{atom(t, s, "fatherOf", "X0", "Y0")}, nil)
	assert.ErrorIs(t, err, ErrMalformedChain)
}

func TestChainString(t *testing.T) {
	s := newFamily(t)
	c := Chain{atom(t, s, "fatherOf", "X0", "Y0"), atom(t, s, "score", "Y0", "Y1")}
	assert.Equal(t, "fatherOf(X0, Y0), score(Y0, Y1)", c.String())
	assert.Equal(t, []string{"fatherOf", "score"}, c.Relations())
	assert.True(t, c[0].Equal(atom(t, s, "fatherOf", "X0", "Y0")))
	assert.False(t, c[0].Equal(atom(t, s, "fatherOf", "Y0", "X0")))
	assert.Equal(t, "min,mean", AggregatorNames([]aggregate.Aggregator{aggregate.Min, aggregate.Mean}))
}
