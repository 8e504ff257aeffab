package tree

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/aggregate"
	"github.com/wbrown/janus-reltree/reltree/annotations"
	"github.com/wbrown/janus-reltree/reltree/dataset"
	"github.com/wbrown/janus-reltree/reltree/feature"
	"github.com/wbrown/janus-reltree/reltree/relation"
)

type decl struct {
	name  string
	types []reltree.Type
}

func newStore(t *testing.T, decls []decl, facts string) *relation.Store {
	t.Helper()
	s := relation.NewStore()
	for _, d := range decls {
		_, err := s.Declare(d.name, d.types)
		require.NoError(t, err)
	}
	_, err := relation.LoadFacts(strings.NewReader(facts), s)
	require.NoError(t, err)
	return s
}

func newDataset(t *testing.T, s *relation.Store, target string) *dataset.Dataset {
	t.Helper()
	r, ok := s.Relation(target)
	require.True(t, ok)
	d, err := dataset.FromRelation(r)
	require.NoError(t, err)
	return d
}

func specOf(t *testing.T, s *relation.Store, name string, modes ...feature.Mode) feature.Spec {
	t.Helper()
	r, ok := s.Relation(name)
	require.True(t, ok)
	sp, err := feature.NewSpec(r, modes...)
	require.NoError(t, err)
	return sp
}

// ann and bob are old and positive; cid and dan are young and negative.
// eve only appears in background facts.
func ageStore(t *testing.T) *relation.Store {
	return newStore(t, []decl{
		{"target", []reltree.Type{"Person", reltree.Nominal}},
		{"age", []reltree.Type{"Person", reltree.Numeric}},
		{"likes", []reltree.Type{"Person", "Person"}},
	}, `
target(ann, pos)
target(bob, pos)
target(cid, neg)
target(dan, neg)
age(ann, 30)
age(bob, 40)
age(cid, 10)
age(dan, 15)
age(eve, 50)
likes(ann, bob)
likes(bob, ann)
`)
}

func ageOptions(t *testing.T, s *relation.Store) Options {
	opts := DefaultOptions()
	opts.Specs = []feature.Spec{specOf(t, s, "age", feature.Old, feature.New)}
	return opts
}

func build(t *testing.T, s *relation.Store, opts Options, handler annotations.Handler) *Tree {
	t.Helper()
	b, err := NewBuilder(s, opts, handler)
	require.NoError(t, err)
	tr, err := b.Build(context.Background(), newDataset(t, s, "target"))
	require.NoError(t, err)
	return tr
}

func TestOptions(t *testing.T) {
	t.Run("sample size", func(t *testing.T) {
		tests := []struct {
			relative string
			max      int
			n        int
			want     int
		}{
			{"1.0", -1, 10, 10},
			{"sqrt", -1, 10, 3},
			{"log", -1, 10, 3},
			{"0.25", -1, 10, 3},
			{"1.0", 2, 10, 2},
			{"0", -1, 10, 1},
			{"1.0", -1, 0, 0},
		}
		for _, tt := range tests {
			o := DefaultOptions()
			o.RelativeCandidates = tt.relative
			o.MaxCandidates = tt.max
			got, err := o.SampleSize(tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "%s of %d", tt.relative, tt.n)
		}
	})

	t.Run("validation", func(t *testing.T) {
		assert.NoError(t, DefaultOptions().Validate())
		for _, mutate := range []func(*Options){
			func(o *Options) { o.RelativeCandidates = "cube" },
			func(o *Options) { o.RelativeCandidates = "1.5" },
			func(o *Options) { o.MaxAtomTests = 0 },
			func(o *Options) { o.MaxChainLength = 0 },
			func(o *Options) { o.MinLeafWeight = -1 },
			func(o *Options) { o.ClassWeights = map[string]float64{"a": -1} },
		} {
			o := DefaultOptions()
			mutate(&o)
			assert.True(t, errors.Is(o.Validate(), ErrInvalidOptions))
		}
	})
}

func TestBuild(t *testing.T) {
	s := ageStore(t)

	t.Run("numeric split", func(t *testing.T) {
		tr := build(t, s, ageOptions(t, s), nil)
		require.False(t, tr.Root.IsLeaf())
		assert.Equal(t, 3, tr.Size())
		assert.Equal(t, 1, tr.InternalNodes())
		assert.Equal(t, 2, tr.Depth())

		test := tr.Root.Test
		assert.Equal(t, "age(X0, Y1)", test.Chain.String())
		assert.Equal(t, aggregate.Smaller, test.Comparator)
		assert.Equal(t, 22.5, test.Threshold)
		assert.Equal(t, []float64{0.5, 0.5}, tr.Root.Stats.BranchFrequencies())

		assert.Equal(t, "0.0", tr.Root.Children[Positive].Label)
		assert.Equal(t, "0.1", tr.Root.Children[Negative].Label)
		assert.Equal(t, "neg", tr.Root.Children[Positive].Stats.Prediction())
		assert.Equal(t, "pos", tr.Root.Children[Negative].Stats.Prediction())
		assert.Same(t, tr.Root, tr.Root.Children[Positive].Parent)
	})

	t.Run("prediction", func(t *testing.T) {
		tr := build(t, s, ageOptions(t, s), nil)
		for person, want := range map[string]string{"ann": "pos", "bob": "pos", "cid": "neg", "dan": "neg", "eve": "pos"} {
			got, err := tr.Predict(reltree.Tuple{person})
			require.NoError(t, err)
			assert.Equal(t, want, got, person)
		}
		leaf, err := tr.PredictStats(reltree.Tuple{"cid"})
		require.NoError(t, err)
		assert.Equal(t, 2.0, leaf.Weight())

		_, err = tr.Predict(reltree.Tuple{"ann", "bob"})
		assert.True(t, errors.Is(err, ErrArity))
	})

	t.Run("dump", func(t *testing.T) {
		out := build(t, s, ageOptions(t, s), nil).String()
		assert.True(t, strings.HasPrefix(out, "Tree for target:\n"))
		assert.Contains(t, out, "  IF age(X0, Y1) [")
		assert.Contains(t, out, "] < 22.5:\n  YES\n")
		assert.Contains(t, out, "    return neg ([neg, pos]: [2, 0])")
		assert.Contains(t, out, "  NO\n    return pos ([neg, pos]: [0, 2])")
	})

	t.Run("memo does not change the tree", func(t *testing.T) {
		opts := ageOptions(t, s)
		with := build(t, s, opts, nil)
		opts.DisableMemo = true
		without := build(t, s, opts, nil)
		assert.Equal(t, with.String(), without.String())
	})

	t.Run("stopping rules", func(t *testing.T) {
		for name, mutate := range map[string]func(*Options){
			"depth":       func(o *Options) { o.MaxDepth = 1 },
			"node budget": func(o *Options) { o.MaxNodes = 0 },
			"weight":      func(o *Options) { o.MinLeafWeight = 2.5 },
		} {
			opts := ageOptions(t, s)
			mutate(&opts)
			tr := build(t, s, opts, nil)
			assert.True(t, tr.Root.IsLeaf(), name)
			assert.Equal(t, "neg", tr.Root.Stats.Prediction(), name)
		}
	})

	t.Run("constant class", func(t *testing.T) {
		pure := newStore(t, []decl{
			{"target", []reltree.Type{"Person", reltree.Nominal}},
			{"age", []reltree.Type{"Person", reltree.Numeric}},
		}, "target(ann, pos)\ntarget(bob, pos)\nage(ann, 1)\nage(bob, 2)\n")
		tr := build(t, pure, DefaultOptions(), nil)
		assert.True(t, tr.Root.IsLeaf())
		assert.Equal(t, "pos", tr.Root.Stats.Prediction())
	})

	t.Run("only existential", func(t *testing.T) {
		opts := DefaultOptions()
		opts.OnlyExistential = true
		opts.Specs = []feature.Spec{specOf(t, s, "likes", feature.Old, feature.New)}
		tr := build(t, s, opts, nil)
		require.False(t, tr.Root.IsLeaf())
		assert.Equal(t, "likes(X0, Y1)", tr.Root.Test.Chain.String())
		assert.Equal(t, "[count]", tr.Root.Test.Aggregators.String())
		assert.Equal(t, 0.5, tr.Root.Test.Threshold)
		assert.Equal(t, "neg", tr.Root.Children[Positive].Stats.Prediction())
	})

	t.Run("class weights", func(t *testing.T) {
		opts := ageOptions(t, s)
		opts.ClassWeights = map[string]float64{"pos": 3}
		tr := build(t, s, opts, nil)
		assert.Equal(t, 8.0, tr.Root.Stats.Weight())
	})

	t.Run("events", func(t *testing.T) {
		var names []string
		build(t, s, ageOptions(t, s), func(e annotations.Event) { names = append(names, e.Name) })
		require.NotEmpty(t, names)
		assert.Equal(t, annotations.TreeBuildBegin, names[0])
		assert.Equal(t, annotations.TreeBuildCompleted, names[len(names)-1])
		assert.Contains(t, names, annotations.NodeSplit)
		assert.Contains(t, names, annotations.CandidatesCounted)
		assert.Contains(t, names, annotations.MemoStats)
	})

	t.Run("empty dataset", func(t *testing.T) {
		b, err := NewBuilder(s, DefaultOptions(), nil)
		require.NoError(t, err)
		d := newDataset(t, s, "target")
		d.Examples = nil
		_, err = b.Build(context.Background(), d)
		assert.True(t, errors.Is(err, dataset.ErrEmpty))
	})

	t.Run("unsupported heuristic", func(t *testing.T) {
		opts := ageOptions(t, s)
		opts.Heuristic = "variance"
		b, err := NewBuilder(s, opts, nil)
		require.NoError(t, err)
		_, err = b.Build(context.Background(), newDataset(t, s, "target"))
		assert.True(t, errors.Is(err, ErrInvalidOptions))
	})

	t.Run("cancelled", func(t *testing.T) {
		b, err := NewBuilder(s, ageOptions(t, s), nil)
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = b.Build(ctx, newDataset(t, s, "target"))
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestVariableTest(t *testing.T) {
	s := newStore(t, []decl{
		{"pair", []reltree.Type{"Person", "Person", reltree.Nominal}},
		{"friend", []reltree.Type{"Person", "Person"}},
	}, `
pair(ann, bob, yes)
pair(cid, dan, yes)
pair(ann, cid, no)
pair(cid, bob, no)
friend(ann, bob)
friend(cid, dan)
`)
	opts := DefaultOptions()
	opts.Specs = []feature.Spec{specOf(t, s, "friend", feature.Old, feature.New)}
	b, err := NewBuilder(s, opts, nil)
	require.NoError(t, err)
	tr, err := b.Build(context.Background(), newDataset(t, s, "pair"))
	require.NoError(t, err)

	require.False(t, tr.Root.IsLeaf())
	test := tr.Root.Test
	assert.True(t, test.Variables)
	assert.Equal(t, aggregate.Contains, test.Comparator)
	assert.Equal(t, []interface{}{"X1"}, test.Threshold)
	assert.Equal(t, "friend(X0, Y2)", test.Chain.String())

	for _, tt := range []struct {
		x0, x1, want string
	}{
		{"cid", "dan", "yes"},
		{"ann", "bob", "yes"},
		{"ann", "dan", "no"},
	} {
		got, err := tr.Predict(reltree.Tuple{tt.x0, tt.x1})
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %s", tt.x0, tt.x1)
	}
}

func TestCodec(t *testing.T) {
	s := ageStore(t)
	tr := build(t, s, ageOptions(t, s), nil)

	data, err := json.Marshal(tr)
	require.NoError(t, err)
	back, err := Decode(data, s)
	require.NoError(t, err)

	assert.Equal(t, tr.String(), back.String())
	assert.Equal(t, tr.Kind, back.Kind)
	assert.Equal(t, tr.TargetVars, back.TargetVars)
	assert.Same(t, back.Root, back.Root.Children[Negative].Parent)
	for _, person := range []string{"ann", "cid", "eve"} {
		want, err := tr.Predict(reltree.Tuple{person})
		require.NoError(t, err)
		got, err := back.Predict(reltree.Tuple{person})
		require.NoError(t, err)
		assert.Equal(t, want, got, person)
	}

	t.Run("unknown relation", func(t *testing.T) {
		_, err := Decode(data, relation.NewStore())
		assert.True(t, errors.Is(err, relation.ErrUnknownRelation))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Decode([]byte("{"), s)
		assert.True(t, errors.Is(err, ErrMalformedModel))
	})
}

func TestRanking(t *testing.T) {
	s := ageStore(t)
	tr := build(t, s, ageOptions(t, s), nil)

	r := tr.Ranking(Genie3)
	assert.InDelta(t, 0.5, r.Attributes["age[X,Y]"], 1e-12)
	assert.InDelta(t, 0.5, r.Relations["age"], 1e-12)
	assert.Len(t, r.Aggregators, 1)

	sym := tr.Ranking(Symbolic)
	assert.InDelta(t, 1.0, sym.Relations["age"], 1e-12)

	total := NewRanking()
	total.Add(r, 0.5)
	total.Add(r, 0.5)
	assert.InDelta(t, 0.5, total.Relations["age"], 1e-12)

	out := FormatRanking(r)
	assert.Contains(t, out, "### Attributes")
	assert.Contains(t, out, "age[X,Y]")
	assert.Contains(t, out, "0.50000")

	kind, err := ParseImportance("genie3")
	require.NoError(t, err)
	assert.Equal(t, Genie3, kind)
	_, err = ParseImportance("PROBDIST")
	assert.Error(t, err)
}
