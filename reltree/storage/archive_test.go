package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/dataset"
	"github.com/wbrown/janus-reltree/reltree/feature"
	"github.com/wbrown/janus-reltree/reltree/relation"
	"github.com/wbrown/janus-reltree/reltree/tree"
)

const facts = `
target(ann, pos)
target(bob, pos)
target(cid, neg)
target(dan, neg)
age(ann, 30)
age(bob, 40)
age(cid, 10)
age(dan, 15.5)
scores(ann, [1, 2])
`

func testStore(t *testing.T) *relation.Store {
	t.Helper()
	s := relation.NewStore()
	_, err := s.Declare("target", []reltree.Type{"Person", reltree.Nominal})
	require.NoError(t, err)
	_, err = s.Declare("age", []reltree.Type{"Person", reltree.Numeric})
	require.NoError(t, err)
	_, err = s.Declare("scores", []reltree.Type{"Person", "multi_target[numeric]"})
	require.NoError(t, err)
	_, err = relation.LoadFacts(strings.NewReader(facts), s)
	require.NoError(t, err)
	return s
}

func tuples(s *relation.Store) map[string][]string {
	out := make(map[string][]string)
	for _, r := range s.Relations() {
		for _, t := range r.Tuples() {
			out[r.Name()] = append(out[r.Name()], t.String())
		}
	}
	return out
}

func TestArchiveStore(t *testing.T) {
	t.Run("round trip on disk", func(t *testing.T) {
		dir := t.TempDir()
		a, err := Open(dir)
		require.NoError(t, err)
		s := testStore(t)
		require.NoError(t, a.PutStore(s))
		require.NoError(t, a.Close())

		a, err = Open(dir)
		require.NoError(t, err)
		defer a.Close()
		back, n, err := a.LoadStore()
		require.NoError(t, err)
		assert.Equal(t, 9, n)
		assert.Equal(t, []string{"target", "age", "scores"}, back.Names())
		assert.Equal(t, tuples(s), tuples(back))

		r, _ := back.Relation("scores")
		assert.Equal(t, reltree.Type("multi_target[numeric]"), r.Types()[1])
	})

	t.Run("replace relation", func(t *testing.T) {
		a, err := OpenInMemory()
		require.NoError(t, err)
		defer a.Close()
		require.NoError(t, a.PutStore(testStore(t)))

		update := relation.NewStore()
		_, err = update.Declare("age", []reltree.Type{"Person", reltree.Numeric})
		require.NoError(t, err)
		require.NoError(t, update.Add("age", "eve", 50.0))
		require.NoError(t, a.PutStore(update))

		names, err := a.Relations()
		require.NoError(t, err)
		assert.Equal(t, []string{"target", "age", "scores"}, names)

		back, n, err := a.LoadStore()
		require.NoError(t, err)
		assert.Equal(t, 6, n)
		r, _ := back.Relation("age")
		require.Len(t, r.Tuples(), 1)
		assert.Equal(t, reltree.Tuple{"eve", 50.0}, r.Tuples()[0])
	})

	t.Run("empty archive", func(t *testing.T) {
		a, err := OpenInMemory()
		require.NoError(t, err)
		defer a.Close()
		s, n, err := a.LoadStore()
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, s.Names())
	})
}

func TestArchiveModels(t *testing.T) {
	a, err := OpenInMemory()
	require.NoError(t, err)
	defer a.Close()

	s := testStore(t)
	r, _ := s.Relation("target")
	d, err := dataset.FromRelation(r)
	require.NoError(t, err)
	age, _ := s.Relation("age")
	spec, err := feature.NewSpec(age, feature.Old, feature.New)
	require.NoError(t, err)
	opts := tree.DefaultOptions()
	opts.Specs = []feature.Spec{spec}
	b, err := tree.NewBuilder(s, opts, nil)
	require.NoError(t, err)
	tr, err := b.Build(context.Background(), d)
	require.NoError(t, err)

	require.NoError(t, a.PutModel("people", "tree", tr))
	require.NoError(t, a.PutModel("other", "tree", tr))

	names, err := a.Models()
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "people"}, names)

	kind, data, err := a.Model("people")
	require.NoError(t, err)
	assert.Equal(t, "tree", kind)
	back, err := tree.Decode(data, s)
	require.NoError(t, err)
	assert.Equal(t, tr.String(), back.String())

	require.NoError(t, a.DeleteModel("other"))
	_, _, err = a.Model("other")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(a.DeleteModel("other"), ErrNotFound))
}
