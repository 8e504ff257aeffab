package settings

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/ensemble"
	"github.com/wbrown/janus-reltree/reltree/feature"
	"github.com/wbrown/janus-reltree/reltree/relation"
	"github.com/wbrown/janus-reltree/reltree/tree"
)

const example = `
// mutagenesis-like toy settings
[Relations]
active(Molecule, nominal)
atom(Molecule, Atom, Element)
charge(Atom, numeric)   // partial charge
atom(Molecule, Atom, Element)

[Aggregates]
count
mean
count

[AtomTests]
atom(old, new, c)
charge(old, new)

[TreeParameters]
numNodes = 10
maxDepth = inf
minInstancesNode = 2
maxTestLength = 2
numNodes = 12
`

func TestParse(t *testing.T) {
	t.Run("sections", func(t *testing.T) {
		s, err := Parse(strings.NewReader(example))
		require.NoError(t, err)

		require.Len(t, s.Relations, 3)
		assert.Equal(t, "active", s.Target())
		assert.Equal(t, []reltree.Type{"Molecule", "Atom", "Element"}, s.Relations[1].Types)
		assert.Equal(t, []string{"count", "mean"}, s.Aggregators)
		require.Len(t, s.AtomTests, 2)
		assert.Equal(t, "atom(old, new, c)", s.AtomTests[0].String())
		assert.Equal(t, []feature.Mode{feature.Old, feature.New}, s.AtomTests[1].Modes)

		assert.Equal(t, TreeParameters{MaxNodes: 12, MinLeafWeight: 2, MaxDepth: -1, MaxAtomTests: 2}, s.Tree)
		assert.Len(t, s.Warnings, 3)
	})

	t.Run("defaults", func(t *testing.T) {
		s, err := Parse(strings.NewReader("[Relations]\nt(A, numeric)\n"))
		require.NoError(t, err)
		assert.Equal(t, DefaultTreeParameters(), s.Tree)
		assert.Empty(t, s.Aggregators)
		assert.Empty(t, s.Warnings)
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name  string
			input string
		}{
			{"unknown section", "[Data]\nx\n"},
			{"outside section", "t(A, nominal)\n"},
			{"no relations", "[Aggregates]\ncount\n"},
			{"label not constant", "[Relations]\nt(A, B)\n"},
			{"constant descriptive", "[Relations]\nt(numeric, nominal)\n"},
			{"unknown aggregator", "[Relations]\nt(A, nominal)\n[Aggregates]\nmedian\n"},
			{"unknown mode", "[Relations]\nt(A, nominal)\n[AtomTests]\nt(old, maybe)\n"},
			{"unknown test relation", "[Relations]\nt(A, nominal)\n[AtomTests]\nu(old)\n"},
			{"test arity", "[Relations]\nt(A, nominal)\n[AtomTests]\nt(old)\n"},
			{"parameter format", "[Relations]\nt(A, nominal)\n[TreeParameters]\nmaxDepth\n"},
			{"parameter value", "[Relations]\nt(A, nominal)\n[TreeParameters]\nmaxDepth = deep\n"},
			{"unknown parameter", "[Relations]\nt(A, nominal)\n[TreeParameters]\nwidth = 3\n"},
			{"bad test length", "[Relations]\nt(A, nominal)\n[TreeParameters]\nmaxTestLength = 0\n"},
			{"bad type", "[Relations]\nt(A-B, nominal)\n"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Parse(strings.NewReader(tt.input))
				assert.True(t, errors.Is(err, ErrMalformedSettings), "got %v", err)
			})
		}
	})
}

func TestApply(t *testing.T) {
	s, err := Parse(strings.NewReader(example))
	require.NoError(t, err)
	store := relation.NewStore()
	require.NoError(t, s.Declare(store))
	assert.Equal(t, []string{"active", "atom", "charge"}, store.Names())

	opts := tree.DefaultOptions()
	require.NoError(t, s.Apply(&opts, store))
	require.Len(t, opts.Specs, 2)
	assert.Equal(t, "charge(old, new)", opts.Specs[1].String())
	assert.Equal(t, []string{"count", "mean"}, opts.Aggregators)
	assert.Equal(t, 12, opts.MaxNodes)
	assert.Equal(t, -1, opts.MaxDepth)
	assert.Equal(t, 2.0, opts.MinLeafWeight)
	assert.Equal(t, 2, opts.MaxAtomTests)
	assert.NoError(t, opts.Validate())

	_, err = s.Specs(relation.NewStore())
	assert.True(t, errors.Is(err, relation.ErrUnknownRelation))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRunConfig(t *testing.T) {
	t.Run("overrides and paths", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "run.yaml", `
settings: toy.s
facts: [toy.fact, /data/extra.fact]
archive: archive
model:
  type: forest
  name: toy-forest
tree:
  relative_candidates: sqrt
  class_weights:
    pos: 2
forest:
  trees: 25
  voting: zero-one
  stratified: true
`)
		cfg, err := LoadRunConfig(path)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "toy.s"), cfg.Settings)
		assert.Equal(t, []string{filepath.Join(dir, "toy.fact"), "/data/extra.fact"}, cfg.Facts)
		assert.Equal(t, filepath.Join(dir, "archive"), cfg.Archive)

		opts, err := cfg.ForestOptions(tree.DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, 25, opts.Trees)
		assert.Equal(t, ensemble.ZeroOne, opts.Voting)
		assert.True(t, opts.Stratified)
		assert.Equal(t, ensemble.DefaultForestSeed, opts.Seed)
		assert.Equal(t, tree.RelativeSqrt, opts.Tree.RelativeCandidates)
		assert.Equal(t, map[string]float64{"pos": 2}, opts.Tree.ClassWeights)
		assert.Equal(t, tree.DefaultSeed, opts.Tree.Seed)
	})

	t.Run("boosting defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "run.yaml", "settings: toy.s\nmodel:\n  type: boosting\n")
		cfg, err := LoadRunConfig(path)
		require.NoError(t, err)
		opts := cfg.BoostingOptions(tree.DefaultOptions())
		want := ensemble.DefaultBoostingOptions()
		assert.Equal(t, want.Stages, opts.Stages)
		assert.Equal(t, want.Shrinkage, opts.Shrinkage)
		assert.Equal(t, want.Seed, opts.Seed)
		assert.Equal(t, "model", cfg.Model.Name)
	})

	t.Run("invalid", func(t *testing.T) {
		dir := t.TempDir()
		for name, content := range map[string]string{
			"no-settings.yaml": "model:\n  type: tree\n",
			"bad-type.yaml":    "settings: s\nmodel:\n  type: svm\n",
			"bad-yaml.yaml":    "settings: [unterminated\n",
		} {
			_, err := LoadRunConfig(writeFile(t, dir, name, content))
			assert.True(t, errors.Is(err, ErrMalformedSettings), "%s: %v", name, err)
		}

		_, err := LoadRunConfig(writeFile(t, dir, "bad-forest.yaml", "settings: s\nmodel:\n  type: forest\nforest:\n  trees: 0\n"))
		assert.True(t, errors.Is(err, ensemble.ErrInvalidOptions))

		_, err = LoadRunConfig(filepath.Join(dir, "missing.yaml"))
		assert.Error(t, err)
	})
}
