package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/wbrown/janus-reltree/reltree/ensemble"
	"github.com/wbrown/janus-reltree/reltree/tree"
)

// Model types of a run.
const (
	ModelTree     = "tree"
	ModelForest   = "forest"
	ModelBoosting = "boosting"
)

// RunConfig describes a learning run. Relative paths are resolved against
// the directory of the run file.
type RunConfig struct {
	Settings string   `yaml:"settings"`
	Facts    []string `yaml:"facts"`
	Archive  string   `yaml:"archive"`

	Model    ModelConfig    `yaml:"model"`
	Tree     TreeConfig     `yaml:"tree"`
	Forest   ForestConfig   `yaml:"forest"`
	Boosting BoostingConfig `yaml:"boosting"`
	Eval     EvalConfig     `yaml:"eval"`
}

// ModelConfig names the model to grow and the archive key it is stored
// under.
type ModelConfig struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`
}

// TreeConfig holds the tree options the settings file does not cover.
type TreeConfig struct {
	Heuristic          string             `yaml:"heuristic"`
	MaxChainLength     int                `yaml:"max_chain_length"`
	MaxCandidates      int                `yaml:"max_candidates"`
	RelativeCandidates string             `yaml:"relative_candidates"`
	MaxSetSize         int                `yaml:"max_set_size"`
	OnlyExistential    bool               `yaml:"only_existential"`
	IgnoreCritical     bool               `yaml:"ignore_critical"`
	DisableMemo        bool               `yaml:"disable_memo"`
	ClassWeights       map[string]float64 `yaml:"class_weights"`
	Seed               int64              `yaml:"seed"`
}

type ForestConfig struct {
	Trees      int    `yaml:"trees"`
	Stratified bool   `yaml:"stratified"`
	Voting     string `yaml:"voting"`
	Workers    int    `yaml:"workers"`
	Seed       int64  `yaml:"seed"`
}

type BoostingConfig struct {
	Stages    int     `yaml:"stages"`
	Shrinkage float64 `yaml:"shrinkage"`
	Subsample float64 `yaml:"subsample"`
	Workers   int     `yaml:"workers"`
	Seed      int64   `yaml:"seed"`
}

// EvalConfig configures cross-validation.
type EvalConfig struct {
	Folds int   `yaml:"folds"`
	Seed  int64 `yaml:"seed"`
}

// DefaultRunConfig returns a single tree run with default options.
func DefaultRunConfig() *RunConfig {
	t := tree.DefaultOptions()
	f := ensemble.DefaultForestOptions()
	b := ensemble.DefaultBoostingOptions()
	return &RunConfig{
		Model: ModelConfig{Type: ModelTree, Name: "model"},
		Tree: TreeConfig{
			MaxChainLength:     t.MaxChainLength,
			MaxCandidates:      t.MaxCandidates,
			RelativeCandidates: t.RelativeCandidates,
			Seed:               t.Seed,
		},
		Forest: ForestConfig{
			Trees:  f.Trees,
			Voting: f.Voting.String(),
			Seed:   f.Seed,
		},
		Boosting: BoostingConfig{
			Stages:    b.Stages,
			Shrinkage: b.Shrinkage,
			Subsample: b.Subsample,
			Seed:      b.Seed,
		},
		Eval: EvalConfig{Folds: 10, Seed: 42},
	}
}

// LoadRunConfig reads and validates the run file at path. Keys left out
// keep their defaults.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run config: %w", err)
	}
	cfg := DefaultRunConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse run config: %v", ErrMalformedSettings, err)
	}
	cfg.resolve(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *RunConfig) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Settings = abs(c.Settings)
	c.Archive = abs(c.Archive)
	for i, f := range c.Facts {
		c.Facts[i] = abs(f)
	}
}

// Validate checks the run description and the options derived from it.
func (c *RunConfig) Validate() error {
	if c.Settings == "" {
		return fmt.Errorf("%w: run config names no settings file", ErrMalformedSettings)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("%w: model name is empty", ErrMalformedSettings)
	}
	switch c.Model.Type {
	case ModelTree:
		return c.TreeOptions(tree.DefaultOptions()).Validate()
	case ModelForest:
		opts, err := c.ForestOptions(tree.DefaultOptions())
		if err != nil {
			return err
		}
		return opts.Validate()
	case ModelBoosting:
		return c.BoostingOptions(tree.DefaultOptions()).Validate()
	}
	return fmt.Errorf("%w: unknown model type %q, allowed: %s, %s, %s",
		ErrMalformedSettings, c.Model.Type, ModelTree, ModelForest, ModelBoosting)
}

// TreeOptions overlays the tree section on base, which normally carries
// the settings file.
func (c *RunConfig) TreeOptions(base tree.Options) tree.Options {
	t := c.Tree
	base.Heuristic = t.Heuristic
	if t.MaxChainLength > base.MaxChainLength {
		base.MaxChainLength = t.MaxChainLength
	}
	base.MaxCandidates = t.MaxCandidates
	base.RelativeCandidates = t.RelativeCandidates
	base.MaxSetSize = t.MaxSetSize
	base.OnlyExistential = t.OnlyExistential
	base.IgnoreCritical = t.IgnoreCritical
	base.DisableMemo = t.DisableMemo
	base.ClassWeights = t.ClassWeights
	base.Seed = t.Seed
	return base
}

// ForestOptions returns the forest options around the tree options.
func (c *RunConfig) ForestOptions(base tree.Options) (ensemble.ForestOptions, error) {
	voting, err := ensemble.ParseVoting(c.Forest.Voting)
	if err != nil {
		return ensemble.ForestOptions{}, err
	}
	return ensemble.ForestOptions{
		Trees:      c.Forest.Trees,
		Tree:       c.TreeOptions(base),
		Stratified: c.Forest.Stratified,
		Voting:     voting,
		Workers:    c.Forest.Workers,
		Seed:       c.Forest.Seed,
	}, nil
}

// BoostingOptions returns the boosting options around the tree options.
func (c *RunConfig) BoostingOptions(base tree.Options) ensemble.BoostingOptions {
	return ensemble.BoostingOptions{
		Stages:    c.Boosting.Stages,
		Shrinkage: c.Boosting.Shrinkage,
		Subsample: c.Boosting.Subsample,
		Tree:      c.TreeOptions(base),
		Workers:   c.Boosting.Workers,
		Seed:      c.Boosting.Seed,
	}
}
