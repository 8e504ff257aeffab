package ensemble

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/annotations"
	"github.com/wbrown/janus-reltree/reltree/dataset"
	"github.com/wbrown/janus-reltree/reltree/relation"
	"github.com/wbrown/janus-reltree/reltree/stats"
	"github.com/wbrown/janus-reltree/reltree/tree"
)

// Voting selects how a classification forest combines its members.
type Voting uint8

const (
	// Proportions sums the class distributions of the members' leaves.
	Proportions Voting = iota
	// ZeroOne counts one vote per member for its predicted class.
	ZeroOne
)

var votingNames = [...]string{"proportions", "zero-one"}

func (v Voting) String() string {
	if int(v) < len(votingNames) {
		return votingNames[v]
	}
	return fmt.Sprintf("Voting(%d)", uint8(v))
}

// ParseVoting resolves a voting scheme name.
func ParseVoting(s string) (Voting, error) {
	for i, n := range votingNames {
		if strings.EqualFold(s, n) {
			return Voting(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown voting %q, allowed: %s", ErrInvalidOptions, s, strings.Join(votingNames[:], ", "))
}

// DefaultForestSeed seeds the master generator of a forest.
const DefaultForestSeed int64 = 314159

// ForestOptions configures bagging.
type ForestOptions struct {
	Trees      int
	Tree       tree.Options // Seed is replaced per member
	Stratified bool
	Voting     Voting
	// Workers bounds the trees grown at once; zero uses GOMAXPROCS.
	Workers int
	Seed    int64
}

// DefaultForestOptions returns a forest of 100 unpruned trees, each
// sampling the square root of the candidates at every node.
func DefaultForestOptions() ForestOptions {
	opts := tree.DefaultOptions()
	opts.RelativeCandidates = tree.RelativeSqrt
	return ForestOptions{
		Trees:  100,
		Tree:   opts,
		Voting: Proportions,
		Seed:   DefaultForestSeed,
	}
}

// Validate rejects options that cannot be used.
func (o ForestOptions) Validate() error {
	if o.Trees < 1 {
		return fmt.Errorf("%w: a forest needs at least one tree, got %d", ErrInvalidOptions, o.Trees)
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: negative worker count %d", ErrInvalidOptions, o.Workers)
	}
	if o.Voting > ZeroOne {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, o.Voting)
	}
	return o.Tree.Validate()
}

// Forest is a bagged ensemble of trees over one target relation.
type Forest struct {
	Voting Voting
	Trees  []*tree.Tree
}

// GrowForest grows opts.Trees trees on bootstrap replicates of data. Every
// tree has its own builder, memo and seed; the seeds are drawn before the
// trees are scheduled. The handler may be called from several goroutines
// but never concurrently.
func GrowForest(ctx context.Context, store *relation.Store, data *dataset.Dataset, opts ForestOptions, handler annotations.Handler) (*Forest, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if data.Len() == 0 {
		return nil, dataset.ErrEmpty
	}
	proto, err := data.Statistics(data.Classes())
	if err != nil {
		return nil, err
	}
	handler = serialized(handler)
	collector := annotations.NewCollector(handler)

	type member struct {
		treeSeed, bootstrapSeed int64
	}
	s := newSeeds(opts.Seed)
	members := make([]member, opts.Trees)
	for i := range members {
		members[i] = member{treeSeed: s.nextTree(), bootstrapSeed: s.nextBootstrap()}
	}

	workers := opts.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	f := &Forest{Voting: opts.Voting, Trees: make([]*tree.Tree, opts.Trees)}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, m := range members {
		i, m := i, m
		g.Go(func() error {
			start := time.Now()
			topts := opts.Tree
			topts.Seed = m.treeSeed
			b, err := tree.NewBuilder(store, topts, handler)
			if err != nil {
				return err
			}
			sample := data.Bootstrap(rand.New(rand.NewSource(m.bootstrapSeed)), opts.Stratified)
			t, err := b.BuildWith(ctx, sample, proto)
			if err != nil {
				return fmt.Errorf("forest tree %d: %w", i, err)
			}
			f.Trees[i] = t
			collector.AddTiming(annotations.ForestTreeBuilt, start, map[string]interface{}{
				"tree":  i,
				"nodes": t.Size(),
				"depth": t.Depth(),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return f, nil
}

// serialized wraps handler so concurrent builders deliver one event at a
// time.
func serialized(handler annotations.Handler) annotations.Handler {
	if handler == nil {
		return nil
	}
	var mu sync.Mutex
	return func(e annotations.Event) {
		mu.Lock()
		defer mu.Unlock()
		handler(e)
	}
}

// PredictStats merges the leaf statistics every member reaches for the
// example. Classification accumulators carry votes in Counts and summed
// distributions in Probabilities; the others are finalized averages.
func (f *Forest) PredictStats(descriptive reltree.Tuple) (stats.Statistics, error) {
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("%w: forest without trees", tree.ErrMalformedModel)
	}
	acc := f.Trees[0].Root.Stats.Empty()
	for _, t := range f.Trees {
		s, err := t.PredictStats(descriptive)
		if err != nil {
			return nil, err
		}
		acc.Merge(s, 1)
	}
	if _, ok := acc.(*stats.Classification); !ok {
		acc.Finalize()
	}
	return acc, nil
}

// Predict returns the voted class or the averaged value.
func (f *Forest) Predict(descriptive reltree.Tuple) (interface{}, error) {
	s, err := f.PredictStats(descriptive)
	if err != nil {
		return nil, err
	}
	if c, ok := s.(*stats.Classification); ok {
		if f.Voting == ZeroOne {
			return c.Vote(c.Counts()), nil
		}
		return c.Vote(c.Probabilities()), nil
	}
	return s.Prediction(), nil
}

// Ranking averages the rankings of the members.
func (f *Forest) Ranking(kind tree.Importance) tree.Ranking {
	r := tree.NewRanking()
	for _, t := range f.Trees {
		r.Add(t.Ranking(kind), 1/float64(len(f.Trees)))
	}
	return r
}

type forestRecord struct {
	Voting string            `json:"voting"`
	Trees  []json.RawMessage `json:"trees"`
}

// MarshalJSON encodes the forest with its members.
func (f *Forest) MarshalJSON() ([]byte, error) {
	r := forestRecord{Voting: f.Voting.String()}
	for _, t := range f.Trees {
		data, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		r.Trees = append(r.Trees, data)
	}
	return json.Marshal(r)
}

// DecodeForest reads a forest written by MarshalJSON.
func DecodeForest(data []byte, store *relation.Store) (*Forest, error) {
	var r forestRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", tree.ErrMalformedModel, err)
	}
	v, err := ParseVoting(r.Voting)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tree.ErrMalformedModel, err)
	}
	if len(r.Trees) == 0 {
		return nil, fmt.Errorf("%w: forest without trees", tree.ErrMalformedModel)
	}
	f := &Forest{Voting: v}
	for i, raw := range r.Trees {
		t, err := tree.Decode(raw, store)
		if err != nil {
			return nil, fmt.Errorf("forest tree %d: %w", i, err)
		}
		f.Trees = append(f.Trees, t)
	}
	return f, nil
}
