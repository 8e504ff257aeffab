package tree

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/aggregate"
	"github.com/wbrown/janus-reltree/reltree/annotations"
	"github.com/wbrown/janus-reltree/reltree/dataset"
	"github.com/wbrown/janus-reltree/reltree/feature"
	"github.com/wbrown/janus-reltree/reltree/join"
	"github.com/wbrown/janus-reltree/reltree/relation"
	"github.com/wbrown/janus-reltree/reltree/split"
	"github.com/wbrown/janus-reltree/reltree/stats"
)

const weightEps = 1e-10

// Leaf reasons reported in node/leaf events.
const (
	reasonDepth       = "depth"
	reasonNodes       = "node budget"
	reasonWeight      = "weight"
	reasonVariability = "variability"
	reasonNoSplit     = "no split"
)

// Builder grows trees over one relation store. A Builder may grow several
// trees one after another; every Build call owns its memo, generator and
// random source.
type Builder struct {
	store     *relation.Store
	opts      Options
	collector *annotations.Collector
}

// NewBuilder validates opts. A nil handler disables events.
func NewBuilder(store *relation.Store, opts Options, handler annotations.Handler) (*Builder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Builder{store: store, opts: opts, collector: annotations.NewCollector(handler)}, nil
}

// Options returns the builder's options.
func (b *Builder) Options() Options { return b.opts }

// Build grows a tree whose statistics variant follows the target type.
// Classes are those present in data.
func (b *Builder) Build(ctx context.Context, data *dataset.Dataset) (*Tree, error) {
	proto, err := data.Statistics(data.Classes())
	if err != nil {
		return nil, err
	}
	return b.BuildWith(ctx, data, proto)
}

// BuildWith grows a tree using empty statistics proto for every node.
// Ensembles pass it to keep the class order of the full dataset or to use
// a boosting variant.
func (b *Builder) BuildWith(ctx context.Context, data *dataset.Dataset, proto stats.Statistics) (*Tree, error) {
	if data.Len() == 0 {
		return nil, dataset.ErrEmpty
	}
	if _, ok := b.store.Relation(data.Target); !ok {
		return nil, fmt.Errorf("%w: target %s", relation.ErrUnknownRelation, data.Target)
	}
	g, err := b.newGrowth(data, proto)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if b.collector.Enabled() {
		b.collector.Add(annotations.Event{
			Name:  annotations.TreeBuildBegin,
			Start: start,
			Data:  map[string]interface{}{"target": data.Target, "examples": data.Len()},
		})
	}

	weighted := data.Weighted(b.opts.ClassWeights)
	root := &Node{Label: "0", Depth: 1, Stats: proto.Empty()}
	for _, e := range weighted.Examples {
		root.Stats.Add(e.Target, e.Weight)
	}
	g.rootVar = g.heuristic.Variability(root.Stats)
	scope := feature.Scope{g.tree.TargetVars}
	if err := g.grow(ctx, root, weighted.Examples, scope, nil); err != nil {
		b.collector.AddTiming(annotations.ErrorInternal, start, map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	g.tree.Root = root

	if b.collector.Enabled() {
		hits, misses, size := g.memo.Stats()
		b.collector.Add(annotations.Event{
			Name: annotations.MemoStats,
			Data: map[string]interface{}{"hits": hits, "misses": misses, "size": size},
		})
		b.collector.AddTiming(annotations.TreeBuildCompleted, start, map[string]interface{}{
			"nodes":  g.tree.Size(),
			"leaves": g.tree.Size() - g.tree.InternalNodes(),
			"depth":  g.tree.Depth(),
		})
	}
	return g.tree, nil
}

// growth is the state of one Build call.
type growth struct {
	opts      Options
	collector *annotations.Collector
	heuristic stats.Heuristic
	memo      *join.Memo
	eval      *join.Evaluator
	gen       *feature.Generator
	rng       *rand.Rand
	namer     *feature.Namer
	tree      *Tree

	// domainVars maps a user domain to the target variables of that type,
	// sorted by name.
	domainVars  map[reltree.Type][]split.TargetVar
	targetNames []string
	internal    int
	rootVar     float64
}

func (b *Builder) newGrowth(data *dataset.Dataset, proto stats.Statistics) (*growth, error) {
	h := stats.DefaultHeuristic(proto.Kind())
	if b.opts.Heuristic != "" {
		parsed, err := stats.ParseHeuristic(b.opts.Heuristic)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
		h = parsed
	}
	if !h.Supports(proto.Kind()) {
		return nil, fmt.Errorf("%w: heuristic %s cannot measure %s statistics", ErrInvalidOptions, h, proto.Kind())
	}

	specs := b.opts.Specs
	if specs == nil {
		specs = feature.DefaultSpecs(b.store, data.Target)
	}
	aggs := b.opts.Aggregators
	if aggs == nil {
		aggs = aggregate.Names()
	}
	if b.opts.OnlyExistential {
		aggs = []string{aggregate.Count.Name()}
	}
	gen, err := feature.NewGenerator(feature.Config{
		Specs:          specs,
		Aggregators:    aggs,
		MaxAtomTests:   b.opts.MaxAtomTests,
		MaxChainLength: b.opts.MaxChainLength,
	})
	if err != nil {
		return nil, err
	}

	var memo *join.Memo
	if !b.opts.DisableMemo {
		memo = join.NewMemo()
	}
	namer := feature.NewNamer()
	targets := feature.TargetLevel(data.Types, namer)
	g := &growth{
		opts:       b.opts,
		collector:  b.collector,
		heuristic:  h,
		memo:       memo,
		eval:       join.NewEvaluator(memo, b.opts.IgnoreCritical),
		gen:        gen,
		rng:        rand.New(rand.NewSource(b.opts.Seed)),
		namer:      namer,
		domainVars: make(map[reltree.Type][]split.TargetVar),
		tree: &Tree{
			Target:         data.Target,
			TargetVars:     targets,
			Kind:           proto.Kind(),
			Heuristic:      h,
			IgnoreCritical: b.opts.IgnoreCritical,
		},
	}
	for i, v := range targets {
		g.targetNames = append(g.targetNames, v.Name)
		if v.Type.IsDomain() {
			g.domainVars[v.Type] = append(g.domainVars[v.Type], split.TargetVar{Name: v.Name, Index: i})
		}
	}
	for _, vs := range g.domainVars {
		sort.Slice(vs, func(i, j int) bool { return vs[i].Name < vs[j].Name })
	}
	return g, nil
}

// stopReason returns why n must become a leaf, or "".
func (g *growth) stopReason(n *Node) string {
	switch {
	case g.opts.MaxDepth >= 0 && n.Depth >= g.opts.MaxDepth:
		return reasonDepth
	case g.opts.MaxNodes >= 0 && g.internal >= g.opts.MaxNodes:
		return reasonNodes
	case n.Stats.Weight() <= 2*g.opts.MinLeafWeight-weightEps:
		return reasonWeight
	case g.heuristic.Variability(n.Stats) <= g.opts.VariabilityEps*g.rootVar:
		return reasonVariability
	}
	return ""
}

// grow turns n into a leaf or splits it and grows both children. parent
// is the test chain n's scope extends.
func (g *growth) grow(ctx context.Context, n *Node, data []dataset.Example, scope feature.Scope, parent join.Chain) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.collector.Enabled() {
		g.collector.Add(annotations.Event{
			Name: annotations.NodeBegin,
			Data: map[string]interface{}{"node": n.Label, "depth": n.Depth, "weight": n.Stats.Weight()},
		})
	}
	if reason := g.stopReason(n); reason != "" {
		g.leaf(n, reason)
		return nil
	}

	start := time.Now()
	best, err := g.search(n, data, scope, parent)
	if err != nil {
		return fmt.Errorf("node %s: %w", n.Label, err)
	}
	if best == nil {
		g.leaf(n, reasonNoSplit)
		return nil
	}

	chain, levels := best.selection.Candidate.Accept(scope, best.selection.Values, g.namer)
	positive := scope.Extend(best.selection.Candidate.Start, levels)
	n.Test = &Test{
		Chain:       chain,
		Aggregators: best.aggs,
		Comparator:  best.split.Comparator,
		Threshold:   best.split.Threshold,
		Variables:   best.split.Variables,
		Vars:        positive[1:].Vars(),
	}
	total := n.Stats.Weight()
	n.Stats.SetBranchFrequencies([]float64{
		best.split.Children[Positive].Weight() / total,
		best.split.Children[Negative].Weight() / total,
	})
	g.internal++
	if g.collector.Enabled() {
		g.collector.AddTiming(annotations.NodeSplit, start, map[string]interface{}{
			"node": n.Label, "test": n.Test.String(), "score": best.split.Score,
		})
	}

	scopes := [2]feature.Scope{positive, scope}
	chains := [2]join.Chain{chain, parent}
	n.Children = make([]*Node, 2)
	for i := range n.Children {
		n.Children[i] = &Node{
			Label:  fmt.Sprintf("%s.%d", n.Label, i),
			Depth:  n.Depth + 1,
			Stats:  best.split.Children[i],
			Parent: n,
		}
	}
	for i, child := range n.Children {
		sub := make([]dataset.Example, len(best.split.Partition[i]))
		for j, e := range best.split.Partition[i] {
			sub[j] = data[e]
		}
		if err := g.grow(ctx, child, sub, scopes[i], chains[i]); err != nil {
			return err
		}
	}
	return nil
}

func (g *growth) leaf(n *Node, reason string) {
	n.Stats.Finalize()
	if g.collector.Enabled() {
		g.collector.Add(annotations.Event{
			Name: annotations.NodeLeaf,
			Data: map[string]interface{}{
				"node":       n.Label,
				"reason":     reason,
				"prediction": reltree.FormatValue(n.Stats.Prediction()),
			},
		})
	}
}

type candidateSplit struct {
	selection feature.Selection
	aggs      feature.AggregatorChain
	split     split.Split
}

// search evaluates a uniform sample of the candidate tests of n and
// returns the best one, or nil when none improves on n.
func (g *growth) search(n *Node, data []dataset.Example, scope feature.Scope, parent join.Chain) (*candidateSplit, error) {
	total, err := g.gen.Count(scope, parent)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}
	k, err := g.opts.SampleSize(total)
	if err != nil {
		return nil, err
	}
	selected := feature.SampleIndices(g.rng, total, k)
	if g.collector.Enabled() {
		g.collector.Add(annotations.Event{
			Name: annotations.CandidatesCounted,
			Data: map[string]interface{}{"node": n.Label, "total": total, "sampled": len(selected)},
		})
	}

	start := time.Now()
	searcher := split.NewSearcher(split.Config{
		Heuristic:              g.heuristic,
		MinLeafWeight:          g.opts.MinLeafWeight,
		MinImpurityImprovement: g.opts.MinImpurityImprovement,
		OnlyExistential:        g.opts.OnlyExistential,
		MaxSetSize:             g.opts.MaxSetSize,
	}, n.Stats, g.rng)

	var best *candidateSplit
	evaluated := 0
	err = g.gen.Walk(scope, parent, total, selected, func(sel feature.Selection) error {
		columns, err := g.evaluate(sel, scope, data)
		if err != nil {
			return err
		}
		for j, aggs := range sel.Aggregators {
			evaluated++
			s, err := g.score(searcher, aggs.Output, columns[j], data)
			if err != nil {
				return fmt.Errorf("%s %s: %w", sel.Candidate.Chain, aggs, err)
			}
			if s.Found() && (best == nil || s.Score < best.split.Score) {
				best = &candidateSplit{selection: sel, aggs: aggs, split: s}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if g.collector.Enabled() {
		g.collector.AddTiming(annotations.CandidatesEvaluated, start, map[string]interface{}{
			"node": n.Label, "evaluated": evaluated,
		})
	}
	return best, nil
}

// evaluate computes, for every example, the value of each selected
// aggregator chain. columns[j][e] is the value of chain j for example e.
func (g *growth) evaluate(sel feature.Selection, scope feature.Scope, data []dataset.Example) ([][]interface{}, error) {
	ex, err := sel.Example(scope)
	if err != nil {
		return nil, err
	}
	aggChains := make([][]aggregate.Aggregator, len(sel.Aggregators))
	for j, a := range sel.Aggregators {
		aggChains[j] = a.Aggregators
	}
	columns := make([][]interface{}, len(aggChains))
	for j := range columns {
		columns[j] = make([]interface{}, len(data))
	}
	for e, d := range data {
		unground := ex.Ground(g.targetNames, d.Descriptive)
		values, err := g.eval.EvaluateBatch(ex, d.ID, sel.Candidate.Chain, aggChains)
		unground()
		if err != nil {
			return nil, err
		}
		for j, v := range values {
			columns[j][e] = v
		}
	}
	return columns, nil
}

// score dispatches on the output type of the aggregator chain. Domain
// values are compared with the target variables of the same domain; a
// domain no target variable has cannot be tested.
func (g *growth) score(s *split.Searcher, output reltree.Type, values []interface{}, data []dataset.Example) (split.Split, error) {
	switch {
	case output.IsNumeric():
		xs := make([]float64, len(values))
		for i, v := range values {
			f, ok := reltree.AsFloat(v)
			if !ok {
				return split.Split{Score: split.Worst}, fmt.Errorf("non-numeric value %s", reltree.FormatValue(v))
			}
			xs[i] = f
		}
		return s.Numeric(xs, data)
	case output.IsNominal():
		return s.Nominal(values, data)
	case output.IsDomain():
		vars := g.domainVars[output]
		if len(vars) == 0 {
			return split.Split{Score: split.Worst}, nil
		}
		return s.Variables(values, data, vars)
	}
	return split.Split{Score: split.Worst}, nil
}
