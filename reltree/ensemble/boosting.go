package ensemble

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/annotations"
	"github.com/wbrown/janus-reltree/reltree/dataset"
	"github.com/wbrown/janus-reltree/reltree/relation"
	"github.com/wbrown/janus-reltree/reltree/stats"
	"github.com/wbrown/janus-reltree/reltree/tree"
)

// Loss is the loss a boosting model descends.
type Loss uint8

const (
	// Squared fits numeric targets.
	Squared Loss = iota
	// BinaryLogLoss fits two classes coded as -1 and +1.
	BinaryLogLoss
	// MulticlassLogLoss fits one score per class.
	MulticlassLogLoss
)

var lossNames = [...]string{"squared", "binary log-loss", "multiclass log-loss"}

func (l Loss) String() string {
	if int(l) < len(lossNames) {
		return lossNames[l]
	}
	return fmt.Sprintf("Loss(%d)", uint8(l))
}

func parseLoss(s string) (Loss, error) {
	for i, n := range lossNames {
		if s == n {
			return Loss(i), nil
		}
	}
	return 0, fmt.Errorf("unknown loss %q", s)
}

// DefaultBoostingSeed seeds the master generator of a boosting run.
const DefaultBoostingSeed int64 = 112

// BoostingOptions configures gradient boosting.
type BoostingOptions struct {
	Stages    int
	Shrinkage float64
	// Subsample is the fraction of examples each stage is fitted on.
	Subsample float64
	Tree      tree.Options // Seed and ClassWeights are managed per stage
	// Workers bounds the per-class trees of a multiclass stage grown at
	// once; zero uses GOMAXPROCS.
	Workers int
	Seed    int64
}

// DefaultBoostingOptions returns 100 stages without shrinkage or
// subsampling.
func DefaultBoostingOptions() BoostingOptions {
	return BoostingOptions{
		Stages:    100,
		Shrinkage: 1,
		Subsample: 1,
		Tree:      tree.DefaultOptions(),
		Seed:      DefaultBoostingSeed,
	}
}

// Validate rejects options that cannot be used.
func (o BoostingOptions) Validate() error {
	if o.Stages < 1 {
		return fmt.Errorf("%w: boosting needs at least one stage, got %d", ErrInvalidOptions, o.Stages)
	}
	if o.Shrinkage <= 0 || o.Shrinkage > 1 {
		return fmt.Errorf("%w: shrinkage %v outside (0, 1]", ErrInvalidOptions, o.Shrinkage)
	}
	if o.Subsample <= 0 || o.Subsample > 1 {
		return fmt.Errorf("%w: subsample %v outside (0, 1]", ErrInvalidOptions, o.Subsample)
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: negative worker count %d", ErrInvalidOptions, o.Workers)
	}
	return o.Tree.Validate()
}

// Boosting is an additive model. Score k of an example is Initial[k]
// plus Shrinkage times the prediction of tree k of every stage.
type Boosting struct {
	Loss Loss
	// Classes are sorted; for BinaryLogLoss Classes[1] is coded +1.
	Classes   []string
	Initial   []float64
	Shrinkage float64
	Stages    [][]*tree.Tree
}

// GrowBoosting fits opts.Stages stages to data. The loss follows the
// target: numeric targets use squared loss, two classes binary log-loss
// and more classes multiclass log-loss.
func GrowBoosting(ctx context.Context, store *relation.Store, data *dataset.Dataset, opts BoostingOptions, handler annotations.Handler) (*Boosting, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if data.Len() == 0 {
		return nil, dataset.ErrEmpty
	}
	weighted := data.Weighted(opts.Tree.ClassWeights)
	m := &Boosting{Shrinkage: opts.Shrinkage}
	targets, proto, err := m.codeTargets(weighted)
	if err != nil {
		return nil, err
	}
	weights := make([]float64, weighted.Len())
	for i, e := range weighted.Examples {
		weights[i] = e.Weight
	}
	m.Initial = m.initial(targets, weights)

	scores := make([][]float64, len(targets))
	for k := range scores {
		scores[k] = make([]float64, weighted.Len())
		for i := range scores[k] {
			scores[k][i] = m.Initial[k]
		}
	}

	handler = serialized(handler)
	collector := annotations.NewCollector(handler)
	workers := opts.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	topts := opts.Tree
	topts.ClassWeights = nil
	s := newSeeds(opts.Seed)

	for stage := 0; stage < opts.Stages; stage++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		residuals := m.residuals(targets, scores)
		rows := subsample(weighted.Len(), opts.Subsample, s.nextRows())
		topts.Seed = s.nextTree()

		trees := make([]*tree.Tree, len(residuals))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for k := range residuals {
			k := k
			g.Go(func() error {
				b, err := tree.NewBuilder(store, topts, handler)
				if err != nil {
					return err
				}
				values := make([]interface{}, len(residuals[k]))
				for i, r := range residuals[k] {
					values[i] = r
				}
				fit := weighted.WithTargets(reltree.Numeric, values).Subset(rows)
				t, err := b.BuildWith(gctx, fit, proto)
				if err != nil {
					return fmt.Errorf("boosting stage %d tree %d: %w", stage, k, err)
				}
				trees[k] = t
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for k, t := range trees {
			for i, e := range weighted.Examples {
				p, err := treeValue(t, e.Descriptive)
				if err != nil {
					return nil, err
				}
				scores[k][i] += m.Shrinkage * p
			}
		}
		m.Stages = append(m.Stages, trees)
		collector.AddTiming(annotations.BoostingStage, start, map[string]interface{}{
			"stage": stage,
			"trees": len(trees),
		})
	}
	return m, nil
}

// codeTargets returns one numeric target column per score and the leaf
// statistics the stage trees use.
func (m *Boosting) codeTargets(data *dataset.Dataset) ([][]float64, stats.Statistics, error) {
	n := data.Len()
	switch {
	case data.TargetType.IsNumeric():
		m.Loss = Squared
		y := make([]float64, n)
		for i, e := range data.Examples {
			v, ok := reltree.AsFloat(e.Target)
			if !ok {
				return nil, nil, fmt.Errorf("%w: example %d has target %v", dataset.ErrTargetType, e.ID, e.Target)
			}
			y[i] = v
		}
		return [][]float64{y}, stats.NewRegression(), nil

	case data.TargetType.IsNominal():
		m.Classes = data.Classes()
		index := make(map[string]int, len(m.Classes))
		for i, c := range m.Classes {
			index[c] = i
		}
		switch {
		case len(m.Classes) < 2:
			return nil, nil, fmt.Errorf("%w: boosting needs two classes, got %d", dataset.ErrTargetType, len(m.Classes))
		case len(m.Classes) == 2:
			m.Loss = BinaryLogLoss
			y := make([]float64, n)
			for i, e := range data.Examples {
				y[i] = -1
				if index[e.Target.(string)] == 1 {
					y[i] = 1
				}
			}
			return [][]float64{y}, stats.NewBinaryBoosting(), nil
		default:
			m.Loss = MulticlassLogLoss
			ys := make([][]float64, len(m.Classes))
			for k := range ys {
				ys[k] = make([]float64, n)
			}
			for i, e := range data.Examples {
				ys[index[e.Target.(string)]][i] = 1
			}
			return ys, stats.NewMulticlassBoosting(len(m.Classes)), nil
		}
	}
	return nil, nil, fmt.Errorf("%w: boosting cannot fit %s targets", dataset.ErrTargetType, data.TargetType)
}

// initial returns the constant default model.
func (m *Boosting) initial(targets [][]float64, weights []float64) []float64 {
	out := make([]float64, len(targets))
	if m.Loss == MulticlassLogLoss {
		return out
	}
	var sum, total float64
	for i, y := range targets[0] {
		sum += weights[i] * y
		total += weights[i]
	}
	mean := sum / total
	if m.Loss == Squared {
		out[0] = mean
	} else {
		out[0] = 0.5 * math.Log((1+mean)/(1-mean))
	}
	return out
}

// residuals returns the negative gradient of the loss at scores.
func (m *Boosting) residuals(targets, scores [][]float64) [][]float64 {
	out := make([][]float64, len(targets))
	for k := range out {
		out[k] = make([]float64, len(targets[k]))
	}
	for i := range targets[0] {
		switch m.Loss {
		case Squared:
			out[0][i] = targets[0][i] - scores[0][i]
		case BinaryLogLoss:
			y := targets[0][i]
			out[0][i] = 2 * y / (1 + math.Exp(2*y*scores[0][i]))
		case MulticlassLogLoss:
			column := make([]float64, len(scores))
			for k := range scores {
				column[k] = scores[k][i]
			}
			for k, p := range softmax(column) {
				out[k][i] = targets[k][i] - p
			}
		}
	}
	return out
}

func softmax(scores []float64) []float64 {
	max := math.Inf(-1)
	for _, s := range scores {
		max = math.Max(max, s)
	}
	out := make([]float64, len(scores))
	var total float64
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		total += out[i]
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

// subsample returns the sorted rows a stage is fitted on.
func subsample(n int, fraction float64, seed int64) []int {
	if fraction >= 1 {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	size := int(float64(n) * fraction)
	if size < 1 {
		size = 1
	}
	rows := rand.New(rand.NewSource(seed)).Perm(n)[:size]
	sort.Ints(rows)
	return rows
}

func treeValue(t *tree.Tree, descriptive reltree.Tuple) (float64, error) {
	v, err := t.Predict(descriptive)
	if err != nil {
		return 0, err
	}
	f, ok := reltree.AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: boosting tree predicts %v", tree.ErrMalformedModel, v)
	}
	return f, nil
}

// Scores returns the additive score of every output for the example.
func (m *Boosting) Scores(descriptive reltree.Tuple) ([]float64, error) {
	out := append([]float64(nil), m.Initial...)
	for _, stage := range m.Stages {
		for k, t := range stage {
			p, err := treeValue(t, descriptive)
			if err != nil {
				return nil, err
			}
			out[k] += m.Shrinkage * p
		}
	}
	return out, nil
}

// Probabilities returns the class distribution of a classification model.
func (m *Boosting) Probabilities(descriptive reltree.Tuple) ([]float64, error) {
	scores, err := m.Scores(descriptive)
	if err != nil {
		return nil, err
	}
	switch m.Loss {
	case BinaryLogLoss:
		p := 1 / (1 + math.Exp(-2*scores[0]))
		return []float64{1 - p, p}, nil
	case MulticlassLogLoss:
		return softmax(scores), nil
	}
	return nil, fmt.Errorf("%w: %s model has no class distribution", dataset.ErrTargetType, m.Loss)
}

// Predict returns the value of a regression model or the most probable
// class, the first one on ties.
func (m *Boosting) Predict(descriptive reltree.Tuple) (interface{}, error) {
	if m.Loss == Squared {
		scores, err := m.Scores(descriptive)
		if err != nil {
			return nil, err
		}
		return scores[0], nil
	}
	probs, err := m.Probabilities(descriptive)
	if err != nil {
		return nil, err
	}
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return m.Classes[best], nil
}

// Ranking averages the rankings of every tree.
func (m *Boosting) Ranking(kind tree.Importance) tree.Ranking {
	r := tree.NewRanking()
	var n int
	for _, stage := range m.Stages {
		n += len(stage)
	}
	for _, stage := range m.Stages {
		for _, t := range stage {
			r.Add(t.Ranking(kind), 1/float64(n))
		}
	}
	return r
}

type boostingRecord struct {
	Loss      string              `json:"loss"`
	Classes   []string            `json:"classes,omitempty"`
	Initial   []string            `json:"initial"`
	Shrinkage float64             `json:"shrinkage"`
	Stages    [][]json.RawMessage `json:"stages"`
}

// MarshalJSON encodes the model with its trees.
func (m *Boosting) MarshalJSON() ([]byte, error) {
	r := boostingRecord{Loss: m.Loss.String(), Classes: m.Classes, Shrinkage: m.Shrinkage}
	for _, v := range m.Initial {
		r.Initial = append(r.Initial, reltree.FormatValue(v))
	}
	for _, stage := range m.Stages {
		var trees []json.RawMessage
		for _, t := range stage {
			data, err := json.Marshal(t)
			if err != nil {
				return nil, err
			}
			trees = append(trees, data)
		}
		r.Stages = append(r.Stages, trees)
	}
	return json.Marshal(r)
}

// DecodeBoosting reads a model written by MarshalJSON.
func DecodeBoosting(data []byte, store *relation.Store) (*Boosting, error) {
	var r boostingRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", tree.ErrMalformedModel, err)
	}
	loss, err := parseLoss(r.Loss)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tree.ErrMalformedModel, err)
	}
	m := &Boosting{Loss: loss, Classes: r.Classes, Shrinkage: r.Shrinkage}
	for _, s := range r.Initial {
		v, err := reltree.ParseValue(s, reltree.Numeric)
		if err != nil {
			return nil, fmt.Errorf("%w: initial score: %v", tree.ErrMalformedModel, err)
		}
		f, _ := reltree.AsFloat(v)
		m.Initial = append(m.Initial, f)
	}
	outputs := 1
	if loss == MulticlassLogLoss {
		outputs = len(m.Classes)
	}
	if len(m.Initial) != outputs || (loss != Squared && len(m.Classes) < 2) {
		return nil, fmt.Errorf("%w: %s model with %d scores and classes [%s]",
			tree.ErrMalformedModel, loss, len(m.Initial), strings.Join(m.Classes, ", "))
	}
	for i, stage := range r.Stages {
		if len(stage) != outputs {
			return nil, fmt.Errorf("%w: stage %d has %d trees", tree.ErrMalformedModel, i, len(stage))
		}
		var trees []*tree.Tree
		for _, raw := range stage {
			t, err := tree.Decode(raw, store)
			if err != nil {
				return nil, fmt.Errorf("boosting stage %d: %w", i, err)
			}
			trees = append(trees, t)
		}
		m.Stages = append(m.Stages, trees)
	}
	return m, nil
}
