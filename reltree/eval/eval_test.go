package eval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/dataset"
)

// lookup predicts from a table keyed by the first descriptive value.
type lookup map[string]interface{}

func (l lookup) Predict(d reltree.Tuple) (interface{}, error) {
	v, ok := l[d[0].(string)]
	if !ok {
		return nil, errors.New("unknown example")
	}
	return v, nil
}

func classData() *dataset.Dataset {
	d := &dataset.Dataset{Target: "t", Types: []reltree.Type{"P"}, TargetType: reltree.Nominal}
	for i, row := range [][2]string{{"a", "x"}, {"b", "x"}, {"c", "y"}, {"d", "y"}} {
		d.Examples = append(d.Examples, dataset.Example{ID: i, Descriptive: reltree.Tuple{row[0]}, Target: row[1], Weight: 1})
	}
	d.Examples[0].Weight = 2
	return d
}

func TestEvaluate(t *testing.T) {
	t.Run("classification", func(t *testing.T) {
		m, err := Evaluate(lookup{"a": "x", "b": "y", "c": "y", "d": "y"}, classData())
		require.NoError(t, err)
		assert.True(t, m.Classification)
		assert.Equal(t, 4, m.Examples)
		assert.InDelta(t, 0.75, m.Accuracy, 1e-12)
		assert.InDelta(t, 0.8, m.WeightedAccuracy, 1e-12)
		assert.Equal(t, []ClassMetrics{
			{Class: "x", Precision: 1, Recall: 0.5, Support: 2},
			{Class: "y", Precision: 2.0 / 3, Recall: 1, Support: 2},
		}, m.Classes)
	})

	t.Run("regression", func(t *testing.T) {
		d := &dataset.Dataset{Target: "t", Types: []reltree.Type{"P"}, TargetType: reltree.Numeric}
		d.Examples = []dataset.Example{
			{ID: 0, Descriptive: reltree.Tuple{"a"}, Target: 1.0, Weight: 1},
			{ID: 1, Descriptive: reltree.Tuple{"b"}, Target: 3.0, Weight: 1},
		}
		m, err := Evaluate(lookup{"a": 2.0, "b": 0.0}, d)
		require.NoError(t, err)
		assert.False(t, m.Classification)
		assert.InDelta(t, 5, m.MSE, 1e-12)
		assert.InDelta(t, 2.2360679775, m.RMSE, 1e-9)
		assert.InDelta(t, 2, m.MAE, 1e-12)
	})

	t.Run("multi-target", func(t *testing.T) {
		s := NewScorer(false)
		require.NoError(t, s.Add(reltree.Vector{1, 2}, reltree.Vector{1, 4}, 1))
		m := s.Metrics()
		assert.InDelta(t, 2, m.MSE, 1e-12)
		assert.InDelta(t, 1, m.MAE, 1e-12)
	})

	t.Run("mismatched prediction", func(t *testing.T) {
		_, err := Evaluate(lookup{"a": 1.0, "b": "x", "c": "y", "d": "y"}, classData())
		assert.True(t, errors.Is(err, ErrPrediction))

		s := NewScorer(false)
		assert.True(t, errors.Is(s.Add(reltree.Vector{1, 2}, reltree.Vector{1}, 1), ErrPrediction))
	})

	t.Run("predictor error", func(t *testing.T) {
		_, err := Evaluate(lookup{}, classData())
		assert.Error(t, err)
	})
}

// majority predicts the most frequent class of its training set.
func majority(_ context.Context, train *dataset.Dataset) (Predictor, error) {
	counts := make(map[string]int)
	best := ""
	for _, e := range train.Examples {
		c := e.Target.(string)
		counts[c]++
		if counts[c] > counts[best] || (counts[c] == counts[best] && c < best) {
			best = c
		}
	}
	out := make(lookup)
	for _, id := range []string{"a", "b", "c", "d"} {
		out[id] = best
	}
	return out, nil
}

func TestCrossValidate(t *testing.T) {
	ctx := context.Background()
	cv, err := CrossValidate(ctx, classData(), 2, 7, majority)
	require.NoError(t, err)
	require.Len(t, cv.Folds, 2)
	total := 0
	for _, f := range cv.Folds {
		total += f.Examples
	}
	assert.Equal(t, 4, total)
	assert.Equal(t, 4, cv.Overall.Examples)

	_, err = CrossValidate(ctx, classData(), 5, 7, majority)
	assert.Error(t, err)

	_, err = CrossValidate(ctx, classData(), 2, 7, func(context.Context, *dataset.Dataset) (Predictor, error) {
		return nil, errors.New("boom")
	})
	assert.ErrorContains(t, err, "fold 0: boom")

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = CrossValidate(cctx, classData(), 2, 7, majority)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestReport(t *testing.T) {
	m, err := Evaluate(lookup{"a": "x", "b": "y", "c": "y", "d": "y"}, classData())
	require.NoError(t, err)
	var b strings.Builder
	WriteReport(&b, "Test set", m)
	out := b.String()
	assert.Contains(t, out, "## Test set")
	assert.Contains(t, out, "Weighted accuracy")
	assert.Contains(t, out, "0.7500")
	assert.Contains(t, out, "0.6667")

	cv, err := CrossValidate(context.Background(), classData(), 2, 7, majority)
	require.NoError(t, err)
	b.Reset()
	WriteCrossValidation(&b, cv)
	assert.Contains(t, b.String(), "## Cross-validation (2 folds)")
	assert.Contains(t, b.String(), "## Pooled")
}
