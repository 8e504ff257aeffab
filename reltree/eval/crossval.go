package eval

import (
	"context"
	"fmt"

	"github.com/wbrown/janus-reltree/reltree/dataset"
)

// FitFunc learns a model from training examples.
type FitFunc func(ctx context.Context, train *dataset.Dataset) (Predictor, error)

// CrossValidation holds the metrics of every fold and of the predictions
// of all folds pooled.
type CrossValidation struct {
	Folds   []Metrics
	Overall Metrics
}

// CrossValidate partitions data into k folds with a seeded shuffle and,
// for each fold, fits on the others and scores the fold.
func CrossValidate(ctx context.Context, data *dataset.Dataset, k int, seed int64, fit FitFunc) (*CrossValidation, error) {
	folds, err := data.Folds(k, seed)
	if err != nil {
		return nil, err
	}
	overall := NewScorer(data.IsClassification())
	cv := &CrossValidation{}
	for i, test := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		model, err := fit(ctx, dataset.Without(folds, i))
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", i, err)
		}
		fold := NewScorer(data.IsClassification())
		for _, e := range test.Examples {
			got, err := model.Predict(e.Descriptive)
			if err != nil {
				return nil, fmt.Errorf("fold %d example %s: %w", i, e.Descriptive, err)
			}
			for _, s := range []*Scorer{fold, overall} {
				if err := s.Add(e.Target, got, e.Weight); err != nil {
					return nil, fmt.Errorf("fold %d example %s: %w", i, e.Descriptive, err)
				}
			}
		}
		cv.Folds = append(cv.Folds, fold.Metrics())
	}
	cv.Overall = overall.Metrics()
	return cv, nil
}
