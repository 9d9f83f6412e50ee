package classifier

import (
	"fmt"
	"math"

	"Go2NetGuard/internal/flowdata"
	"Go2NetGuard/internal/model"
)

// Adapter runs an opaque classifier over a parsed dataset and pairs each
// verdict with its flow.
type Adapter struct {
	clf model.Classifier
}

// NewAdapter wraps clf.
func NewAdapter(clf model.Classifier) *Adapter {
	return &Adapter{clf: clf}
}

// Classifier returns the wrapped model.
func (a *Adapter) Classifier() model.Classifier {
	return a.clf
}

// Classify returns one result per dataset record, in record order.
func (a *Adapter) Classify(ds *flowdata.Dataset) ([]model.ClassificationResult, error) {
	features, err := a.project(ds)
	if err != nil {
		return nil, err
	}

	labels, err := a.clf.Predict(features)
	if err != nil {
		return nil, fmt.Errorf("failed to predict labels: %w", err)
	}
	probs, err := a.clf.PredictProba(features)
	if err != nil {
		return nil, fmt.Errorf("failed to predict probabilities: %w", err)
	}
	if len(labels) != len(features) || len(probs) != len(features) {
		return nil, fmt.Errorf("classifier returned %d labels and %d probabilities for %d flows", len(labels), len(probs), len(features))
	}

	results := make([]model.ClassificationResult, len(features))
	for i, rec := range ds.Records {
		if math.IsNaN(probs[i]) || probs[i] < 0 || probs[i] > 1 {
			return nil, fmt.Errorf("classifier returned probability %f outside [0,1]", probs[i])
		}
		results[i] = model.ClassificationResult{Flow: rec.Metadata, Label: labels[i], Probability: probs[i]}
	}
	return results, nil
}

// project maps dataset columns onto the model's expected input. Named models
// select their columns by name; positional models need an exact width match.
func (a *Adapter) project(ds *flowdata.Dataset) ([][]float64, error) {
	names := a.clf.FeatureNames()
	if len(names) == 0 {
		if len(ds.FeatureNames) != a.clf.Dimension() {
			return nil, fmt.Errorf("dataset has %d features, model expects %d", len(ds.FeatureNames), a.clf.Dimension())
		}
		return ds.Features(), nil
	}

	index := make(map[string]int, len(ds.FeatureNames))
	for i, n := range ds.FeatureNames {
		index[n] = i
	}
	cols := make([]int, len(names))
	for i, n := range names {
		idx, ok := index[flowdata.NormalizeColumn(n)]
		if !ok {
			return nil, fmt.Errorf("dataset is missing model feature '%s'", n)
		}
		cols[i] = idx
	}

	out := make([][]float64, len(ds.Records))
	for r, rec := range ds.Records {
		row := make([]float64, len(cols))
		for i, c := range cols {
			row[i] = rec.Features[c]
		}
		out[r] = row
	}
	return out, nil
}
