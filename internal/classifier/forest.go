package classifier

import (
	"encoding/json"
	"fmt"
	"os"

	"Go2NetGuard/internal/model"
)

func init() {
	Register("forest", func(path string) (model.Classifier, error) {
		return LoadForest(path)
	})
}

// Node is one node of a binary decision tree. Internal nodes send a sample
// left when x[Feature] <= Threshold; leaves carry the malicious score.
type Node struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
}

// Tree is a decision tree rooted at Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is an ensemble of decision trees; the malicious probability is the
// mean of the leaf scores.
type Forest struct {
	Features  []string `json:"features,omitempty"`
	Dim       int      `json:"dimension,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Trees     []Tree   `json:"trees"`
}

// LoadForest reads a tree ensemble from a JSON file.
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode forest model: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *Forest) validate() error {
	if len(f.Features) > 0 {
		f.Dim = len(f.Features)
	}
	if f.Dim <= 0 {
		return fmt.Errorf("forest model needs either features or dimension")
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest model has no trees")
	}
	if err := checkThreshold(f.Threshold); err != nil {
		return fmt.Errorf("forest model %w", err)
	}
	for t, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", t)
		}
		for n, node := range tree.Nodes {
			if node.Leaf {
				if node.Value < 0 || node.Value > 1 {
					return fmt.Errorf("tree %d node %d: leaf value %f outside [0,1]", t, n, node.Value)
				}
				continue
			}
			if node.Feature < 0 || node.Feature >= f.Dim {
				return fmt.Errorf("tree %d node %d: feature %d out of range", t, n, node.Feature)
			}
			// Children must point forward, which also rules out cycles.
			if node.Left <= n || node.Left >= len(tree.Nodes) || node.Right <= n || node.Right >= len(tree.Nodes) {
				return fmt.Errorf("tree %d node %d: invalid children %d/%d", t, n, node.Left, node.Right)
			}
		}
	}
	return nil
}

func (f *Forest) Dimension() int         { return f.Dim }
func (f *Forest) FeatureNames() []string { return f.Features }

func (t *Tree) score(x []float64) float64 {
	i := 0
	for {
		node := t.Nodes[i]
		if node.Leaf {
			return node.Value
		}
		if x[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

// PredictProba implements model.Classifier.
func (f *Forest) PredictProba(features [][]float64) ([]float64, error) {
	out := make([]float64, len(features))
	for i, x := range features {
		if len(x) != f.Dim {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(x), f.Dim)
		}
		var sum float64
		for t := range f.Trees {
			sum += f.Trees[t].score(x)
		}
		out[i] = sum / float64(len(f.Trees))
	}
	return out, nil
}

// Predict implements model.Classifier.
func (f *Forest) Predict(features [][]float64) ([]model.Label, error) {
	probs, err := f.PredictProba(features)
	if err != nil {
		return nil, err
	}
	return thresholdLabels(probs, thresholdOr(f.Threshold)), nil
}
