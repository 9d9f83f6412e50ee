package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"Go2NetGuard/internal/model"
)

func init() {
	Register("logistic", func(path string) (model.Classifier, error) {
		return LoadLogistic(path)
	})
}

// Logistic is a binary logistic-regression model with optional feature
// standardization.
type Logistic struct {
	Features  []string  `json:"features,omitempty"`
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
	Threshold *float64  `json:"threshold,omitempty"`
	Mean      []float64 `json:"mean,omitempty"`
	Scale     []float64 `json:"scale,omitempty"`
}

// LoadLogistic reads a logistic model from a JSON file.
func LoadLogistic(path string) (*Logistic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	var m Logistic
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode logistic model: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Logistic) validate() error {
	if len(m.Weights) == 0 {
		return fmt.Errorf("logistic model has no weights")
	}
	if len(m.Features) > 0 && len(m.Features) != len(m.Weights) {
		return fmt.Errorf("logistic model names %d features but has %d weights", len(m.Features), len(m.Weights))
	}
	if len(m.Mean) > 0 && len(m.Mean) != len(m.Weights) {
		return fmt.Errorf("logistic model mean has %d entries, want %d", len(m.Mean), len(m.Weights))
	}
	if len(m.Scale) > 0 && len(m.Scale) != len(m.Weights) {
		return fmt.Errorf("logistic model scale has %d entries, want %d", len(m.Scale), len(m.Weights))
	}
	if err := checkThreshold(m.Threshold); err != nil {
		return fmt.Errorf("logistic model %w", err)
	}
	return nil
}

func (m *Logistic) Dimension() int         { return len(m.Weights) }
func (m *Logistic) FeatureNames() []string { return m.Features }

// PredictProba implements model.Classifier.
func (m *Logistic) PredictProba(features [][]float64) ([]float64, error) {
	out := make([]float64, len(features))
	for i, x := range features {
		if len(x) != len(m.Weights) {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(x), len(m.Weights))
		}
		z := m.Bias
		for j, w := range m.Weights {
			v := x[j]
			if len(m.Mean) > 0 {
				v -= m.Mean[j]
			}
			if len(m.Scale) > 0 && m.Scale[j] != 0 {
				v /= m.Scale[j]
			}
			z += w * v
		}
		out[i] = 1 / (1 + math.Exp(-z))
	}
	return out, nil
}

// Predict implements model.Classifier.
func (m *Logistic) Predict(features [][]float64) ([]model.Label, error) {
	probs, err := m.PredictProba(features)
	if err != nil {
		return nil, err
	}
	return thresholdLabels(probs, thresholdOr(m.Threshold)), nil
}

// DefaultThreshold labels a flow malicious when the model sets no threshold.
const DefaultThreshold = 0.5

// thresholdOr returns t, or DefaultThreshold when the model file omits it.
// An explicit 0 is kept and labels every flow malicious.
func thresholdOr(t *float64) float64 {
	if t == nil {
		return DefaultThreshold
	}
	return *t
}

func checkThreshold(t *float64) error {
	if t != nil && (math.IsNaN(*t) || *t < 0 || *t > 1) {
		return fmt.Errorf("threshold %f outside [0,1]", *t)
	}
	return nil
}

func thresholdLabels(probs []float64, threshold float64) []model.Label {
	labels := make([]model.Label, len(probs))
	for i, p := range probs {
		if p >= threshold {
			labels[i] = model.LabelMalicious
		}
	}
	return labels
}
