package model

// Classifier is the capability the evaluation core requires from a trained
// model. Any model family implementing it is substitutable.
type Classifier interface {
	// Predict returns one label per feature vector.
	Predict(features [][]float64) ([]Label, error)

	// PredictProba returns, per feature vector, the probability of the malicious class.
	PredictProba(features [][]float64) ([]float64, error)

	// Dimension is the length of the feature vectors the model expects.
	Dimension() int

	// FeatureNames optionally names the expected columns in order. A nil result
	// means the model relies on positional input.
	FeatureNames() []string
}
