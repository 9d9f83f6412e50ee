package classifier

import (
	"errors"
	"math"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"Go2NetGuard/internal/flowdata"
	"Go2NetGuard/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModel(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func dataset(names []string, rows ...[]float64) *flowdata.Dataset {
	ds := &flowdata.Dataset{FeatureNames: names}
	for i, r := range rows {
		ds.Records = append(ds.Records, model.FlowRecord{
			Metadata: model.FlowMetadata{
				SrcIP: netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)}),
				DstIP: netip.MustParseAddr("10.0.0.254"),
			},
			Features: r,
		})
	}
	return ds
}

func TestRegistry_BuiltinTypes(t *testing.T) {
	assert.Equal(t, []string{"forest", "heuristic", "logistic"}, Types())
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register("heuristic", func(string) (model.Classifier, error) { return nil, nil })
	})
}

func TestLoad_UnknownType(t *testing.T) {
	_, err := Load("svm", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model type")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("logistic", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLogistic(t *testing.T) {
	path := writeModel(t, `{"features":["a","b"],"weights":[2,-1],"bias":-1}`)
	clf, err := Load("logistic", path)
	require.NoError(t, err)
	assert.Equal(t, 2, clf.Dimension())

	probs, err := clf.PredictProba([][]float64{{0.5, 0}, {3, 0}, {0, 4}})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, probs[0], 1e-9)
	assert.Greater(t, probs[1], 0.99)
	assert.Less(t, probs[2], 0.01)

	labels, err := clf.Predict([][]float64{{0.5, 0}, {3, 0}, {0, 4}})
	require.NoError(t, err)
	assert.Equal(t, []model.Label{model.LabelMalicious, model.LabelMalicious, model.LabelBenign}, labels)

	_, err = clf.PredictProba([][]float64{{1}})
	assert.Error(t, err)
}

func TestLogistic_Standardization(t *testing.T) {
	path := writeModel(t, `{"weights":[1],"bias":0,"mean":[10],"scale":[2]}`)
	clf, err := LoadLogistic(path)
	require.NoError(t, err)

	probs, err := clf.PredictProba([][]float64{{10}})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, probs[0], 1e-9)
}

func TestLogistic_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"no weights":     `{"weights":[]}`,
		"name mismatch":  `{"features":["a"],"weights":[1,2]}`,
		"bad threshold":  `{"weights":[1],"threshold":2}`,
		"neg threshold":  `{"weights":[1],"threshold":-0.1}`,
		"not json":       `weights`,
		"scale mismatch": `{"weights":[1,2],"scale":[1]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadLogistic(writeModel(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLogistic_ExplicitZeroThreshold(t *testing.T) {
	clf, err := LoadLogistic(writeModel(t, `{"weights":[1],"bias":0,"threshold":0}`))
	require.NoError(t, err)

	labels, err := clf.Predict([][]float64{{-50}, {50}})
	require.NoError(t, err)
	assert.Equal(t, []model.Label{model.LabelMalicious, model.LabelMalicious}, labels)

	clf, err = LoadLogistic(writeModel(t, `{"weights":[1],"bias":0}`))
	require.NoError(t, err)
	labels, err = clf.Predict([][]float64{{-50}, {50}})
	require.NoError(t, err)
	assert.Equal(t, []model.Label{model.LabelBenign, model.LabelMalicious}, labels)
}

const stumpForest = `{
  "features": ["flow_pkts_s", "syn_flag_cnt"],
  "trees": [
    {"nodes": [{"feature": 0, "threshold": 100, "left": 1, "right": 2}, {"leaf": true, "value": 0}, {"leaf": true, "value": 1}]},
    {"nodes": [{"feature": 1, "threshold": 5, "left": 1, "right": 2}, {"leaf": true, "value": 0.2}, {"leaf": true, "value": 0.8}]}
  ]
}`

func TestForest(t *testing.T) {
	clf, err := Load("forest", writeModel(t, stumpForest))
	require.NoError(t, err)
	assert.Equal(t, []string{"flow_pkts_s", "syn_flag_cnt"}, clf.FeatureNames())

	probs, err := clf.PredictProba([][]float64{{10, 1}, {500, 1}, {500, 10}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.1, 0.6, 0.9}, probs, 1e-9)

	labels, err := clf.Predict([][]float64{{10, 1}, {500, 10}})
	require.NoError(t, err)
	assert.Equal(t, []model.Label{model.LabelBenign, model.LabelMalicious}, labels)
}

func TestForest_ExplicitZeroThreshold(t *testing.T) {
	body := `{"dimension":1,"threshold":0,"trees":[{"nodes":[{"leaf":true,"value":0}]}]}`
	clf, err := LoadForest(writeModel(t, body))
	require.NoError(t, err)

	labels, err := clf.Predict([][]float64{{1}})
	require.NoError(t, err)
	assert.Equal(t, []model.Label{model.LabelMalicious}, labels)
}

func TestForest_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"no trees":       `{"dimension":2,"trees":[]}`,
		"no dimension":   `{"trees":[{"nodes":[{"leaf":true,"value":1}]}]}`,
		"feature range":  `{"dimension":1,"trees":[{"nodes":[{"feature":3,"left":1,"right":2},{"leaf":true},{"leaf":true}]}]}`,
		"backward child": `{"dimension":1,"trees":[{"nodes":[{"feature":0,"left":0,"right":1},{"leaf":true}]}]}`,
		"leaf range":     `{"dimension":1,"trees":[{"nodes":[{"leaf":true,"value":3}]}]}`,
		"empty tree":     `{"dimension":1,"trees":[{"nodes":[]}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadForest(writeModel(t, body))
			assert.Error(t, err)
		})
	}
}

func TestHeuristic(t *testing.T) {
	clf, err := Load("heuristic", "")
	require.NoError(t, err)

	// flow_pkts_s, syn, ack, fwd, bwd
	probs, err := clf.PredictProba([][]float64{
		{5, 1, 3, 4, 3},
		{5000, 50, 0, 50, 0},
	})
	require.NoError(t, err)
	assert.Less(t, probs[0], 0.5)
	assert.InDelta(t, 1.0, probs[1], 1e-9)
}

func TestHeuristic_Overrides(t *testing.T) {
	clf, err := Load("heuristic", writeModel(t, `{"packet_rate_limit":10,"threshold":0.4}`))
	require.NoError(t, err)

	labels, err := clf.Predict([][]float64{{20, 0, 0, 2, 2}})
	require.NoError(t, err)
	assert.Equal(t, []model.Label{model.LabelMalicious}, labels)
}

func TestAdapter_ProjectsByName(t *testing.T) {
	clf, err := LoadForest(writeModel(t, stumpForest))
	require.NoError(t, err)

	ds := dataset([]string{"syn_flag_cnt", "other", "flow_pkts_s"},
		[]float64{10, 99, 500},
		[]float64{1, 99, 10},
	)
	results, err := NewAdapter(clf).Classify(ds)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, model.LabelMalicious, results[0].Label)
	assert.InDelta(t, 0.9, results[0].Probability, 1e-9)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), results[0].Flow.SrcIP)
	assert.Equal(t, model.LabelBenign, results[1].Label)
}

func TestAdapter_MissingNamedFeature(t *testing.T) {
	clf, err := LoadForest(writeModel(t, stumpForest))
	require.NoError(t, err)

	_, err = NewAdapter(clf).Classify(dataset([]string{"flow_pkts_s"}, []float64{1}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syn_flag_cnt")
}

func TestAdapter_DimensionMismatch(t *testing.T) {
	clf, err := LoadLogistic(writeModel(t, `{"weights":[1,1,1]}`))
	require.NoError(t, err)

	_, err = NewAdapter(clf).Classify(dataset([]string{"a", "b"}, []float64{1, 2}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model expects 3")
}

type stubClassifier struct {
	labels []model.Label
	probs  []float64
	err    error
}

func (s *stubClassifier) Predict([][]float64) ([]model.Label, error) { return s.labels, s.err }
func (s *stubClassifier) PredictProba([][]float64) ([]float64, error) {
	return s.probs, nil
}
func (s *stubClassifier) Dimension() int         { return 1 }
func (s *stubClassifier) FeatureNames() []string { return nil }

func TestAdapter_RejectsInconsistentModels(t *testing.T) {
	ds := dataset([]string{"x"}, []float64{1}, []float64{2})

	_, err := NewAdapter(&stubClassifier{labels: []model.Label{0}, probs: []float64{0.1, 0.2}}).Classify(ds)
	assert.Error(t, err, "short label output")

	_, err = NewAdapter(&stubClassifier{labels: []model.Label{0, 1}, probs: []float64{0.1, 1.5}}).Classify(ds)
	assert.Error(t, err, "probability out of range")

	_, err = NewAdapter(&stubClassifier{labels: []model.Label{0, 1}, probs: []float64{0.1, math.NaN()}}).Classify(ds)
	assert.Error(t, err, "NaN probability")

	boom := errors.New("boom")
	_, err = NewAdapter(&stubClassifier{err: boom}).Classify(ds)
	assert.ErrorIs(t, err, boom)
}
