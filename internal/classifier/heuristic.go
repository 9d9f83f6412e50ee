package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"Go2NetGuard/internal/model"
)

func init() {
	Register("heuristic", func(path string) (model.Classifier, error) {
		h := DefaultHeuristic()
		if path == "" {
			return h, nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read model file: %w", err)
		}
		if err := json.Unmarshal(data, h); err != nil {
			return nil, fmt.Errorf("failed to decode heuristic model: %w", err)
		}
		return h, nil
	})
}

var heuristicFeatures = []string{"flow_pkts_s", "syn_flag_cnt", "ack_flag_cnt", "tot_fwd_pkts", "tot_bwd_pkts"}

// Heuristic scores flood-like flows without a trained model: high packet
// rates, SYN-heavy handshakes and one-sided bursts raise the score.
type Heuristic struct {
	PacketRateLimit float64 `json:"packet_rate_limit"`
	MinBurstPackets float64 `json:"min_burst_packets"`
	Threshold       float64 `json:"threshold"`
}

// DefaultHeuristic returns the builtin rule set.
func DefaultHeuristic() *Heuristic {
	return &Heuristic{PacketRateLimit: 1000, MinBurstPackets: 20, Threshold: 0.5}
}

func (h *Heuristic) Dimension() int         { return len(heuristicFeatures) }
func (h *Heuristic) FeatureNames() []string { return heuristicFeatures }

// PredictProba implements model.Classifier.
func (h *Heuristic) PredictProba(features [][]float64) ([]float64, error) {
	out := make([]float64, len(features))
	for i, x := range features {
		if len(x) != len(heuristicFeatures) {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(x), len(heuristicFeatures))
		}
		rate, syn, ack, fwd, bwd := x[0], x[1], x[2], x[3], x[4]

		var rateScore float64
		if h.PacketRateLimit > 0 {
			rateScore = math.Min(1, rate/h.PacketRateLimit)
		}

		var synScore float64
		if total := fwd + bwd; total > 0 && syn > ack {
			synScore = math.Min(1, syn/total)
		}

		var burstScore float64
		if bwd == 0 && h.MinBurstPackets > 0 && fwd >= h.MinBurstPackets {
			burstScore = 1
		}

		out[i] = math.Min(1, 0.5*rateScore+0.3*synScore+0.2*burstScore)
	}
	return out, nil
}

// Predict implements model.Classifier.
func (h *Heuristic) Predict(features [][]float64) ([]model.Label, error) {
	probs, err := h.PredictProba(features)
	if err != nil {
		return nil, err
	}
	return thresholdLabels(probs, h.Threshold), nil
}
