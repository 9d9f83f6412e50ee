package model

import (
	"net/netip"
	"time"
)

// FlowMetadata identifies a single flow. It is immutable once parsed.
type FlowMetadata struct {
	SrcIP     netip.Addr
	DstIP     netip.Addr
	SrcPort   uint16
	DstPort   uint16
	Protocol  uint8
	StartTime time.Time
	EndTime   time.Time
}

// FlowFeatures is the ordered numeric feature vector of a flow. Its length is
// fixed by the classifier's expected input dimension.
type FlowFeatures []float64

// FlowRecord pairs the metadata of a flow with the features derived from it.
type FlowRecord struct {
	Metadata FlowMetadata
	Features FlowFeatures
}

// Label is the discrete verdict the classifier assigns to a flow.
type Label int

const (
	LabelBenign Label = iota
	LabelMalicious
)

func (l Label) String() string {
	switch l {
	case LabelMalicious:
		return "malicious"
	case LabelBenign:
		return "benign"
	default:
		return "unknown"
	}
}

// ClassificationResult is the verdict for one flow. Probability is the
// probability of the malicious class and lies in [0,1].
type ClassificationResult struct {
	Flow        FlowMetadata
	Label       Label
	Probability float64
}

// CycleReport summarizes one evaluated capture cycle. It is handed to the
// verdict writers after enforcement.
type CycleReport struct {
	ID               string
	Interface        string
	StartedAt        time.Time
	FinishedAt       time.Time
	Results          []ClassificationResult
	MaliciousSources []netip.Addr
	FlowLogs         []string
}
