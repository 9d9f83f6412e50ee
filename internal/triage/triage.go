package triage

import (
	"fmt"
	"net/netip"
	"time"

	"Go2NetGuard/internal/model"
)

// SourceSet is a set of source addresses that remembers insertion order.
type SourceSet struct {
	order []netip.Addr
	index map[netip.Addr]struct{}
}

// NewSourceSet creates an empty set.
func NewSourceSet() *SourceSet {
	return &SourceSet{index: make(map[netip.Addr]struct{})}
}

// Add inserts addr and reports whether it was new.
func (s *SourceSet) Add(addr netip.Addr) bool {
	if _, ok := s.index[addr]; ok {
		return false
	}
	s.index[addr] = struct{}{}
	s.order = append(s.order, addr)
	return true
}

func (s *SourceSet) Has(addr netip.Addr) bool {
	_, ok := s.index[addr]
	return ok
}

func (s *SourceSet) Len() int {
	return len(s.order)
}

// Slice returns a copy of the members in insertion order.
func (s *SourceSet) Slice() []netip.Addr {
	return append([]netip.Addr(nil), s.order...)
}

// FormatLine renders the flow log line of one malicious flow.
func FormatLine(md model.FlowMetadata, probability float64) string {
	return fmt.Sprintf("%s %s -> %s %.4f", md.StartTime.UTC().Format(time.RFC3339Nano), md.SrcIP, md.DstIP, probability)
}

// Triage partitions classified flows. It returns the distinct sources of the
// malicious flows and one log line per malicious flow, both in input order.
// The three slices must have equal length; a mismatch is a caller bug and
// panics.
func Triage(metadata []model.FlowMetadata, labels []model.Label, probabilities []float64) (*SourceSet, []string) {
	if len(metadata) != len(labels) || len(labels) != len(probabilities) {
		panic(fmt.Sprintf("triage: length mismatch: %d flows, %d labels, %d probabilities",
			len(metadata), len(labels), len(probabilities)))
	}

	sources := NewSourceSet()
	var lines []string
	for i, md := range metadata {
		if labels[i] != model.LabelMalicious {
			continue
		}
		sources.Add(md.SrcIP)
		lines = append(lines, FormatLine(md, probabilities[i]))
	}
	return sources, lines
}

// Results is Triage over the output of the classifier adapter.
func Results(results []model.ClassificationResult) (*SourceSet, []string) {
	metadata := make([]model.FlowMetadata, len(results))
	labels := make([]model.Label, len(results))
	probs := make([]float64, len(results))
	for i, r := range results {
		metadata[i] = r.Flow
		labels[i] = r.Label
		probs[i] = r.Probability
	}
	return Triage(metadata, labels, probs)
}
