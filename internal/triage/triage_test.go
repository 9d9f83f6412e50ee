package triage

import (
	"net/netip"
	"testing"
	"time"

	"Go2NetGuard/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func flow(src string, offset time.Duration) model.FlowMetadata {
	return model.FlowMetadata{
		SrcIP:     netip.MustParseAddr(src),
		DstIP:     netip.MustParseAddr("192.168.1.10"),
		SrcPort:   40000,
		DstPort:   443,
		Protocol:  6,
		StartTime: t0.Add(offset),
		EndTime:   t0.Add(offset + time.Second),
	}
}

func TestTriage_PreservesOrder(t *testing.T) {
	md := []model.FlowMetadata{
		flow("10.0.0.5", 0),
		flow("10.0.0.6", time.Second),
		flow("10.0.0.7", 2*time.Second),
		flow("10.0.0.5", 3*time.Second),
		flow("10.0.0.8", 4*time.Second),
	}
	labels := []model.Label{model.LabelMalicious, model.LabelBenign, model.LabelMalicious, model.LabelMalicious, model.LabelBenign}
	probs := []float64{0.91, 0.1, 0.75, 0.5, 0.49}

	sources, lines := Triage(md, labels, probs)

	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.0.0.5"), netip.MustParseAddr("10.0.0.7")}, sources.Slice())
	assert.Equal(t, []string{
		"2026-10-18T12:00:00Z 10.0.0.5 -> 192.168.1.10 0.9100",
		"2026-10-18T12:00:02Z 10.0.0.7 -> 192.168.1.10 0.7500",
		"2026-10-18T12:00:03Z 10.0.0.5 -> 192.168.1.10 0.5000",
	}, lines)
}

func TestTriage_Deterministic(t *testing.T) {
	md := []model.FlowMetadata{flow("10.0.0.9", 0), flow("fd00::1", time.Second)}
	labels := []model.Label{model.LabelMalicious, model.LabelMalicious}
	probs := []float64{0.6, 0.7}

	s1, l1 := Triage(md, labels, probs)
	s2, l2 := Triage(md, labels, probs)
	assert.Equal(t, s1.Slice(), s2.Slice())
	assert.Equal(t, l1, l2)
	assert.Contains(t, l1[1], "fd00::1 -> 192.168.1.10")
}

func TestTriage_NoMalicious(t *testing.T) {
	sources, lines := Triage([]model.FlowMetadata{flow("10.0.0.1", 0)}, []model.Label{model.LabelBenign}, []float64{0.2})
	assert.Zero(t, sources.Len())
	assert.Empty(t, lines)

	sources, lines = Triage(nil, nil, nil)
	assert.Zero(t, sources.Len())
	assert.Empty(t, lines)
}

func TestTriage_LengthMismatchPanics(t *testing.T) {
	assert.Panics(t, func() {
		Triage([]model.FlowMetadata{flow("10.0.0.1", 0)}, []model.Label{}, []float64{0.3})
	})
	assert.Panics(t, func() {
		Triage([]model.FlowMetadata{flow("10.0.0.1", 0)}, []model.Label{model.LabelBenign}, nil)
	})
}

func TestResults(t *testing.T) {
	results := []model.ClassificationResult{
		{Flow: flow("10.0.0.5", 0), Label: model.LabelMalicious, Probability: 0.8},
		{Flow: flow("10.0.0.6", 0), Label: model.LabelBenign, Probability: 0.3},
	}
	sources, lines := Results(results)
	require.Equal(t, 1, sources.Len())
	assert.True(t, sources.Has(netip.MustParseAddr("10.0.0.5")))
	assert.False(t, sources.Has(netip.MustParseAddr("10.0.0.6")))
	assert.Len(t, lines, 1)
}

func TestSourceSet(t *testing.T) {
	s := NewSourceSet()
	a := netip.MustParseAddr("10.0.0.1")
	assert.True(t, s.Add(a))
	assert.False(t, s.Add(a))
	assert.Equal(t, 1, s.Len())

	out := s.Slice()
	out[0] = netip.MustParseAddr("10.0.0.2")
	assert.True(t, s.Has(a), "Slice returns a copy")
}
