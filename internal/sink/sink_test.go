package sink

import (
	"net/netip"
	"testing"
	"time"

	"Go2NetGuard/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerdictRows(t *testing.T) {
	start := time.Date(2026, 10, 18, 8, 0, 0, 500, time.UTC)
	report := &model.CycleReport{
		ID:         "c-1",
		Interface:  "eth0",
		FinishedAt: start.Add(1500 * time.Millisecond),
		Results: []model.ClassificationResult{{
			Flow: model.FlowMetadata{
				SrcIP: netip.MustParseAddr("10.0.0.5"), DstIP: netip.MustParseAddr("10.0.0.1"),
				SrcPort: 4000, DstPort: 22, Protocol: 6, StartTime: start, EndTime: start.Add(time.Second),
			},
			Label:       model.LabelMalicious,
			Probability: 0.97,
		}},
	}

	rows := verdictRows(report)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{
		start.Add(time.Second).Truncate(time.Second), "c-1", "eth0", "10.0.0.5", "10.0.0.1",
		uint16(4000), uint16(22), uint8(6), start, start.Add(time.Second), "malicious", 0.97,
	}, rows[0])

	assert.Empty(t, verdictRows(&model.CycleReport{}))
}

func TestBuildRecentQuery(t *testing.T) {
	q, args := buildRecentQuery(netip.MustParseAddr("10.0.0.5"), 0)
	assert.Contains(t, q, "WHERE SrcIP = ?")
	assert.Equal(t, []any{"10.0.0.5", DefaultLimit}, args)

	q, args = buildRecentQuery(netip.Addr{}, 10)
	assert.NotContains(t, q, "WHERE")
	assert.Equal(t, []any{10}, args)
}
