package sink

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"Go2NetGuard/internal/config"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// DefaultLimit bounds RecentVerdicts when the caller passes no limit.
const DefaultLimit = 100

// Verdict is one stored classification.
type Verdict struct {
	Timestamp   time.Time `json:"timestamp"`
	CycleID     string    `json:"cycle_id"`
	Interface   string    `json:"interface"`
	SrcIP       string    `json:"src_ip"`
	DstIP       string    `json:"dst_ip"`
	SrcPort     uint16    `json:"src_port"`
	DstPort     uint16    `json:"dst_port"`
	Protocol    uint8     `json:"protocol"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Label       string    `json:"label"`
	Probability float64   `json:"probability"`
}

// Querier defines the interface for querying stored verdicts.
type Querier interface {
	RecentVerdicts(ctx context.Context, src netip.Addr, limit int) ([]Verdict, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

// buildRecentQuery returns the SQL and arguments for RecentVerdicts. An
// invalid src selects every source.
func buildRecentQuery(src netip.Addr, limit int) (string, []any) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var qb strings.Builder
	qb.WriteString(`
		SELECT Timestamp, CycleID, Interface, SrcIP, DstIP, SrcPort, DstPort, Protocol,
		       StartTime, EndTime, Label, Probability
		FROM flow_verdicts`)

	var args []any
	if src.IsValid() {
		qb.WriteString(" WHERE SrcIP = ?")
		args = append(args, src.String())
	}
	qb.WriteString(" ORDER BY Timestamp DESC, StartTime DESC LIMIT ?")
	args = append(args, limit)
	return qb.String(), args
}

// RecentVerdicts returns the newest verdicts, optionally for one source.
func (q *clickhouseQuerier) RecentVerdicts(ctx context.Context, src netip.Addr, limit int) ([]Verdict, error) {
	query, args := buildRecentQuery(src, limit)

	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []Verdict
	for rows.Next() {
		var v Verdict
		if err := rows.Scan(&v.Timestamp, &v.CycleID, &v.Interface, &v.SrcIP, &v.DstIP, &v.SrcPort, &v.DstPort,
			&v.Protocol, &v.StartTime, &v.EndTime, &v.Label, &v.Probability); err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read verdicts: %w", err)
	}
	return out, nil
}
