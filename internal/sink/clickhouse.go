package sink

import (
	"context"
	"fmt"
	"time"

	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	log "github.com/sirupsen/logrus"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS flow_verdicts (
    Timestamp   DateTime,
    CycleID     String,
    Interface   String,
    SrcIP       String,
    DstIP       String,
    SrcPort     UInt16,
    DstPort     UInt16,
    Protocol    UInt8,
    StartTime   DateTime64(6),
    EndTime     DateTime64(6),
    Label       String,
    Probability Float64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (SrcIP, Timestamp);
`

// ClickHouseWriter implements the model.Writer interface for ClickHouse.
type ClickHouseWriter struct {
	conn driver.Conn
}

// NewClickHouseWriter connects to ClickHouse and ensures the verdict table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseWriter{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Write inserts one row per classified flow of the cycle.
func (w *ClickHouseWriter) Write(ctx context.Context, report *model.CycleReport) error {
	rows := verdictRows(report)
	if len(rows) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO flow_verdicts")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(r...); err != nil {
			return fmt.Errorf("failed to append verdict to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Wrote %d verdicts to ClickHouse for cycle %s", len(rows), report.ID)
	return nil
}

func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}

// verdictRows lays out a report in flow_verdicts column order.
func verdictRows(report *model.CycleReport) [][]any {
	ts := report.FinishedAt.UTC().Truncate(time.Second)
	rows := make([][]any, 0, len(report.Results))
	for _, r := range report.Results {
		rows = append(rows, []any{
			ts,
			report.ID,
			report.Interface,
			r.Flow.SrcIP.String(),
			r.Flow.DstIP.String(),
			r.Flow.SrcPort,
			r.Flow.DstPort,
			r.Flow.Protocol,
			r.Flow.StartTime.UTC(),
			r.Flow.EndTime.UTC(),
			r.Label.String(),
			r.Probability,
		})
	}
	return rows
}
