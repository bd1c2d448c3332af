package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/cyra/logan/internal/config"
	"github.com/cyra/logan/internal/logging"
	"github.com/cyra/logan/internal/parser"
)

// ClickHouse writes batches over the native protocol. A batch is sent as a
// single block, so it is stored entirely or not at all.
type ClickHouse struct {
	conn   driver.Conn
	table  string
	logger *logging.Logger

	now func() time.Time
}

func clickhouseOptions(cfg *config.ClickHouseConfig) *clickhouse.Options {
	return &clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.Timeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	}
}

// NewClickHouse connects, pings and creates the table if needed.
func NewClickHouse(ctx context.Context, cfg *config.ClickHouseConfig, table string, logger *logging.Logger) (*ClickHouse, error) {
	conn, err := clickhouse.Open(clickhouseOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	for _, stmt := range dialects["clickhouse"].Schema(table) {
		if err := conn.Exec(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("create schema for %s: %w", table, err)
		}
	}
	logger.Debugf("schema ready: table=%s dialect=clickhouse", table)

	return &ClickHouse{conn: conn, table: table, logger: logger, now: time.Now}, nil
}

func (c *ClickHouse) Name() string {
	return "clickhouse"
}

func (c *ClickHouse) Insert(ctx context.Context, batch []parser.LogRecord) error {
	if len(batch) == 0 {
		return nil
	}

	b, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+c.table+" (ip_address, timestamp, request_method, resource, status_code, response_size, request_time)")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	now := c.now()
	for i := range batch {
		row := NewRow(&batch[i], now)
		err := b.Append(
			row.IPAddress,
			row.Timestamp,
			row.RequestMethod,
			row.Resource,
			int32(row.StatusCode),
			row.ResponseSize,
			row.RequestTime,
		)
		if err != nil {
			_ = b.Abort()
			return fmt.Errorf("append row %d of %d: %w", i+1, len(batch), err)
		}
	}

	if err := b.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
