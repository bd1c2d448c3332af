package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cyra/logan/internal/config"
	"github.com/cyra/logan/internal/logging"
	"github.com/cyra/logan/internal/parser"
)

// ErrNoDatabase is returned when the configured sink is not queryable.
var ErrNoDatabase = errors.New("sink has no queryable database")

// OpenDB opens the database behind a SQL-backed sink type and returns the
// matching dialect. ClickHouse is opened through its database/sql adapter
// so reports can share one code path.
func OpenDB(ctx context.Context, cfg *config.SinkConfig) (*sql.DB, Dialect, error) {
	d, err := LookupDialect(cfg.Type)
	if err != nil {
		if cfg.Type == "nats" || cfg.Type == "discard" {
			return nil, Dialect{}, fmt.Errorf("%w: %s", ErrNoDatabase, cfg.Type)
		}
		return nil, Dialect{}, err
	}

	var db *sql.DB
	switch d.Name {
	case "clickhouse":
		db = clickhouse.OpenDB(clickhouseOptions(cfg.ClickHouse))
	case "mysql":
		dsn, err := mysqlDSN(cfg.DSN)
		if err != nil {
			return nil, Dialect{}, err
		}
		db, err = sql.Open(d.Driver, dsn)
		if err != nil {
			return nil, Dialect{}, fmt.Errorf("open %s: %w", d.Name, err)
		}
	default:
		db, err = sql.Open(d.Driver, cfg.DSN)
		if err != nil {
			return nil, Dialect{}, fmt.Errorf("open %s: %w", d.Name, err)
		}
	}

	if d.Name == "sqlite" {
		// one writer at a time; avoids SQLITE_BUSY between batches
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, Dialect{}, fmt.Errorf("ping %s: %w", d.Name, err)
	}
	return db, d, nil
}

// mysqlDSN forces the settings the sink relies on: DATETIME values come
// back as time.Time and are read and written as UTC.
func mysqlDSN(dsn string) (string, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN(), nil
}

// SQL writes batches through database/sql, one transaction per batch.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	table   string
	insert  string
	logger  *logging.Logger

	now func() time.Time
}

// OpenSQL opens the configured database and ensures the schema exists.
func OpenSQL(ctx context.Context, cfg *config.SinkConfig, logger *logging.Logger) (*SQL, error) {
	db, d, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewSQL(ctx, db, d, cfg.Table, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an open database. The table is created if missing.
func NewSQL(ctx context.Context, db *sql.DB, d Dialect, table string, logger *logging.Logger) (*SQL, error) {
	s := &SQL{
		db:      db,
		dialect: d,
		table:   table,
		insert:  d.insertSQL(table),
		logger:  logger,
		now:     time.Now,
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the table and its indexes when absent.
func (s *SQL) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema(s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema for %s: %w", s.table, err)
		}
	}
	s.logger.Debugf("schema ready: table=%s dialect=%s", s.table, s.dialect.Name)
	return nil
}

func (s *SQL) Name() string {
	return s.dialect.Name
}

// Insert writes the batch atomically. On error the transaction is rolled
// back and nothing from this batch is persisted.
func (s *SQL) Insert(ctx context.Context, batch []parser.LogRecord) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := s.now()
	for i := range batch {
		row := NewRow(&batch[i], now)
		_, err := stmt.ExecContext(ctx,
			row.IPAddress,
			row.Timestamp,
			nullable(row.RequestMethod),
			nullable(row.Resource),
			row.StatusCode,
			nullable(row.ResponseSize),
			row.RequestTime,
		)
		if err != nil {
			return fmt.Errorf("insert row %d of %d: %w", i+1, len(batch), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for read-side callers.
func (s *SQL) DB() *sql.DB {
	return s.db
}

func (s *SQL) Close() error {
	return s.db.Close()
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
