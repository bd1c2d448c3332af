package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/cyra/logan/internal/config"
	"github.com/cyra/logan/internal/sink"
)

var (
	// ErrReportsUnsupported is returned when the sink cannot be queried.
	ErrReportsUnsupported = errors.New("reports need a SQL sink (sqlite, postgres, mysql or clickhouse)")
	// ErrUnknownReport is returned by Run for an unrecognized report name.
	ErrUnknownReport = errors.New("unknown report")
)

// Names lists the reports accepted by Run, in display order.
var Names = []string{"stats", "top-ips", "status", "hourly", "daily", "resources", "errors", "heatmap", "summary"}

const errorSamples = 3

// Reporter runs read-only aggregate queries over stored rows.
type Reporter struct {
	db      *sql.DB
	dialect sink.Dialect
	table   string
	topN    int
	days    int

	now func() time.Time
}

// New wraps an open database.
func New(db *sql.DB, d sink.Dialect, table string, cfg config.ReportConfig) *Reporter {
	return &Reporter{
		db:      db,
		dialect: d,
		table:   table,
		topN:    cfg.TopN,
		days:    cfg.Days,
		now:     time.Now,
	}
}

// Open connects to the database behind the configured sink.
func Open(ctx context.Context, cfg *config.Config) (*Reporter, error) {
	db, d, err := sink.OpenDB(ctx, &cfg.Sink)
	if err != nil {
		if errors.Is(err, sink.ErrNoDatabase) {
			return nil, fmt.Errorf("%w: sink type is %s", ErrReportsUnsupported, cfg.Sink.Type)
		}
		return nil, err
	}
	return New(db, d, cfg.Sink.Table, cfg.Report), nil
}

func (r *Reporter) Close() error {
	return r.db.Close()
}

// Stats describes the table as a whole. Earliest and Latest are nil when
// the table is empty.
type Stats struct {
	Total     int64      `json:"total_records"`
	UniqueIPs int64      `json:"unique_ips"`
	Earliest  *time.Time `json:"earliest,omitempty"`
	Latest    *time.Time `json:"latest,omitempty"`
}

type IPCount struct {
	IP       string `json:"ip_address"`
	Requests int64  `json:"requests"`
}

type StatusCount struct {
	Status  int     `json:"status_code"`
	Count   int64   `json:"count"`
	Percent float64 `json:"percent"`
}

type HourCount struct {
	Hour     int   `json:"hour"`
	Requests int64 `json:"requests"`
}

type DayCount struct {
	Day      string `json:"day"` // YYYY-MM-DD, UTC
	Requests int64  `json:"requests"`
}

type ResourceStat struct {
	Resource string  `json:"resource"`
	Requests int64   `json:"requests"`
	AvgSize  float64 `json:"avg_size"`
}

// ErrorStat groups requests answered with a 4xx or 5xx status.
type ErrorStat struct {
	Status  int      `json:"status_code"`
	Count   int64    `json:"count"`
	Samples []string `json:"sample_resources"`
}

// Heatmap counts requests by weekday (0 = Sunday) and hour, in UTC.
type Heatmap [7][24]int64

// Summary combines the headline reports.
type Summary struct {
	Stats       Stats          `json:"stats"`
	TopIPs      []IPCount      `json:"top_ips"`
	StatusCodes []StatusCount  `json:"status_codes"`
	Resources   []ResourceStat `json:"top_resources"`
	Errors      []ErrorStat    `json:"errors"`
}

func (r *Reporter) Stats(ctx context.Context) (Stats, error) {
	var (
		s              Stats
		earliest, last any
	)
	q := fmt.Sprintf("SELECT COUNT(*), COUNT(DISTINCT ip_address), MIN(timestamp), MAX(timestamp) FROM %s", r.table)
	if err := r.db.QueryRowContext(ctx, q).Scan(&s.Total, &s.UniqueIPs, &earliest, &last); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	if s.Total == 0 {
		return s, nil
	}

	var err error
	if s.Earliest, err = asTime(earliest); err != nil {
		return Stats{}, fmt.Errorf("stats: earliest: %w", err)
	}
	if s.Latest, err = asTime(last); err != nil {
		return Stats{}, fmt.Errorf("stats: latest: %w", err)
	}
	return s, nil
}

// TopIPs returns the n most active client addresses; n <= 0 uses the
// configured default.
func (r *Reporter) TopIPs(ctx context.Context, n int) ([]IPCount, error) {
	q := fmt.Sprintf(`SELECT ip_address, COUNT(*) AS requests FROM %s
		GROUP BY ip_address ORDER BY requests DESC, ip_address LIMIT %d`, r.table, r.limit(n))
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("top ips: %w", err)
	}
	defer rows.Close()

	var out []IPCount
	for rows.Next() {
		var c IPCount
		if err := rows.Scan(&c.IP, &c.Requests); err != nil {
			return nil, fmt.Errorf("top ips: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StatusCodes returns the status distribution ordered by code.
func (r *Reporter) StatusCodes(ctx context.Context) ([]StatusCount, error) {
	q := fmt.Sprintf("SELECT status_code, COUNT(*) FROM %s GROUP BY status_code ORDER BY status_code", r.table)
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("status codes: %w", err)
	}
	defer rows.Close()

	var (
		out   []StatusCount
		total int64
	)
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("status codes: %w", err)
		}
		total += c.Count
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("status codes: %w", err)
	}
	for i := range out {
		out[i].Percent = float64(out[i].Count) * 100 / float64(total)
	}
	return out, nil
}

// Hourly returns 24 buckets by hour of day, including empty hours.
func (r *Reporter) Hourly(ctx context.Context) ([]HourCount, error) {
	q := fmt.Sprintf("SELECT %s AS hour, COUNT(*) FROM %s GROUP BY hour ORDER BY hour", r.dialect.Hour("timestamp"), r.table)
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("hourly: %w", err)
	}
	defer rows.Close()

	out := make([]HourCount, 24)
	for h := range out {
		out[h].Hour = h
	}
	for rows.Next() {
		var (
			h int
			n int64
		)
		if err := rows.Scan(&h, &n); err != nil {
			return nil, fmt.Errorf("hourly: %w", err)
		}
		if h >= 0 && h < 24 {
			out[h].Requests = n
		}
	}
	return out, rows.Err()
}

// Daily returns per-day counts for the last days days; days <= 0 uses the
// configured window.
func (r *Reporter) Daily(ctx context.Context, days int) ([]DayCount, error) {
	if days <= 0 {
		days = r.days
	}
	since := r.now().UTC().AddDate(0, 0, -days)
	q := fmt.Sprintf("SELECT %s AS day, COUNT(*) FROM %s WHERE timestamp >= %s GROUP BY day ORDER BY day",
		r.dialect.Day("timestamp"), r.table, r.dialect.Placeholder(1))
	rows, err := r.db.QueryContext(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("daily: %w", err)
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var c DayCount
		if err := rows.Scan(&c.Day, &c.Requests); err != nil {
			return nil, fmt.Errorf("daily: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Resources returns the n most requested resources with their average size.
func (r *Reporter) Resources(ctx context.Context, n int) ([]ResourceStat, error) {
	q := fmt.Sprintf(`SELECT resource, COUNT(*) AS requests, AVG(response_size) FROM %s
		WHERE resource IS NOT NULL
		GROUP BY resource ORDER BY requests DESC, resource LIMIT %d`, r.table, r.limit(n))
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("resources: %w", err)
	}
	defer rows.Close()

	var out []ResourceStat
	for rows.Next() {
		var (
			s   ResourceStat
			avg sql.NullFloat64
		)
		if err := rows.Scan(&s.Resource, &s.Requests, &avg); err != nil {
			return nil, fmt.Errorf("resources: %w", err)
		}
		s.AvgSize = avg.Float64
		out = append(out, s)
	}
	return out, rows.Err()
}

// Errors groups 4xx and 5xx responses, most frequent first, each with a few
// sample resources.
func (r *Reporter) Errors(ctx context.Context) ([]ErrorStat, error) {
	q := fmt.Sprintf(`SELECT status_code, COUNT(*) AS n FROM %s
		WHERE status_code >= 400
		GROUP BY status_code ORDER BY n DESC, status_code`, r.table)
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("errors: %w", err)
	}

	var out []ErrorStat
	for rows.Next() {
		var e ErrorStat
		if err := rows.Scan(&e.Status, &e.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("errors: %w", err)
		}
		out = append(out, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("errors: %w", err)
	}

	sq := fmt.Sprintf(`SELECT DISTINCT resource FROM %s
		WHERE status_code = %s AND resource IS NOT NULL
		ORDER BY resource LIMIT %d`, r.table, r.dialect.Placeholder(1), errorSamples)
	for i := range out {
		samples, err := r.queryStrings(ctx, sq, out[i].Status)
		if err != nil {
			return nil, fmt.Errorf("errors: samples for %d: %w", out[i].Status, err)
		}
		out[i].Samples = samples
	}
	return out, nil
}

func (r *Reporter) Heatmap(ctx context.Context) (*Heatmap, error) {
	q := fmt.Sprintf("SELECT %s AS dow, %s AS hour, COUNT(*) FROM %s GROUP BY dow, hour",
		r.dialect.Weekday("timestamp"), r.dialect.Hour("timestamp"), r.table)
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("heatmap: %w", err)
	}
	defer rows.Close()

	var hm Heatmap
	for rows.Next() {
		var (
			dow, h int
			n      int64
		)
		if err := rows.Scan(&dow, &h, &n); err != nil {
			return nil, fmt.Errorf("heatmap: %w", err)
		}
		if dow >= 0 && dow < 7 && h >= 0 && h < 24 {
			hm[dow][h] = n
		}
	}
	return &hm, rows.Err()
}

// Summary runs the headline reports in one call.
func (r *Reporter) Summary(ctx context.Context) (*Summary, error) {
	var (
		s   Summary
		err error
	)
	if s.Stats, err = r.Stats(ctx); err != nil {
		return nil, err
	}
	if s.TopIPs, err = r.TopIPs(ctx, 0); err != nil {
		return nil, err
	}
	if s.StatusCodes, err = r.StatusCodes(ctx); err != nil {
		return nil, err
	}
	if s.Resources, err = r.Resources(ctx, 0); err != nil {
		return nil, err
	}
	if s.Errors, err = r.Errors(ctx); err != nil {
		return nil, err
	}
	return &s, nil
}

// Run executes a report by name with default parameters.
func (r *Reporter) Run(ctx context.Context, name string) (any, error) {
	switch name {
	case "stats":
		return r.Stats(ctx)
	case "top-ips":
		return r.TopIPs(ctx, 0)
	case "status":
		return r.StatusCodes(ctx)
	case "hourly":
		return r.Hourly(ctx)
	case "daily":
		return r.Daily(ctx, 0)
	case "resources":
		return r.Resources(ctx, 0)
	case "errors":
		return r.Errors(ctx)
	case "heatmap":
		return r.Heatmap(ctx)
	case "summary":
		return r.Summary(ctx)
	default:
		return nil, fmt.Errorf("%w %q (want one of %s)", ErrUnknownReport, name, strings.Join(Names, ", "))
	}
}

func (r *Reporter) limit(n int) int {
	if n <= 0 {
		return r.topN
	}
	return n
}

func (r *Reporter) queryStrings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// asTime converts an aggregate timestamp. Drivers return time.Time where
// the column type is known, but SQLite reports MIN/MAX as plain text.
func asTime(v any) (*time.Time, error) {
	var s string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &t, nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return nil, fmt.Errorf("unexpected timestamp type %T", v)
	}

	s = strings.TrimSuffix(s, "Z")
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}
