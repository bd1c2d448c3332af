package report

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DefaultQueryLimit caps Query when Filter.Limit is unset.
const DefaultQueryLimit = 100

// Filter selects stored rows. Zero values match everything.
type Filter struct {
	IP     string
	Method string
	Status int
	From   time.Time // inclusive
	To     time.Time // exclusive
	Limit  int
}

// Entry is one stored row.
type Entry struct {
	ID            string    `json:"id"`
	IPAddress     string    `json:"ip_address"`
	Timestamp     time.Time `json:"timestamp"`
	RequestMethod *string   `json:"request_method"`
	Resource      *string   `json:"resource"`
	StatusCode    int       `json:"status_code"`
	ResponseSize  *int64    `json:"response_size"`
	RequestTime   time.Time `json:"request_time"`
}

// Query returns matching rows, newest first.
func (r *Reporter) Query(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, r.dialect.Placeholder(len(args))))
	}
	if f.IP != "" {
		add("ip_address = %s", f.IP)
	}
	if f.Method != "" {
		add("request_method = %s", strings.ToUpper(f.Method))
	}
	if f.Status != 0 {
		add("status_code = %s", f.Status)
	}
	if !f.From.IsZero() {
		add("timestamp >= %s", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("timestamp < %s", f.To.UTC())
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, ip_address, timestamp, request_method, resource, status_code, response_size, request_time FROM %s",
		r.dialect.Text("id"), r.table)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY timestamp DESC, id DESC LIMIT %d", limit)

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			method   sql.NullString
			resource sql.NullString
			size     sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.IPAddress, &e.Timestamp, &method, &resource, &e.StatusCode, &size, &e.RequestTime); err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		if method.Valid {
			e.RequestMethod = &method.String
		}
		if resource.Valid {
			e.Resource = &resource.String
		}
		if size.Valid {
			e.ResponseSize = &size.Int64
		}
		e.Timestamp = e.Timestamp.UTC()
		e.RequestTime = e.RequestTime.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
