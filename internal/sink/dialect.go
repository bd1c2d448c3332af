package sink

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between supported engines: driver
// name, placeholder style, DDL and the date-part expressions reports use.
type Dialect struct {
	Name   string
	Driver string

	numbered bool // $1, $2 instead of ?
	schema   func(table string) []string

	// Hour, Weekday and Day wrap a timestamp column. Weekday yields 0 for
	// Sunday; Day yields YYYY-MM-DD text.
	Hour    func(col string) string
	Weekday func(col string) string
	Day     func(col string) string
	// Text casts any column to a string, e.g. the id.
	Text func(col string) string
}

var dialects = map[string]Dialect{
	"sqlite": {
		Name:    "sqlite",
		Driver:  "sqlite3",
		schema:  sqliteSchema,
		Hour:    func(c string) string { return "CAST(strftime('%H', " + c + ") AS INTEGER)" },
		Weekday: func(c string) string { return "CAST(strftime('%w', " + c + ") AS INTEGER)" },
		Day:     func(c string) string { return "date(" + c + ")" },
		Text:    func(c string) string { return "CAST(" + c + " AS TEXT)" },
	},
	"postgres": {
		Name:     "postgres",
		Driver:   "postgres",
		numbered: true,
		schema:   postgresSchema,
		Hour:     func(c string) string { return "CAST(EXTRACT(HOUR FROM " + c + ") AS INTEGER)" },
		Weekday:  func(c string) string { return "CAST(EXTRACT(DOW FROM " + c + ") AS INTEGER)" },
		Day:      func(c string) string { return "to_char(" + c + ", 'YYYY-MM-DD')" },
		Text:     func(c string) string { return "CAST(" + c + " AS TEXT)" },
	},
	"mysql": {
		Name:    "mysql",
		Driver:  "mysql",
		schema:  mysqlSchema,
		Hour:    func(c string) string { return "HOUR(" + c + ")" },
		Weekday: func(c string) string { return "(DAYOFWEEK(" + c + ") - 1)" },
		Day:     func(c string) string { return "DATE_FORMAT(" + c + ", '%Y-%m-%d')" },
		Text:    func(c string) string { return "CAST(" + c + " AS CHAR)" },
	},
	"clickhouse": {
		Name:    "clickhouse",
		Driver:  "clickhouse",
		schema:  clickhouseSchema,
		Hour:    func(c string) string { return "toHour(" + c + ")" },
		Weekday: func(c string) string { return "(toDayOfWeek(" + c + ") % 7)" },
		Day:     func(c string) string { return "toString(toDate(" + c + "))" },
		Text:    func(c string) string { return "toString(" + c + ")" },
	},
}

// LookupDialect returns the dialect for a sink type.
func LookupDialect(name string) (Dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return Dialect{}, fmt.Errorf("%w %q: no SQL dialect", ErrUnknownSink, name)
	}
	return d, nil
}

// Placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Schema returns the statements that create table and its indexes.
func (d Dialect) Schema(table string) []string {
	return d.schema(table)
}

func (d Dialect) insertSQL(table string) string {
	marks := make([]string, len(insertColumns))
	for i := range marks {
		marks[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(insertColumns, ", "), strings.Join(marks, ", "))
}

var insertColumns = []string{
	"ip_address", "timestamp", "request_method", "resource",
	"status_code", "response_size", "request_time",
}

var indexedColumns = []string{"ip_address", "timestamp", "status_code", "request_method"}

func createIndexes(table string) []string {
	stmts := make([]string, 0, len(indexedColumns))
	for _, c := range indexedColumns {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", table, c, table, c))
	}
	return stmts
}

func sqliteSchema(table string) []string {
	return append([]string{`CREATE TABLE IF NOT EXISTS ` + table + ` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ip_address VARCHAR(45) NOT NULL,
		timestamp DATETIME NOT NULL,
		request_method VARCHAR(10),
		resource TEXT,
		status_code INTEGER NOT NULL,
		response_size INTEGER,
		request_time DATETIME NOT NULL
	)`}, createIndexes(table)...)
}

func postgresSchema(table string) []string {
	return append([]string{`CREATE TABLE IF NOT EXISTS ` + table + ` (
		id BIGSERIAL PRIMARY KEY,
		ip_address VARCHAR(45) NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		request_method VARCHAR(10),
		resource TEXT,
		status_code INTEGER NOT NULL,
		response_size BIGINT,
		request_time TIMESTAMP NOT NULL
	)`}, createIndexes(table)...)
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes are declared inline.
func mysqlSchema(table string) []string {
	return []string{`CREATE TABLE IF NOT EXISTS ` + table + ` (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		ip_address VARCHAR(45) NOT NULL,
		timestamp DATETIME NOT NULL,
		request_method VARCHAR(10),
		resource TEXT,
		status_code INT NOT NULL,
		response_size BIGINT,
		request_time DATETIME NOT NULL,
		INDEX idx_` + table + `_ip_address (ip_address),
		INDEX idx_` + table + `_timestamp (timestamp),
		INDEX idx_` + table + `_status_code (status_code),
		INDEX idx_` + table + `_request_method (request_method)
	)`}
}

// ClickHouse orders by the lookup columns instead of secondary indexes.
func clickhouseSchema(table string) []string {
	return []string{`CREATE TABLE IF NOT EXISTS ` + table + ` (
		id UUID DEFAULT generateUUIDv4(),
		ip_address String,
		timestamp DateTime('UTC'),
		request_method Nullable(String),
		resource Nullable(String),
		status_code Int32,
		response_size Nullable(Int64),
		request_time DateTime('UTC')
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (timestamp, ip_address, status_code)`}
}
