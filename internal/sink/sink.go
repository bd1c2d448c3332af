package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyra/logan/internal/config"
	"github.com/cyra/logan/internal/logging"
	"github.com/cyra/logan/internal/parser"
)

// ErrUnknownSink is returned when an unsupported sink type is requested.
var ErrUnknownSink = errors.New("unknown sink type")

// Sink is the persistence boundary. Insert writes one ordered batch; each
// record becomes one row and request_time is stamped by the sink. The
// batch slice is reused by the caller and must not be retained.
type Sink interface {
	Insert(ctx context.Context, batch []parser.LogRecord) error
	// Name returns a short identifier for logging.
	Name() string
	Close() error
}

// Error reports a failed batch write. Persisted counts records written by
// earlier batches of the same run; those are not rolled back.
type Error struct {
	Sink      string
	Persisted int
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sink %s: batch insert failed after %d persisted records: %v", e.Sink, e.Persisted, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a Sink from configuration.
func New(ctx context.Context, cfg *config.SinkConfig, logger *logging.Logger) (Sink, error) {
	if cfg.DryRun {
		return NewDiscard(cfg.Type, logger), nil
	}

	switch cfg.Type {
	case "sqlite", "postgres", "mysql":
		return OpenSQL(ctx, cfg, logger)
	case "clickhouse":
		return NewClickHouse(ctx, cfg.ClickHouse, cfg.Table, logger)
	case "nats":
		return NewNATS(cfg.NATS, logger)
	case "discard":
		return NewDiscard("", logger), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownSink, cfg.Type)
	}
}

// Row is the stored shape of a record: the fixed columns minus the
// auto-assigned id.
type Row struct {
	IPAddress     string            `json:"ip_address"`
	Timestamp     time.Time         `json:"timestamp"`
	RequestMethod *string           `json:"request_method"`
	Resource      *string           `json:"resource"`
	StatusCode    int               `json:"status_code"`
	ResponseSize  *int64            `json:"response_size"`
	RequestTime   time.Time         `json:"request_time"`
	Extensions    map[string]string `json:"extensions,omitempty"`
}

// NewRow converts a record into its stored shape. Times are normalized to
// UTC because DATETIME-style columns carry no offset.
func NewRow(rec *parser.LogRecord, requestTime time.Time) Row {
	return Row{
		IPAddress:     rec.IPAddress,
		Timestamp:     rec.Timestamp.UTC(),
		RequestMethod: rec.RequestMethod,
		Resource:      rec.Resource,
		StatusCode:    rec.StatusCode,
		ResponseSize:  rec.ResponseSize,
		RequestTime:   requestTime.UTC(),
		Extensions:    rec.Extensions,
	}
}
