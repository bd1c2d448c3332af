package sink

import (
	"context"
	"sync/atomic"

	"github.com/cyra/logan/internal/logging"
	"github.com/cyra/logan/internal/parser"
)

// Discard counts records without storing them. It backs sink.type=discard
// and dry runs of any other sink type.
type Discard struct {
	target string // sink that would have been used, for dry-run logging
	logger *logging.Logger
	count  atomic.Int64
}

// NewDiscard creates a Discard sink. target names the sink a dry run stands in for.
func NewDiscard(target string, logger *logging.Logger) *Discard {
	return &Discard{target: target, logger: logger}
}

func (d *Discard) Name() string {
	return "discard"
}

func (d *Discard) Insert(_ context.Context, batch []parser.LogRecord) error {
	d.count.Add(int64(len(batch)))
	if d.target == "" {
		return nil
	}
	d.logger.Infof("DRY-RUN insert: records=%d sink=%s", len(batch), d.target)
	for i := range batch {
		r := &batch[i]
		d.logger.Debugf("DRY-RUN record: ip=%s method=%s resource=%s status=%d",
			r.IPAddress, r.Method(), r.Path(), r.StatusCode)
	}
	return nil
}

// Count returns how many records were accepted so far.
func (d *Discard) Count() int64 {
	return d.count.Load()
}

func (d *Discard) Close() error {
	return nil
}
