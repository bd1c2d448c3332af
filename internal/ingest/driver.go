package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/cyra/logan/internal/config"
	"github.com/cyra/logan/internal/logging"
	"github.com/cyra/logan/internal/parser"
	"github.com/cyra/logan/internal/sink"
)

// Opener resolves an input name to a readable stream.
type Opener interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Driver runs one file at a time through the parser into a sink.
type Driver struct {
	parser     *parser.Parser
	sink       sink.Sink
	opener     Opener
	batchSize  int
	maxReasons int
	logger     *logging.Logger
}

// New wires a Driver from configuration.
func New(cfg *config.Config, s sink.Sink, o Opener, logger *logging.Logger) *Driver {
	return &Driver{
		parser: parser.New(parser.Options{
			TimeFormat:      cfg.Parser.TimeFormat,
			AcceptedMethods: cfg.Parser.AcceptedMethods,
			Extensions:      cfg.Parser.Extensions,
		}),
		sink:       s,
		opener:     o,
		batchSize:  max(cfg.Ingest.BatchSize, 1),
		maxReasons: cfg.Ingest.MaxSkipReasons,
		logger:     logger,
	}
}

// Run opens name and ingests it. The input is always closed before Run
// returns. The summary is non-nil whenever the input was opened, including
// when a sink failure or cancellation ends the run early.
func (d *Driver) Run(ctx context.Context, name string) (*Summary, error) {
	rc, err := d.opener.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return d.Ingest(ctx, name, rc)
}

// Ingest consumes r. name is used for the summary and logs only.
func (d *Driver) Ingest(ctx context.Context, name string, r io.Reader) (*Summary, error) {
	sum := &Summary{
		RunID:   uuid.NewString(),
		Source:  name,
		Started: time.Now(),
	}
	log := d.logger.With("run", sum.RunID, "source", name)
	log.Infof("ingest started: sink=%s batch_size=%d", d.sink.Name(), d.batchSize)

	defer func() { sum.Duration = time.Since(sum.Started) }()

	batch := make([]parser.LogRecord, 0, d.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := d.sink.Insert(ctx, batch); err != nil {
			return &sink.Error{Sink: d.sink.Name(), Persisted: sum.Stored, Err: err}
		}
		sum.Stored += len(batch)
		sum.Batches++
		log.Debugf("batch committed: records=%d total=%d", len(batch), sum.Stored)
		batch = batch[:0]
		return nil
	}

	for res := range Records(r, d.parser) {
		if err := ctx.Err(); err != nil {
			log.Warnf("ingest canceled at line %d: stored=%d pending=%d", res.Line, sum.Stored, len(batch))
			return sum, err
		}

		sum.LinesRead = res.Line
		switch {
		case res.Blank():
			sum.Blank++
		case res.Err != nil:
			var re *ReadError
			if errors.As(res.Err, &re) {
				log.Errorf("ingest aborted: %v", re)
				if err := flush(); err != nil {
					return sum, errors.Join(re, err)
				}
				return sum, re
			}
			var le *LineError
			if !errors.As(res.Err, &le) {
				le = &LineError{Line: res.Line, Err: res.Err}
			}
			sum.addSkip(le, d.maxReasons)
			log.Debugf("skipped %v", le)
		default:
			rec := res.Record
			sum.Parsed++
			if len(rec.Degraded) > 0 {
				sum.Degraded++
			}
			if rec.Flags.StatusOutOfRange {
				sum.StatusOutOfRange++
			}
			if rec.Flags.UnknownMethod {
				sum.UnknownMethods++
			}

			batch = append(batch, *rec)
			if len(batch) >= d.batchSize {
				if err := flush(); err != nil {
					log.Errorf("ingest aborted: %v", err)
					return sum, err
				}
			}
		}
	}

	if err := flush(); err != nil {
		log.Errorf("ingest aborted: %v", err)
		return sum, err
	}

	log.Infof("ingest finished: lines=%d stored=%d skipped=%d", sum.LinesRead, sum.Stored, sum.Skipped)
	return sum, nil
}

// RunAll ingests each input in order and stops at the first fatal error.
func (d *Driver) RunAll(ctx context.Context, names []string) ([]*Summary, error) {
	sums := make([]*Summary, 0, len(names))
	for _, name := range names {
		sum, err := d.Run(ctx, name)
		if sum != nil {
			sums = append(sums, sum)
		}
		if err != nil {
			return sums, fmt.Errorf("ingest %s: %w", name, err)
		}
	}
	return sums, nil
}
