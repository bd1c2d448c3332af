package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cyra/logan/internal/api"
	"github.com/cyra/logan/internal/config"
	"github.com/cyra/logan/internal/ingest"
	"github.com/cyra/logan/internal/logging"
	"github.com/cyra/logan/internal/report"
	"github.com/cyra/logan/internal/sink"
	"github.com/cyra/logan/internal/source"
	"github.com/cyra/logan/internal/spool"
)

func reportNames() string {
	return strings.Join(report.Names, ", ")
}

func newFlagSet(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: logan %s [flags] %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

// withOverrides copies the loaded config, applies set, and re-validates.
func (a *app) withOverrides(set func(c *config.Config)) (*config.Config, error) {
	cfg := *a.cfg
	set(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func runIngest(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("ingest", "<file|s3://bucket/key|-> ...")
	batch := fs.Int("batch", 0, "Records per sink batch (overrides ingest.batch_size)")
	dryRun := fs.Bool("dry-run", false, "Parse and count without writing")
	sinkType := fs.String("sink", "", "Sink type (overrides sink.type)")
	dsn := fs.String("dsn", "", "Sink DSN (overrides sink.dsn)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no input files (use - for stdin)")
	}

	cfg, err := a.withOverrides(func(c *config.Config) {
		if *batch > 0 {
			c.Ingest.BatchSize = *batch
		}
		if *sinkType != "" {
			c.Sink.Type = *sinkType
		}
		if *dsn != "" {
			c.Sink.DSN = *dsn
		}
		c.Sink.DryRun = c.Sink.DryRun || *dryRun
	})
	if err != nil {
		return err
	}

	s, err := sink.New(ctx, &cfg.Sink, a.logger)
	if err != nil {
		return err
	}
	defer s.Close()
	a.logger.Infof("sink initialized: %s", s.Name())

	d := ingest.New(cfg, s, source.NewOpener(cfg.Source), a.logger)
	sums, runErr := d.RunAll(ctx, fs.Args())
	for i, sum := range sums {
		if i > 0 {
			fmt.Println()
		}
		if err := sum.Print(os.Stdout); err != nil {
			return err
		}
	}
	return runErr
}

func runReport(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("report", "["+strings.Join(report.Names, "|")+"]")
	asJSON := fs.Bool("json", false, "Print JSON instead of text")
	top := fs.Int("top", 0, "Rows in top-N reports (overrides report.top_n)")
	days := fs.Int("days", 0, "Window for the daily report (overrides report.days)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	name := "summary"
	if fs.NArg() > 0 {
		name = fs.Arg(0)
	}

	cfg, err := a.withOverrides(func(c *config.Config) {
		if *top > 0 {
			c.Report.TopN = *top
		}
		if *days > 0 {
			c.Report.Days = *days
		}
	})
	if err != nil {
		return err
	}

	r, err := report.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	v, err := r.Run(ctx, name)
	if err != nil {
		return err
	}
	return output(v, *asJSON)
}

func runQuery(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("query", "")
	var f report.Filter
	fs.StringVar(&f.IP, "ip", "", "Client IP address")
	fs.StringVar(&f.Method, "method", "", "Request method")
	fs.IntVar(&f.Status, "status", 0, "Status code")
	fs.IntVar(&f.Limit, "limit", report.DefaultQueryLimit, "Maximum rows")
	from := fs.String("from", "", "Start time, inclusive (RFC 3339 or YYYY-MM-DD)")
	to := fs.String("to", "", "End time, exclusive (RFC 3339 or YYYY-MM-DD)")
	asJSON := fs.Bool("json", false, "Print JSON instead of text")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var err error
	if f.From, err = parseTime(*from); err != nil {
		return fmt.Errorf("-from: %w", err)
	}
	if f.To, err = parseTime(*to); err != nil {
		return fmt.Errorf("-to: %w", err)
	}

	r, err := report.Open(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	entries, err := r.Query(ctx, f)
	if err != nil {
		return err
	}
	return output(entries, *asJSON)
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("serve", "")
	addr := fs.String("addr", "", "Listen address (overrides server.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := a.withOverrides(func(c *config.Config) {
		if *addr != "" {
			c.Server.Addr = *addr
		}
	})
	if err != nil {
		return err
	}

	r, err := report.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	cache, err := report.NewCache(ctx, cfg.Report.Cache, a.logger)
	if err != nil {
		a.logger.Warnf("report cache disabled: %v", err)
		cache = nil
	}
	defer cache.Close()

	return api.NewServer(cfg.Server, r, cache, a.logger).Run(ctx)
}

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("watch", "")
	dir := fs.String("dir", "", "Spool directory (overrides ingest.spool.dir)")
	pattern := fs.String("pattern", "", "File name glob (overrides ingest.spool.pattern)")
	doneDir := fs.String("done", "", "Move ingested files here (overrides ingest.spool.done_dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := a.withOverrides(func(c *config.Config) {
		if *dir != "" {
			c.Ingest.Spool.Dir = *dir
		}
		if *pattern != "" {
			c.Ingest.Spool.Pattern = *pattern
		}
		if *doneDir != "" {
			c.Ingest.Spool.DoneDir = *doneDir
		}
	})
	if err != nil {
		return err
	}
	if cfg.Ingest.Spool.Dir == "" {
		return errors.New("no spool directory: set ingest.spool.dir or -dir")
	}

	s, err := sink.New(ctx, &cfg.Sink, a.logger)
	if err != nil {
		return err
	}
	defer s.Close()

	store := config.NewStore(cfg)
	if *configPath != "" {
		err := config.WatchFile(ctx, *configPath, store, a.logger, func(old, cur *config.Config) {
			if old.Sink.Type != cur.Sink.Type || old.Sink.DSN != cur.Sink.DSN || old.Sink.Table != cur.Sink.Table {
				a.logger.Warnf("sink settings changed; restart to apply them")
			}
		})
		if err != nil {
			a.logger.Errorf("config watcher disabled: %v", err)
		}
	}

	w := spool.New(cfg.Ingest.Spool, &storeIngester{
		store:  store,
		sink:   s,
		opener: source.NewOpener(cfg.Source),
		logger: a.logger,
	}, a.logger)
	w.OnIngest = func(path string, sum *ingest.Summary, err error) {
		if sum != nil {
			sum.Print(os.Stdout)
			fmt.Println()
		}
	}
	return w.Run(ctx)
}

// storeIngester builds a driver from the current config for each file, so
// parser and batch settings reload without a restart.
type storeIngester struct {
	store  *config.Store
	sink   sink.Sink
	opener ingest.Opener
	logger *logging.Logger
}

func (s *storeIngester) Run(ctx context.Context, name string) (*ingest.Summary, error) {
	return ingest.New(s.store.Current(), s.sink, s.opener, s.logger).Run(ctx, name)
}

func output(v any, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return report.Render(os.Stdout, v)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}
