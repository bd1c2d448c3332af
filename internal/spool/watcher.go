package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cyra/logan/internal/config"
	"github.com/cyra/logan/internal/ingest"
	"github.com/cyra/logan/internal/logging"
)

// Ingester runs one input through the ingestion pipeline.
type Ingester interface {
	Run(ctx context.Context, name string) (*ingest.Summary, error)
}

// Watcher ingests completed files dropped into a spool directory. Files
// are expected to arrive whole (moved in) or to stop changing for the
// debounce interval before they are read. Each file is ingested once.
type Watcher struct {
	dir      string
	pattern  string
	doneDir  string
	debounce time.Duration
	ing      Ingester
	logger   *logging.Logger

	seen map[string]struct{}

	// OnIngest, if set, is called after each file with its outcome.
	OnIngest func(path string, sum *ingest.Summary, err error)
}

// New creates a Watcher for cfg.Dir.
func New(cfg config.SpoolConfig, ing Ingester, logger *logging.Logger) *Watcher {
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = "*"
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		dir:      cfg.Dir,
		pattern:  pattern,
		doneDir:  cfg.DoneDir,
		debounce: debounce,
		ing:      ing,
		logger:   logger,
		seen:     make(map[string]struct{}),
	}
}

// Run processes files already present, then watches for new ones until
// ctx is done. Failed files are logged and left in place.
func (w *Watcher) Run(ctx context.Context) error {
	if w.doneDir != "" {
		if err := os.MkdirAll(w.doneDir, 0o755); err != nil {
			return fmt.Errorf("create done dir: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch spool dir: %w", err)
	}
	w.logger.Infof("watching spool dir %s for %s", w.dir, w.pattern)

	existing, err := w.scan()
	if err != nil {
		return err
	}
	for _, p := range existing {
		if ctx.Err() != nil {
			return nil
		}
		w.process(ctx, p)
	}

	pending := make(map[string]time.Time)
	tick := time.NewTicker(max(w.debounce/2, time.Millisecond))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.matches(ev.Name) {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[ev.Name] = time.Now()
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(pending, ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Errorf("spool watcher error: %v", err)
		case now := <-tick.C:
			var ready []string
			for p, last := range pending {
				if now.Sub(last) >= w.debounce {
					ready = append(ready, p)
				}
			}
			sort.Strings(ready)
			for _, p := range ready {
				delete(pending, p)
				w.process(ctx, p)
			}
		}
	}
}

func (w *Watcher) matches(path string) bool {
	ok, _ := filepath.Match(w.pattern, filepath.Base(path))
	return ok
}

// scan lists matching regular files in name order.
func (w *Watcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read spool dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && w.matches(e.Name()) {
			out = append(out, filepath.Join(w.dir, e.Name()))
		}
	}
	return out, nil
}

func (w *Watcher) process(ctx context.Context, path string) {
	if _, done := w.seen[path]; done {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	w.seen[path] = struct{}{}

	sum, err := w.ing.Run(ctx, path)
	if w.OnIngest != nil {
		w.OnIngest(path, sum, err)
	}
	if err != nil {
		w.logger.Errorf("spool ingest %s: %v", path, err)
		return
	}
	w.logger.Infof("spool ingested %s: stored=%d skipped=%d", path, sum.Stored, sum.Skipped)

	if w.doneDir == "" {
		return
	}
	dst := filepath.Join(w.doneDir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		w.logger.Errorf("move %s to done dir: %v", path, err)
		return
	}
	delete(w.seen, path)
}
