package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Logger defines the logging interface needed by the config watcher.
type Logger interface {
	Infof(string, ...any)
	Errorf(string, ...any)
}

// WatchFile reloads the config file into store whenever it changes, until ctx
// is done. The parent directory is watched rather than the file so editors
// that save by rename keep triggering reloads. A reload that fails to parse
// or validate keeps the previous config. onReload, if non-nil, sees the old
// and new config after each successful swap.
func WatchFile(ctx context.Context, path string, store *Store, logger Logger, onReload func(old, cur *Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go func() {
		defer watcher.Close()

		var lastEvent time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				// Debounce rapid successive events.
				now := time.Now()
				if now.Sub(lastEvent) < 500*time.Millisecond {
					continue
				}
				lastEvent = now

				logger.Infof("config file change detected: %s", ev.Name)
				cfg, err := Load(path)
				if err != nil {
					logger.Errorf("failed to reload config: %v", err)
					continue
				}
				old := store.Current()
				store.Update(cfg)
				logger.Infof("config reloaded successfully")
				if onReload != nil {
					onReload(old, cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Errorf("config watcher error: %v", err)
			}
		}
	}()

	return nil
}
