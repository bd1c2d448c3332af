package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

func TestWatchFileReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logan.yaml")
	if err := os.WriteFile(path, []byte("ingest:\n  batch_size: 10\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	store := NewStore(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan int, 4)
	err = WatchFile(ctx, path, store, nopLogger{}, func(old, cur *Config) {
		reloaded <- cur.Ingest.BatchSize
	})
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}

	// saved by rename, as most editors do
	tmp := filepath.Join(t.TempDir(), "logan.yaml.new")
	if err := os.WriteFile(tmp, []byte("ingest:\n  batch_size: 25\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case n := <-reloaded:
		if n != 25 {
			t.Errorf("reloaded batch size = %d, want 25", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if got := store.Current().Ingest.BatchSize; got != 25 {
		t.Errorf("store batch size = %d, want 25", got)
	}
}

func TestWatchFileMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "logan.yaml")
	if err := WatchFile(context.Background(), path, NewStore(Default()), nopLogger{}, nil); err == nil {
		t.Error("expected error for missing config dir")
	}
}
