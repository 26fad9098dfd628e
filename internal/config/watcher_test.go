package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func watcherConfig(level string) []byte {
	return []byte(fmt.Sprintf("logging:\n  enabled: false\n  level: %s\n", level))
}

func TestWatcherReloadsBurstToFinalState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, watcherConfig("info"), 0644))

	reloads := make(chan *Config, 8)
	w, err := NewWatcher(path, func(cfg *Config) { reloads <- cfg })
	require.NoError(t, err)
	w.debounceDur = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// A rapid burst of saves; only the final contents matter.
	require.NoError(t, os.WriteFile(path, watcherConfig("debug"), 0644))
	require.NoError(t, os.WriteFile(path, watcherConfig("error"), 0644))
	require.NoError(t, os.WriteFile(path, watcherConfig("warn"), 0644))

	var got *Config
	deadline := time.After(5 * time.Second)
	for got == nil || got.Logging.Level != "warn" {
		select {
		case cfg := <-reloads:
			got = cfg
		case <-deadline:
			require.NotNil(t, got, "no reload observed")
			require.Equal(t, "warn", got.Logging.Level, "final save never reloaded")
		}
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, watcherConfig("info"), 0644))

	reloads := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) { reloads <- cfg })
	require.NoError(t, err)
	w.debounceDur = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644))

	select {
	case <-reloads:
		t.Fatal("writes to unrelated files must not trigger a reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, watcherConfig("info"), 0644))

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
