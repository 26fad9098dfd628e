package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "data/webatlas.db", cfg.Storage.DatabasePath)
	require.Equal(t, 5, cfg.Exploration.MaxDepth)
	require.NoError(t, cfg.Validate())
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  database_path: /tmp/custom.db
exploration:
  max_nodes: 7
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom.db", cfg.Storage.DatabasePath)
	require.Equal(t, 7, cfg.Exploration.MaxNodes)
	// untouched sections keep their defaults
	require.Equal(t, 5, cfg.Exploration.MaxDepth)
	require.True(t, cfg.Logging.Enabled)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [broken"), 0644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WEBATLAS_DB", "/tmp/env.db")
	t.Setenv("WEBATLAS_LOG_LEVEL", "debug")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "/tmp/env.db", cfg.Storage.DatabasePath)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "test-key", cfg.Reasoner.APIKey)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Exploration.MaxNodes = 42
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 42, loaded.Exploration.MaxNodes)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Exploration.MaxDepth = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Storage.DatabasePath = ""
	require.Error(t, cfg.Validate())
}
