// Package config loads the webatlas configuration from YAML, applies
// environment overrides, and watches the file for runtime changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"webatlas/internal/browser"
	"webatlas/internal/explorer"
	"webatlas/internal/logging"
	"webatlas/internal/reasoning"
)

// Config holds all webatlas configuration.
type Config struct {
	// Storage settings
	Storage StorageConfig `yaml:"storage"`

	// Browser collaborator
	Browser browser.Config `yaml:"browser"`

	// Reasoning collaborator
	Reasoner reasoning.Config `yaml:"reasoner"`

	// Exploration bounds
	Exploration explorer.Config `yaml:"exploration"`

	// Logging
	Logging logging.Settings `yaml:"logging"`
}

// StorageConfig configures the atlas store.
type StorageConfig struct {
	DatabasePath  string `yaml:"database_path"`
	ScreenshotDir string `yaml:"screenshot_dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DatabasePath:  "data/webatlas.db",
			ScreenshotDir: "data/screenshots",
		},
		Browser:     browser.DefaultConfig(),
		Reasoner:    reasoning.DefaultConfig(""),
		Exploration: explorer.DefaultConfig(),
		Logging: logging.Settings{
			Enabled: true,
			Dir:     "logs",
			Level:   "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment variables override either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Reasoner.APIKey = key
	}
	if model := os.Getenv("WEBATLAS_MODEL"); model != "" {
		c.Reasoner.Model = model
	}
	if path := os.Getenv("WEBATLAS_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if url := os.Getenv("WEBATLAS_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if v := os.Getenv("WEBATLAS_HEADLESS"); v != "" {
		if headless, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = headless
		}
	}
	if dir := os.Getenv("WEBATLAS_LOG_DIR"); dir != "" {
		c.Logging.Dir = dir
	}
	if level := os.Getenv("WEBATLAS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate checks for configuration that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}
	if c.Exploration.MaxDepth <= 0 {
		return fmt.Errorf("exploration.max_depth must be positive")
	}
	if c.Exploration.MaxNodes <= 0 {
		return fmt.Errorf("exploration.max_nodes must be positive")
	}
	if c.Exploration.MaxRevisits <= 0 {
		return fmt.Errorf("exploration.max_revisits must be positive")
	}
	return nil
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "webatlas.yaml"
	}
	return filepath.Join(home, ".webatlas", "config.yaml")
}
