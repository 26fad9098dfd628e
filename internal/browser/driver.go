// Package browser drives the single logical browser session the explorer
// and tester share. All browser-facing operations are serialized per
// session; the graph store is the only component expected to see multiple
// concurrent sessions.
package browser

import (
	"context"
	"time"

	"webatlas/internal/atlas"
	"webatlas/internal/fingerprint"
)

// StepResult captures the observable outcome of executing one action.
type StepResult struct {
	Before           *fingerprint.PageSnapshot
	After            *fingerprint.PageSnapshot
	ScreenshotBefore string
	ScreenshotAfter  string
}

// Driver is the browser collaborator contract. Implementations own
// timeouts on individual calls; a timeout surfaces as an error the
// controller turns into a task failure, never a crash.
type Driver interface {
	// Snapshot returns the structured view of the current page.
	Snapshot(ctx context.Context) (*fingerprint.PageSnapshot, error)

	// Execute performs one action and captures before/after snapshots
	// plus screenshot references.
	Execute(ctx context.Context, action atlas.Action) (*StepResult, error)

	// Reset returns the session to a clean state.
	Reset(ctx context.Context) error
}

// Config holds browser driver configuration.
type Config struct {
	Headless            bool   `yaml:"headless"`
	Bin                 string `yaml:"bin"` // optional Chrome binary path
	DebuggerURL         string `yaml:"debugger_url"`
	ViewportWidth       int    `yaml:"viewport_width"`
	ViewportHeight      int    `yaml:"viewport_height"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
	ScreenshotDir       string `yaml:"screenshot_dir"`
	MaxAttempts         int    `yaml:"max_attempts"` // bounded retries per call
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		NavigationTimeoutMs: 30000,
		MaxAttempts:         2,
	}
}

// NavigationTimeout returns the per-navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// Attempts returns the bounded retry count for collaborator calls.
func (c Config) Attempts() int {
	if c.MaxAttempts < 1 {
		return 2
	}
	return c.MaxAttempts
}
