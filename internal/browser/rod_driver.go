package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"webatlas/internal/atlas"
	"webatlas/internal/fingerprint"
	"webatlas/internal/logging"
)

// RodDriver implements Driver against a Chromium instance via go-rod.
// It owns exactly one logical session: a single incognito page that Reset
// replaces wholesale.
type RodDriver struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	incog   *rod.Browser
	page    *rod.Page
}

// NewRodDriver creates an unconnected driver. Start must be called before
// the first Snapshot/Execute.
func NewRodDriver(cfg Config) *RodDriver {
	return &RodDriver{cfg: cfg}
}

// Start connects to an existing Chrome or launches a new one.
func (d *RodDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		if _, err := d.browser.Version(); err == nil {
			return nil // healthy
		}
		logging.Browser("stale browser connection detected, reconnecting")
		_ = d.browser.Close()
		d.browser, d.incog, d.page = nil, nil, nil
	}

	controlURL := d.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(d.cfg.Headless)
		if d.cfg.Bin != "" {
			launch = launch.Bin(d.cfg.Bin)
		}
		url, err := launch.Launch()
		if err != nil {
			return &atlas.CollaboratorError{Collaborator: "browser", Op: "launch", Err: err}
		}
		controlURL = url
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return &atlas.CollaboratorError{Collaborator: "browser", Op: "connect", Err: err}
	}
	d.browser = b

	logging.Browser("connected to browser at %s", controlURL)
	return d.resetLocked(ctx)
}

// Reset returns the session to a clean state: the current incognito
// context is discarded and a fresh blank page takes its place.
func (d *RodDriver) Reset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser == nil {
		return &atlas.CollaboratorError{Collaborator: "browser", Op: "reset", Err: errors.New("browser not connected")}
	}
	return d.resetLocked(ctx)
}

func (d *RodDriver) resetLocked(ctx context.Context) error {
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}

	incog, err := d.browser.Incognito()
	if err != nil {
		return &atlas.CollaboratorError{Collaborator: "browser", Op: "reset", Err: err}
	}
	page, err := incog.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return &atlas.CollaboratorError{Collaborator: "browser", Op: "reset", Err: err}
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.ViewportWidth,
		Height:            d.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.Get(logging.CategoryBrowser).Warn("failed to set viewport: %v", err)
	}

	d.incog = incog
	d.page = page.Context(ctx)
	logging.BrowserDebug("session reset to a clean incognito page")
	return nil
}

// Snapshot returns the structured view of the current page.
func (d *RodDriver) Snapshot(ctx context.Context) (*fingerprint.PageSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked(ctx)
}

func (d *RodDriver) snapshotLocked(ctx context.Context) (*fingerprint.PageSnapshot, error) {
	if d.page == nil {
		return nil, &atlas.CollaboratorError{Collaborator: "browser", Op: "snapshot", Err: errors.New("no active page")}
	}
	page := d.page.Context(ctx).Timeout(d.cfg.NavigationTimeout())

	info, err := page.Info()
	if err != nil {
		return nil, &atlas.CollaboratorError{Collaborator: "browser", Op: "snapshot", Err: err}
	}
	html, err := page.HTML()
	if err != nil {
		return nil, &atlas.CollaboratorError{Collaborator: "browser", Op: "snapshot", Err: err}
	}

	snap, err := fingerprint.FromHTML(info.URL, info.Title, html)
	if err != nil {
		return nil, err // SnapshotError passes through untouched
	}
	logging.BrowserDebug("snapshot of %s: %d elements, %d links", info.URL, len(snap.Elements), len(snap.Links))
	return snap, nil
}

// Execute performs one action, capturing before/after snapshots and
// screenshots. Failed attempts are retried up to the configured bound
// before surfacing a CollaboratorError.
func (d *RodDriver) Execute(ctx context.Context, action atlas.Action) (*StepResult, error) {
	timer := logging.StartTimer(logging.CategoryBrowser, fmt.Sprintf("execute %s", action.Kind))
	defer timer.StopWithThreshold(10 * time.Second)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.page == nil {
		return nil, &atlas.CollaboratorError{Collaborator: "browser", Op: "execute", Err: errors.New("no active page")}
	}

	before, err := d.snapshotLocked(ctx)
	if err != nil {
		return nil, err
	}
	shotBefore := d.screenshotLocked("before")

	page := d.page.Context(ctx).Timeout(d.cfg.NavigationTimeout())

	var execErr error
	for attempt := 1; attempt <= d.cfg.Attempts(); attempt++ {
		execErr = d.dispatch(page, action)
		if execErr == nil {
			break
		}
		logging.Browser("action %s attempt %d/%d failed: %v", action.Kind, attempt, d.cfg.Attempts(), execErr)
		if attempt < d.cfg.Attempts() {
			time.Sleep(500 * time.Millisecond)
		}
	}
	if execErr != nil {
		return nil, &atlas.CollaboratorError{
			Collaborator: "browser",
			Op:           fmt.Sprintf("execute %s %s", action.Kind, action.Selector),
			Err:          execErr,
		}
	}

	after, err := d.snapshotLocked(ctx)
	if err != nil {
		return nil, err
	}
	shotAfter := d.screenshotLocked("after")

	return &StepResult{
		Before:           before,
		After:            after,
		ScreenshotBefore: shotBefore,
		ScreenshotAfter:  shotAfter,
	}, nil
}

// dispatch performs one attempt of an action. The kind switch is
// exhaustive over the closed set.
func (d *RodDriver) dispatch(page *rod.Page, action atlas.Action) error {
	var execErr error
	switch action.Kind {
	case atlas.ActionClick:
		var el *rod.Element
		el, execErr = page.Element(action.Selector)
		if execErr == nil {
			execErr = el.Click(proto.InputMouseButtonLeft, 1)
		}
		if execErr == nil {
			execErr = page.WaitLoad()
		}
	case atlas.ActionType:
		var el *rod.Element
		el, execErr = page.Element(action.Selector)
		if execErr == nil {
			_ = el.SelectAllText()
			execErr = el.Input(action.Params["text"])
		}
	case atlas.ActionNavigate:
		execErr = page.Navigate(action.Params["url"])
		if execErr == nil {
			execErr = page.WaitLoad()
		}
	case atlas.ActionScroll:
		execErr = page.Mouse.Scroll(0, scrollDelta(action), 1)
	default:
		execErr = fmt.Errorf("unknown action kind %q", action.Kind)
	}
	return execErr
}

func scrollDelta(action atlas.Action) float64 {
	if action.Params["direction"] == "up" {
		return -600
	}
	return 600
}

// screenshotLocked captures the page and returns a storage reference.
// Screenshot failures are non-fatal; an empty ref means no capture.
func (d *RodDriver) screenshotLocked(phase string) string {
	if d.cfg.ScreenshotDir == "" || d.page == nil {
		return ""
	}
	data, err := d.page.Screenshot(false, nil)
	if err != nil {
		logging.Get(logging.CategoryBrowser).Warn("screenshot failed: %v", err)
		return ""
	}
	name := fmt.Sprintf("%s_%s.png", uuid.NewString(), phase)
	path := filepath.Join(d.cfg.ScreenshotDir, name)
	if err := os.MkdirAll(d.cfg.ScreenshotDir, 0755); err != nil {
		return ""
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		logging.Get(logging.CategoryBrowser).Warn("screenshot write failed: %v", err)
		return ""
	}
	return path
}

// Shutdown closes the page and browser.
func (d *RodDriver) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	var err error
	if d.browser != nil {
		err = d.browser.Close()
		d.browser = nil
	}
	return err
}
