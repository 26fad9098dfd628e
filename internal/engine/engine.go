// Package engine wires the atlas store, the browser and reasoning
// collaborators, and the two controllers behind the top-level operations:
// start_exploration, start_testing, and status.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"webatlas/internal/atlas"
	"webatlas/internal/browser"
	"webatlas/internal/config"
	"webatlas/internal/explorer"
	"webatlas/internal/logging"
	"webatlas/internal/reasoning"
	"webatlas/internal/replay"
	"webatlas/internal/tester"
)

// Status is the live view of the engine.
type Status struct {
	State        string        `json:"state"`
	CurrentNode  string        `json:"current_node,omitempty"`
	PendingTasks int           `json:"pending_tasks"`
	TotalNodes   int           `json:"total_nodes"`
	TotalEdges   int           `json:"total_edges"`
	Uptime       time.Duration `json:"uptime"`
}

// Engine owns one browser session and the graph it writes. At most one
// exploration or testing run drives the session at a time.
type Engine struct {
	cfg      *config.Config
	store    *atlas.Store
	driver   browser.Driver
	reasoner reasoning.Reasoner
	teleport *replay.Teleporter

	mu        sync.Mutex
	busy      bool
	explCtrl  *explorer.Controller
	testCtrl  *tester.Controller
	startedAt time.Time
}

// New opens the atlas store and wires the engine around the given
// collaborators.
func New(cfg *config.Config, driver browser.Driver, reasoner reasoning.Reasoner) (*Engine, error) {
	store, err := atlas.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	logging.Boot("engine ready (db %s)", cfg.Storage.DatabasePath)
	return &Engine{
		cfg:       cfg,
		store:     store,
		driver:    driver,
		reasoner:  reasoner,
		teleport:  replay.NewTeleporter(store, driver),
		startedAt: time.Now(),
	}, nil
}

// Store exposes the underlying graph for read-only inspection commands.
func (e *Engine) Store() *atlas.Store {
	return e.store
}

func (e *Engine) acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return fmt.Errorf("engine: a run is already driving the browser session")
	}
	e.busy = true
	return nil
}

func (e *Engine) release() {
	e.mu.Lock()
	e.busy = false
	e.explCtrl = nil
	e.testCtrl = nil
	e.mu.Unlock()
}

// StartExploration explores from startURL until a configured bound is hit
// or the frontier drains. Zero or negative overrides fall back to the
// configured bounds.
func (e *Engine) StartExploration(ctx context.Context, startURL string, maxDepth, maxNodes int) (*explorer.Summary, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	ecfg := e.cfg.Exploration
	ecfg.StartURL = startURL
	if maxDepth > 0 {
		ecfg.MaxDepth = maxDepth
	}
	if maxNodes > 0 {
		ecfg.MaxNodes = maxNodes
	}

	ctrl := explorer.New(e.store, e.driver, e.reasoner, e.teleport, ecfg)
	e.mu.Lock()
	e.explCtrl = ctrl
	e.mu.Unlock()

	var summary *explorer.Summary
	g, gctx := errgroup.WithContext(ctx)
	beatCtx, stopBeat := context.WithCancel(gctx)
	g.Go(func() error {
		defer stopBeat()
		var err error
		summary, err = ctrl.Run(gctx)
		return err
	})
	g.Go(func() error {
		e.heartbeat(beatCtx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

// StartTesting runs every registered test idea once.
func (e *Engine) StartTesting(ctx context.Context) (*tester.Summary, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	ctrl := tester.New(e.store, e.driver, e.teleport)
	e.mu.Lock()
	e.testCtrl = ctrl
	e.mu.Unlock()

	return ctrl.Run(ctx)
}

// heartbeat logs run progress until the run's context ends.
func (e *Engine) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := e.Status()
			logging.Boot("progress: state=%s nodes=%d edges=%d pending=%d",
				s.State, s.TotalNodes, s.TotalEdges, s.PendingTasks)
		}
	}
}

// Status reports the engine state, the node under the cursor, the global
// pending task count, and uptime.
func (e *Engine) Status() Status {
	s := Status{State: "idle", Uptime: time.Since(e.startedAt)}

	e.mu.Lock()
	if e.explCtrl != nil {
		s.State = string(e.explCtrl.State())
		s.CurrentNode = e.explCtrl.CurrentNode()
	} else if e.testCtrl != nil {
		s.State = string(e.testCtrl.State())
		s.CurrentNode = e.testCtrl.CurrentNode()
	}
	e.mu.Unlock()

	if pending, err := e.store.TotalPending(); err == nil {
		s.PendingTasks = pending
	}
	if stats, err := e.store.Stats(); err == nil {
		s.TotalNodes = stats.TotalNodes
		s.TotalEdges = stats.TotalEdges
	}
	return s
}

// Close releases the store. The browser driver is owned by the caller.
func (e *Engine) Close() error {
	return e.store.Close()
}
