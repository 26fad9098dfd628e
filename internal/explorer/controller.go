package explorer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"webatlas/internal/atlas"
	"webatlas/internal/browser"
	"webatlas/internal/fingerprint"
	"webatlas/internal/logging"
	"webatlas/internal/reasoning"
	"webatlas/internal/replay"
)

// Config bounds an exploration run.
type Config struct {
	StartURL    string `yaml:"start_url"`
	MaxDepth    int    `yaml:"max_depth"`
	MaxNodes    int    `yaml:"max_nodes"`
	MaxRevisits int    `yaml:"max_revisits"` // oscillation bound per known node
}

// DefaultConfig returns the exploration bounds used when none are
// configured.
func DefaultConfig() Config {
	return Config{MaxDepth: 5, MaxNodes: 50, MaxRevisits: 3}
}

// Summary is the result of a completed exploration run.
type Summary struct {
	TotalNodes      int `json:"total_nodes"`
	TotalEdges      int `json:"total_edges"`
	MaxDepthReached int `json:"max_depth_reached"`
}

// pendingLink is the transition staged between a meaningful action and the
// persistence of its destination. The target identity is only known once
// the new page has been fingerprinted.
type pendingLink struct {
	sourceID string
	label    string
	script   atlas.ReplayScript
}

// Controller runs the exploration state machine over one browser session.
type Controller struct {
	store      *atlas.Store
	driver     browser.Driver
	reasoner   reasoning.Reasoner
	teleporter *replay.Teleporter
	cfg        Config

	mu          sync.Mutex
	state       State
	currentNode string

	// loop-local carry between handlers, touched only by Run
	snap     *fingerprint.PageSnapshot
	task     *atlas.Task
	result   *browser.StepResult
	pending  *pendingLink
	revisits map[string]int
	rootID   string
}

// New wires an exploration controller.
func New(store *atlas.Store, driver browser.Driver, reasoner reasoning.Reasoner, teleporter *replay.Teleporter, cfg Config) *Controller {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = DefaultConfig().MaxNodes
	}
	if cfg.MaxRevisits <= 0 {
		cfg.MaxRevisits = DefaultConfig().MaxRevisits
	}
	return &Controller{
		store:      store,
		driver:     driver,
		reasoner:   reasoner,
		teleporter: teleporter,
		cfg:        cfg,
		state:      StateLocating,
		revisits:   make(map[string]int),
	}
}

// State returns the machine's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentNode returns the node the machine is positioned on.
func (c *Controller) CurrentNode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentNode
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) setCurrentNode(id string) {
	c.mu.Lock()
	c.currentNode = id
	c.mu.Unlock()
}

// Run explores from the configured start URL until the frontier is
// exhausted or a bound is hit. The context is checked between states, so
// cancellation takes effect at the next transition; persisted progress
// stays valid for a later resume.
func (c *Controller) Run(ctx context.Context) (*Summary, error) {
	timer := logging.StartTimer(logging.CategoryExplore, "Run")
	defer timer.Stop()

	if c.cfg.StartURL == "" {
		c.setState(StateError)
		return nil, fmt.Errorf("explorer: start URL is required")
	}
	if err := c.driver.Reset(ctx); err != nil {
		c.setState(StateError)
		return nil, err
	}
	if _, err := c.driver.Execute(ctx, atlas.Action{
		Kind:   atlas.ActionNavigate,
		Params: map[string]string{"url": c.cfg.StartURL},
	}); err != nil {
		c.setState(StateError)
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return c.summary(err)
		}

		state := c.State()
		logging.ExploreDebug("state %s (node %s)", state, c.CurrentNode())

		var next State
		var err error
		switch state {
		case StateLocating:
			next, err = c.handleLocating(ctx)
		case StateAnalyzing:
			next, err = c.handleAnalyzing(ctx)
		case StateDeciding:
			next, err = c.handleDeciding(ctx)
		case StateActing:
			next, err = c.handleActing(ctx)
		case StateReflecting:
			next, err = c.handleReflecting(ctx)
		case StateBacktracking:
			next, err = c.handleBacktracking(ctx)
		case StateCompleted:
			logging.Explore("exploration completed at node %s", c.CurrentNode())
			return c.summary(nil)
		default:
			err = fmt.Errorf("explorer: no handler for state %s", state)
		}
		if err != nil {
			logging.Get(logging.CategoryExplore).Error("state %s failed: %v", state, err)
			c.setState(StateError)
			return c.summaryWithErr(err)
		}
		if err := checkTransition(state, next); err != nil {
			c.setState(StateError)
			return c.summaryWithErr(err)
		}
		c.setState(next)
	}
}

func (c *Controller) summary(cause error) (*Summary, error) {
	s, err := c.store.Stats()
	if err != nil {
		return nil, err
	}
	return &Summary{TotalNodes: s.TotalNodes, TotalEdges: s.TotalEdges, MaxDepthReached: s.MaxDepth}, cause
}

func (c *Controller) summaryWithErr(cause error) (*Summary, error) {
	s, statErr := c.store.Stats()
	if statErr != nil {
		return nil, cause
	}
	return &Summary{TotalNodes: s.TotalNodes, TotalEdges: s.TotalEdges, MaxDepthReached: s.MaxDepth}, cause
}

// handleLocating fingerprints the current page, persists it as a node, and
// completes any transition staged by Reflecting.
func (c *Controller) handleLocating(ctx context.Context) (State, error) {
	snap, err := c.driver.Snapshot(ctx)
	if err == nil {
		c.snap = snap
		_, err = c.persistCurrent()
	}
	if err != nil {
		var snapErr *fingerprint.SnapshotError
		if errors.As(err, &snapErr) {
			// unfingerprintable page: abandon this hop, keep exploring
			logging.Explore("unfingerprintable page, abandoning hop: %v", err)
			c.failStagedTask()
			if c.currentNodeSet() {
				return StateDeciding, nil
			}
			return "", fmt.Errorf("explorer: start page is unfingerprintable: %w", err)
		}
		var collabErr *atlas.CollaboratorError
		if errors.As(err, &collabErr) && c.currentNodeSet() {
			logging.Explore("snapshot failed, abandoning hop: %v", err)
			c.failStagedTask()
			return StateDeciding, nil
		}
		return "", err
	}

	nodeID := c.CurrentNode()
	stats, err := c.store.Stats()
	if err != nil {
		return "", err
	}
	if stats.TotalNodes >= c.cfg.MaxNodes {
		logging.Explore("node budget reached (%d), stopping", stats.TotalNodes)
		return StateCompleted, nil
	}

	node, err := c.store.Node(nodeID)
	if err != nil {
		return "", err
	}
	if node.Depth >= c.cfg.MaxDepth {
		logging.Explore("depth bound reached at %s (depth %d), treating as dead end", nodeID, node.Depth)
		return StateBacktracking, nil
	}
	if c.revisits[nodeID] > c.cfg.MaxRevisits {
		logging.Explore("revisit bound exceeded at %s, backtracking", nodeID)
		return StateBacktracking, nil
	}
	return StateAnalyzing, nil
}

// persistCurrent runs ensure_state for the snapshot held in c.snap and, if
// a link was staged, records the edge from the staged source. Returns
// whether the node was newly created.
func (c *Controller) persistCurrent() (bool, error) {
	fp, err := fingerprint.Compute(c.snap)
	if err != nil {
		return false, err
	}

	parent := ""
	if c.pending != nil {
		parent = c.pending.sourceID
	}
	nodeID, isNew, err := c.store.EnsureState(atlas.StateInput{
		URL:         c.snap.URL,
		Fingerprint: fp,
		Summary:     c.snap.Summary(),
		ParentID:    parent,
	})
	if err != nil {
		return false, err
	}

	if c.rootID == "" {
		c.rootID = nodeID
		if err := c.store.SetRootMeta(nodeID, c.cfg.StartURL); err != nil {
			return false, err
		}
		logging.Explore("root established: %s (%s)", nodeID, c.cfg.StartURL)
	}

	if c.pending != nil {
		if err := c.linkStaged(nodeID); err != nil {
			return false, err
		}
		c.pending = nil
	}
	if !isNew {
		c.revisits[nodeID]++
	}
	c.setCurrentNode(nodeID)
	if isNew {
		logging.Explore("new node %s at depth-parent %q (%s)", nodeID, parent, c.snap.URL)
	}
	return isNew, nil
}

// linkStaged records the staged edge. A label collision on the same source
// that points at a different target gets a disambiguated label rather than
// losing the transition.
func (c *Controller) linkStaged(targetID string) error {
	err := c.store.LinkState(c.pending.sourceID, c.pending.label, targetID, c.pending.script)
	if errors.Is(err, atlas.ErrLinkExists) {
		alt := c.pending.label + " to " + targetID
		logging.Explore("label %q taken on %s, retrying as %q", c.pending.label, c.pending.sourceID, alt)
		err = c.store.LinkState(c.pending.sourceID, alt, targetID, c.pending.script)
	}
	return err
}

// handleAnalyzing asks the reasoner for tasks and test ideas the first
// time a node is seen.
func (c *Controller) handleAnalyzing(ctx context.Context) (State, error) {
	nodeID := c.CurrentNode()
	node, err := c.store.Node(nodeID)
	if err != nil {
		return "", err
	}
	if node.Analyzed {
		return StateDeciding, nil
	}
	pending, err := c.store.PendingCount(nodeID)
	if err != nil {
		return "", err
	}
	if pending > 0 {
		return StateDeciding, nil
	}

	tasks, err := c.reasoner.ProposeTasks(ctx, c.snap)
	if err != nil {
		var collabErr *atlas.CollaboratorError
		if errors.As(err, &collabErr) {
			// reasoner exhausted its retries; the node simply gets no tasks
			logging.Explore("task proposal failed for %s: %v", nodeID, err)
			return StateDeciding, nil
		}
		return "", err
	}
	if len(tasks) > 0 {
		if _, err := c.store.ManageTodos(nodeID, atlas.TodoPush, tasks); err != nil {
			return "", err
		}
	}

	if ideas, err := c.reasoner.ProposeIdeas(ctx, c.snap); err != nil {
		logging.Explore("idea proposal failed for %s: %v", nodeID, err)
	} else if len(ideas) > 0 {
		if err := c.store.SaveIdeas(nodeID, ideas); err != nil {
			return "", err
		}
	}

	if err := c.store.MarkAnalyzed(nodeID); err != nil {
		return "", err
	}
	logging.Explore("analyzed %s: %d tasks pushed", nodeID, len(tasks))
	return StateDeciding, nil
}

// handleDeciding pops the next task for the current node.
func (c *Controller) handleDeciding(ctx context.Context) (State, error) {
	task, err := c.store.ManageTodos(c.CurrentNode(), atlas.TodoPop, nil)
	if err != nil {
		return "", err
	}
	if task == nil {
		return StateBacktracking, nil
	}
	c.task = task
	return StateActing, nil
}

// handleActing executes the popped task in the browser.
func (c *Controller) handleActing(ctx context.Context) (State, error) {
	result, err := c.driver.Execute(ctx, c.task.Action())
	if err != nil {
		logging.Explore("task %s failed to execute: %v", c.task.ID, err)
		if markErr := c.store.MarkTask(c.task.ID, atlas.TaskFailed); markErr != nil {
			return "", markErr
		}
		c.task = nil
		return StateDeciding, nil
	}
	c.result = result
	return StateReflecting, nil
}

// handleReflecting judges the executed transition. A meaningful one stages
// the link and moves to Locating; anything else fails the task and tries
// the next one.
func (c *Controller) handleReflecting(ctx context.Context) (State, error) {
	action := c.task.Action()
	judgment, err := c.reasoner.JudgeTransition(ctx, c.result.Before, c.result.After, action)
	if err != nil {
		var collabErr *atlas.CollaboratorError
		if !errors.As(err, &collabErr) {
			return "", err
		}
		logging.Explore("judgment failed for task %s: %v", c.task.ID, err)
		judgment = &reasoning.Judgment{Meaningful: false}
	}

	if !judgment.Meaningful {
		if err := c.store.MarkTask(c.task.ID, atlas.TaskFailed); err != nil {
			return "", err
		}
		c.task = nil
		return StateDeciding, nil
	}

	label := judgment.Label
	if label == "" {
		label = string(action.Kind)
	}
	c.pending = &pendingLink{
		sourceID: c.CurrentNode(),
		label:    label,
		script:   atlas.ReplayScript{Steps: []atlas.Action{action}},
	}
	if err := c.store.MarkTask(c.task.ID, atlas.TaskCompleted); err != nil {
		return "", err
	}
	c.task = nil
	return StateLocating, nil
}

// handleBacktracking teleports to the nearest node that still has pending
// tasks, or completes the run when the frontier is empty.
func (c *Controller) handleBacktracking(ctx context.Context) (State, error) {
	frontier, err := c.store.Frontier()
	if err != nil {
		return "", err
	}
	if len(frontier) == 0 {
		return StateCompleted, nil
	}

	target := c.pickBacktrackTarget(frontier)
	logging.Explore("backtracking from %s to %s", c.CurrentNode(), target)

	if err := c.teleporter.Teleport(ctx, target); err != nil {
		var verr *replay.VerificationError
		if errors.As(err, &verr) {
			// stale replay chain: start over from the root
			logging.Explore("teleport verification failed (%v), re-exploring from root", verr)
			if err := c.driver.Reset(ctx); err != nil {
				return "", err
			}
			if _, err := c.driver.Execute(ctx, atlas.Action{
				Kind:   atlas.ActionNavigate,
				Params: map[string]string{"url": c.cfg.StartURL},
			}); err != nil {
				return "", err
			}
			c.pending = nil
			return StateLocating, nil
		}
		return "", err
	}

	c.setCurrentNode(target)
	c.pending = nil
	return StateDeciding, nil
}

// pickBacktrackTarget prefers the nearest ancestor of the current node
// with pending work, falling back to the shallowest frontier node.
func (c *Controller) pickBacktrackTarget(frontier []string) string {
	inFrontier := make(map[string]bool, len(frontier))
	for _, id := range frontier {
		inFrontier[id] = true
	}
	if path, err := c.store.GetPathToNode(c.CurrentNode()); err == nil {
		for i := len(path) - 1; i >= 0; i-- {
			if inFrontier[path[i].NodeID] {
				return path[i].NodeID
			}
		}
	}
	// Frontier is ordered shallowest first.
	return frontier[0]
}

func (c *Controller) currentNodeSet() bool {
	return c.CurrentNode() != ""
}

// failStagedTask clears a staged link after its destination turned out not
// to be persistable.
func (c *Controller) failStagedTask() {
	c.pending = nil
	c.task = nil
}
