// Package tester executes the test ideas collected during exploration. It
// teleports a clean session to each idea's owning node, drives every
// (input, expected) case through the browser, and appends a pass/fail
// report per case.
package tester

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"webatlas/internal/atlas"
	"webatlas/internal/browser"
	"webatlas/internal/fingerprint"
	"webatlas/internal/logging"
	"webatlas/internal/replay"
)

// Observed outcome vocabulary. A case passes when its expectation equals
// the observed outcome of driving its input.
const (
	OutcomeUnchanged    = "unchanged"
	OutcomeStateChanged = "state-changed"
	OutcomeNavigation   = "navigation"
	OutcomeRejected     = "rejected"
)

// Summary is the result of a completed testing run.
type Summary struct {
	TotalTests int `json:"total_tests"`
	Passed     int `json:"passed"`
	Failed     int `json:"failed"`
}

// Controller runs the testing state machine over one browser session.
type Controller struct {
	store      *atlas.Store
	driver     browser.Driver
	teleporter *replay.Teleporter

	mu          sync.Mutex
	state       State
	currentNode string

	queue   []atlas.TestIdea
	idea    *atlas.TestIdea
	reports []atlas.Report
	summary Summary
}

// New wires a testing controller.
func New(store *atlas.Store, driver browser.Driver, teleporter *replay.Teleporter) *Controller {
	return &Controller{store: store, driver: driver, teleporter: teleporter, state: StateScanning}
}

// State returns the machine's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentNode returns the node currently under test.
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

// Run executes every registered test idea exactly once and returns the
// aggregate pass/fail counts. With no ideas registered the summary is all
// zeroes. The context is checked between states.
func (c *Controller) Run(ctx context.Context) (*Summary, error) {
	timer := logging.StartTimer(logging.CategoryTest, "Run")
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			s := c.summarySnapshot()
			return &s, err
		}

		state := c.State()
		var next State
		var err error
		switch state {
		case StateScanning:
			next, err = c.handleScanning(ctx)
		case StateTeleporting:
			next, err = c.handleTeleporting(ctx)
		case StateExecuting:
			next, err = c.handleExecuting(ctx)
		case StateReporting:
			next, err = c.handleReporting(ctx)
		case StateCompleted:
			s := c.summarySnapshot()
			logging.Test("testing completed: %d cases, %d passed, %d failed",
				s.TotalTests, s.Passed, s.Failed)
			return &s, nil
		default:
			err = fmt.Errorf("tester: no handler for state %s", state)
		}
		if err != nil {
			logging.Get(logging.CategoryTest).Error("state %s failed: %v", state, err)
			c.setState(StateError)
			return nil, err
		}
		if err := checkTransition(state, next); err != nil {
			c.setState(StateError)
			return nil, err
		}
		c.setState(next)
	}
}

func (c *Controller) summarySnapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// handleScanning loads the idea queue on first entry and selects the next
// idea to run, or completes when the queue is drained.
func (c *Controller) handleScanning(ctx context.Context) (State, error) {
	if c.queue == nil {
		ideas, err := c.store.AllIdeas()
		if err != nil {
			return "", err
		}
		c.queue = ideas
		logging.Test("scanned %d test ideas", len(ideas))
	}
	if len(c.queue) == 0 {
		return StateCompleted, nil
	}
	idea := c.queue[0]
	c.queue = c.queue[1:]
	c.idea = &idea
	c.mu.Lock()
	c.currentNode = idea.NodeID
	c.mu.Unlock()
	return StateTeleporting, nil
}

// handleTeleporting brings a clean session to the idea's owning node. A
// replay verification failure fails every case of the idea rather than
// halting the run.
func (c *Controller) handleTeleporting(ctx context.Context) (State, error) {
	err := c.teleporter.Teleport(ctx, c.idea.NodeID)
	if err == nil {
		return StateExecuting, nil
	}
	var verr *replay.VerificationError
	if errors.As(err, &verr) {
		logging.Test("cannot reach node %s for idea %q: %v", c.idea.NodeID, c.idea.Name, verr)
		c.reports = failAll(c.idea, fmt.Sprintf("unreachable: %v", verr))
		return StateReporting, nil
	}
	var collabErr *atlas.CollaboratorError
	if errors.As(err, &collabErr) {
		logging.Test("teleport to %s failed: %v", c.idea.NodeID, err)
		c.reports = failAll(c.idea, fmt.Sprintf("teleport failed: %v", err))
		return StateReporting, nil
	}
	return "", err
}

func failAll(idea *atlas.TestIdea, observed string) []atlas.Report {
	reports := make([]atlas.Report, 0, len(idea.Cases))
	for _, tc := range idea.Cases {
		reports = append(reports, atlas.Report{
			IdeaID:    idea.ID,
			NodeID:    idea.NodeID,
			CaseInput: tc.Input,
			Expected:  tc.Expected,
			Observed:  observed,
			Passed:    false,
		})
	}
	return reports
}

// handleExecuting drives each case of the current idea and classifies the
// observed outcome. The session is re-teleported between cases so each
// input starts from the recorded state.
func (c *Controller) handleExecuting(ctx context.Context) (State, error) {
	c.reports = c.reports[:0]
	for i, tc := range c.idea.Cases {
		if i > 0 {
			if err := c.teleporter.Teleport(ctx, c.idea.NodeID); err != nil {
				c.reports = append(c.reports, atlas.Report{
					IdeaID:    c.idea.ID,
					NodeID:    c.idea.NodeID,
					CaseInput: tc.Input,
					Expected:  tc.Expected,
					Observed:  fmt.Sprintf("unreachable: %v", err),
					Passed:    false,
				})
				continue
			}
		}
		observed := c.runCase(ctx, tc)
		c.reports = append(c.reports, atlas.Report{
			IdeaID:    c.idea.ID,
			NodeID:    c.idea.NodeID,
			CaseInput: tc.Input,
			Expected:  tc.Expected,
			Observed:  observed,
			Passed:    observed == tc.Expected,
		})
	}
	return StateReporting, nil
}

// runCase types the input into the idea's target element and classifies
// what happened against the recorded node state.
func (c *Controller) runCase(ctx context.Context, tc atlas.TestCase) string {
	node, err := c.store.Node(c.idea.NodeID)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}

	result, err := c.driver.Execute(ctx, atlas.Action{
		Kind:     atlas.ActionType,
		Selector: c.idea.Selector,
		Params:   map[string]string{"text": tc.Input},
	})
	if err != nil {
		return OutcomeRejected
	}

	after := result.After
	if after == nil {
		if after, err = c.driver.Snapshot(ctx); err != nil {
			return fmt.Sprintf("error: %v", err)
		}
	}
	if after.URL != node.URL {
		return OutcomeNavigation
	}
	fp, err := fingerprint.Compute(after)
	if err != nil {
		return OutcomeRejected
	}
	if fp != node.Fingerprint {
		return OutcomeStateChanged
	}
	return OutcomeUnchanged
}

// handleReporting persists the case reports and moves on to the next idea.
func (c *Controller) handleReporting(ctx context.Context) (State, error) {
	for _, r := range c.reports {
		if err := c.store.SaveReport(r); err != nil {
			return "", err
		}
		c.mu.Lock()
		c.summary.TotalTests++
		if r.Passed {
			c.summary.Passed++
		} else {
			c.summary.Failed++
		}
		c.mu.Unlock()
	}
	logging.Get(logging.CategoryTest).Debug("reported %d cases for idea %q", len(c.reports), c.idea.Name)
	c.reports = nil
	c.idea = nil
	return StateScanning, nil
}
