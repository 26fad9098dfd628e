// Package replay reconstructs a recorded application state by replaying
// the chain of transition scripts from the root, verifying the page
// fingerprint at every hop.
package replay

import (
	"context"
	"fmt"

	"webatlas/internal/atlas"
	"webatlas/internal/browser"
	"webatlas/internal/fingerprint"
	"webatlas/internal/logging"
)

// VerificationError reports a fingerprint mismatch during replay. Step is
// the zero-based hop index; step -1 is the root navigation itself.
type VerificationError struct {
	Step   int
	NodeID string
	Want   string
	Got    string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("replay verification failed at step %d (node %s): fingerprint %s, expected %s",
		e.Step, e.NodeID, e.Got, e.Want)
}

// Teleporter drives a browser session back to any persisted node.
type Teleporter struct {
	store  *atlas.Store
	driver browser.Driver
}

// NewTeleporter wires a teleporter over the store and a browser driver.
func NewTeleporter(store *atlas.Store, driver browser.Driver) *Teleporter {
	return &Teleporter{store: store, driver: driver}
}

// BuildChain resolves the ordered replay scripts leading from the root to
// the target node. The target itself must exist; an empty chain means the
// target is the root.
func (t *Teleporter) BuildChain(targetID string) ([]atlas.ReplayScript, error) {
	path, err := t.store.GetPathToNode(targetID)
	if err != nil {
		return nil, err
	}
	chain := make([]atlas.ReplayScript, 0, len(path))
	for _, step := range path {
		chain = append(chain, step.Edge.Script)
	}
	return chain, nil
}

// Teleport resets the session, navigates to the recorded root URL, and
// replays the script chain to the target node. Each hop is verified
// against the persisted fingerprint before the next begins; a mismatch
// aborts with a *VerificationError.
func (t *Teleporter) Teleport(ctx context.Context, targetID string) error {
	timer := logging.StartTimer(logging.CategoryReplay, "Teleport")
	defer timer.Stop()

	path, err := t.store.GetPathToNode(targetID)
	if err != nil {
		return err
	}
	rootID, rootURL, err := t.store.RootMeta()
	if err != nil {
		return err
	}
	if rootID == "" || rootURL == "" {
		return fmt.Errorf("replay: root has not been recorded yet")
	}

	if err := t.driver.Reset(ctx); err != nil {
		return err
	}
	if _, err := t.driver.Execute(ctx, atlas.Action{
		Kind:   atlas.ActionNavigate,
		Params: map[string]string{"url": rootURL},
	}); err != nil {
		return err
	}
	if err := t.verify(ctx, -1, rootID); err != nil {
		return err
	}

	for i, step := range path {
		logging.ReplayDebug("hop %d: %s -> %s via %q (%d actions)",
			i, step.Edge.SourceID, step.NodeID, step.ActionLabel, len(step.Edge.Script.Steps))
		for _, action := range step.Edge.Script.Steps {
			if _, err := t.driver.Execute(ctx, action); err != nil {
				return err
			}
		}
		if err := t.verify(ctx, i, step.NodeID); err != nil {
			return err
		}
	}

	logging.Replay("teleported to %s in %d hops", targetID, len(path))
	return nil
}

// verify snapshots the current page and compares its fingerprint to the
// one persisted for nodeID.
func (t *Teleporter) verify(ctx context.Context, step int, nodeID string) error {
	node, err := t.store.Node(nodeID)
	if err != nil {
		return err
	}
	snap, err := t.driver.Snapshot(ctx)
	if err != nil {
		return err
	}
	got, err := fingerprint.Compute(snap)
	if err != nil {
		return err
	}
	if got != node.Fingerprint {
		return &VerificationError{Step: step, NodeID: nodeID, Want: node.Fingerprint, Got: got}
	}
	return nil
}
