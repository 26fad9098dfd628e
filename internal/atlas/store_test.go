package atlas

import (
	"errors"
	"fmt"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustEnsure(t *testing.T, s *Store, in StateInput) string {
	t.Helper()
	id, _, err := s.EnsureState(in)
	if err != nil {
		t.Fatalf("EnsureState(%s) failed: %v", in.Fingerprint, err)
	}
	return id
}

func TestEnsureStateCreatesOncePerFingerprint(t *testing.T) {
	s := newTestStore(t)

	id1, isNew, err := s.EnsureState(StateInput{URL: "http://site/", Fingerprint: "fp-root"})
	if err != nil {
		t.Fatalf("EnsureState failed: %v", err)
	}
	if !isNew {
		t.Error("first call should report is_new=true")
	}

	for i := 0; i < 5; i++ {
		id2, again, err := s.EnsureState(StateInput{URL: "http://site/", Fingerprint: "fp-root"})
		if err != nil {
			t.Fatalf("EnsureState revisit failed: %v", err)
		}
		if again {
			t.Error("revisit should report is_new=false")
		}
		if id2 != id1 {
			t.Errorf("revisit returned identity %s, want %s", id2, id1)
		}
	}

	node, err := s.Node(id1)
	if err != nil {
		t.Fatalf("Node failed: %v", err)
	}
	if node.VisitCount != 6 {
		t.Errorf("visit count = %d, want 6", node.VisitCount)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalNodes != 1 {
		t.Errorf("total nodes = %d, want 1", stats.TotalNodes)
	}
}

func TestEnsureStateDepthFromParent(t *testing.T) {
	s := newTestStore(t)

	root := mustEnsure(t, s, StateInput{URL: "http://site/", Fingerprint: "fp-root"})
	child := mustEnsure(t, s, StateInput{URL: "http://site/a", Fingerprint: "fp-a", ParentID: root})
	grand := mustEnsure(t, s, StateInput{URL: "http://site/a/b", Fingerprint: "fp-b", ParentID: child})

	for _, tc := range []struct {
		id    string
		depth int
	}{{root, 0}, {child, 1}, {grand, 2}} {
		n, err := s.Node(tc.id)
		if err != nil {
			t.Fatalf("Node(%s) failed: %v", tc.id, err)
		}
		if n.Depth != tc.depth {
			t.Errorf("depth(%s) = %d, want %d", tc.id, n.Depth, tc.depth)
		}
		if n.ParentID != "" {
			parent, err := s.Node(n.ParentID)
			if err != nil {
				t.Fatalf("parent lookup failed: %v", err)
			}
			if n.Depth != parent.Depth+1 {
				t.Errorf("depth invariant violated at %s: %d != %d+1", tc.id, n.Depth, parent.Depth)
			}
		}
	}

	stats, _ := s.Stats()
	if stats.MaxDepth != 2 {
		t.Errorf("max depth = %d, want 2", stats.MaxDepth)
	}
}

func TestEnsureStateUnknownParent(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.EnsureState(StateInput{URL: "x", Fingerprint: "fp", ParentID: "ghost"})
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestGetPathToNode(t *testing.T) {
	s := newTestStore(t)

	root := mustEnsure(t, s, StateInput{URL: "http://site/", Fingerprint: "fp-root"})
	a := mustEnsure(t, s, StateInput{URL: "http://site/a", Fingerprint: "fp-a", ParentID: root})
	b := mustEnsure(t, s, StateInput{URL: "http://site/a/b", Fingerprint: "fp-b", ParentID: a})

	script := ReplayScript{Steps: []Action{{Kind: ActionNavigate, Params: map[string]string{"url": "x"}}}}
	if err := s.LinkState(root, "open-a", a, script); err != nil {
		t.Fatalf("LinkState failed: %v", err)
	}
	if err := s.LinkState(a, "open-b", b, script); err != nil {
		t.Fatalf("LinkState failed: %v", err)
	}

	path, err := s.GetPathToNode(b)
	if err != nil {
		t.Fatalf("GetPathToNode failed: %v", err)
	}

	nodeB, _ := s.Node(b)
	if len(path) != nodeB.Depth {
		t.Errorf("path length %d != depth %d", len(path), nodeB.Depth)
	}
	if path[len(path)-1].Edge.TargetID != b {
		t.Errorf("last step target = %s, want %s", path[len(path)-1].Edge.TargetID, b)
	}
	if path[0].Edge.SourceID != root || path[0].ActionLabel != "open-a" {
		t.Errorf("first step should leave the root via open-a, got %+v", path[0])
	}
	if len(path[0].Edge.Script.Steps) != 1 {
		t.Error("path step should carry the edge replay script")
	}

	// Root path is empty.
	rootPath, err := s.GetPathToNode(root)
	if err != nil {
		t.Fatalf("GetPathToNode(root) failed: %v", err)
	}
	if len(rootPath) != 0 {
		t.Errorf("root path length = %d, want 0", len(rootPath))
	}

	if _, err := s.GetPathToNode("ghost"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound for unknown target, got %v", err)
	}
}

func TestGraphIndexStaysConsistent(t *testing.T) {
	s := newTestStore(t)

	root := mustEnsure(t, s, StateInput{URL: "http://site/", Fingerprint: "fp-root", Summary: "home"})
	for i := 0; i < 4; i++ {
		mustEnsure(t, s, StateInput{
			URL:         fmt.Sprintf("http://site/p%d", i),
			Fingerprint: fmt.Sprintf("fp-%d", i),
			ParentID:    root,
		})
	}

	bad, err := s.VerifyIndex()
	if err != nil {
		t.Fatalf("VerifyIndex failed: %v", err)
	}
	if len(bad) != 0 {
		t.Errorf("index inconsistent for identities: %v", bad)
	}

	if err := s.UpdateSummary(root, "the home page"); err != nil {
		t.Fatalf("UpdateSummary failed: %v", err)
	}
	n, _ := s.Node(root)
	if n.Summary != "the home page" {
		t.Errorf("summary not updated, got %q", n.Summary)
	}
}

func TestRootMetaRoundTrip(t *testing.T) {
	s := newTestStore(t)
	root := mustEnsure(t, s, StateInput{URL: "http://site/", Fingerprint: "fp-root"})

	if err := s.SetRootMeta(root, "http://site/"); err != nil {
		t.Fatalf("SetRootMeta failed: %v", err)
	}
	id, url, err := s.RootMeta()
	if err != nil {
		t.Fatalf("RootMeta failed: %v", err)
	}
	if id != root || url != "http://site/" {
		t.Errorf("root meta = (%s, %s), want (%s, http://site/)", id, url, root)
	}
}
