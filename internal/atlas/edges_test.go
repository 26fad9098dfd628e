package atlas

import (
	"errors"
	"testing"
)

func TestLinkStateIdempotentOnSameTriple(t *testing.T) {
	s := newTestStore(t)
	root := mustEnsure(t, s, StateInput{URL: "u", Fingerprint: "fp-root"})
	a := mustEnsure(t, s, StateInput{URL: "u/a", Fingerprint: "fp-a", ParentID: root})

	script := ReplayScript{Steps: []Action{{Kind: ActionClick, Selector: "#go"}}}
	if err := s.LinkState(root, "click go", a, script); err != nil {
		t.Fatalf("LinkState failed: %v", err)
	}
	// Same (source, label, target) triple: idempotent success.
	if err := s.LinkState(root, "click go", a, script); err != nil {
		t.Errorf("idempotent re-link failed: %v", err)
	}

	stats, _ := s.Stats()
	if stats.TotalEdges != 1 {
		t.Errorf("total edges = %d, want 1", stats.TotalEdges)
	}
}

func TestLinkStateRejectsLabelReuse(t *testing.T) {
	s := newTestStore(t)
	root := mustEnsure(t, s, StateInput{URL: "u", Fingerprint: "fp-root"})
	a := mustEnsure(t, s, StateInput{URL: "u/a", Fingerprint: "fp-a", ParentID: root})
	b := mustEnsure(t, s, StateInput{URL: "u/b", Fingerprint: "fp-b", ParentID: root})

	if err := s.LinkState(root, "click go", a, ReplayScript{}); err != nil {
		t.Fatalf("LinkState failed: %v", err)
	}
	err := s.LinkState(root, "click go", b, ReplayScript{})
	if !errors.Is(err, ErrLinkExists) {
		t.Errorf("expected ErrLinkExists when label targets a different node, got %v", err)
	}
}

func TestLinkStateUnknownEndpoints(t *testing.T) {
	s := newTestStore(t)
	root := mustEnsure(t, s, StateInput{URL: "u", Fingerprint: "fp-root"})

	if err := s.LinkState(root, "go", "ghost", ReplayScript{}); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound for unknown target, got %v", err)
	}
	if err := s.LinkState("ghost", "go", root, ReplayScript{}); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound for unknown source, got %v", err)
	}
}

func TestEdgeLabelsAreSlugged(t *testing.T) {
	s := newTestStore(t)
	root := mustEnsure(t, s, StateInput{URL: "u", Fingerprint: "fp-root"})
	a := mustEnsure(t, s, StateInput{URL: "u/a", Fingerprint: "fp-a", ParentID: root})

	if err := s.LinkState(root, "Click The Login Button!", a, ReplayScript{}); err != nil {
		t.Fatalf("LinkState failed: %v", err)
	}
	edge, err := s.Edge(root, "Click The Login Button!")
	if err != nil {
		t.Fatalf("Edge lookup failed: %v", err)
	}
	if edge.Label != "click-the-login-button" {
		t.Errorf("label slug = %q, want click-the-login-button", edge.Label)
	}
	if edge.Script.Ref == "" {
		t.Error("edge should receive a script ref")
	}
}

func TestOutDegree(t *testing.T) {
	s := newTestStore(t)
	root := mustEnsure(t, s, StateInput{URL: "u", Fingerprint: "fp-root"})
	a := mustEnsure(t, s, StateInput{URL: "u/a", Fingerprint: "fp-a", ParentID: root})
	b := mustEnsure(t, s, StateInput{URL: "u/b", Fingerprint: "fp-b", ParentID: root})

	s.LinkState(root, "open-a", a, ReplayScript{})
	s.LinkState(root, "open-b", b, ReplayScript{})

	n, err := s.OutDegree(root)
	if err != nil {
		t.Fatalf("OutDegree failed: %v", err)
	}
	if n != 2 {
		t.Errorf("out degree = %d, want 2", n)
	}
	n, _ = s.OutDegree(a)
	if n != 0 {
		t.Errorf("leaf out degree = %d, want 0", n)
	}
}
