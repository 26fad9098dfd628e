package browser

import (
	"testing"
	"time"

	"webatlas/internal/atlas"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	if got := cfg.NavigationTimeout(); got != 30*time.Second {
		t.Errorf("NavigationTimeout = %v, want 30s", got)
	}
	if got := cfg.Attempts(); got != 2 {
		t.Errorf("Attempts = %d, want 2", got)
	}

	cfg = DefaultConfig()
	if !cfg.Headless {
		t.Error("default config should be headless")
	}
}

func TestScrollDelta(t *testing.T) {
	down := scrollDelta(atlas.Action{Kind: atlas.ActionScroll})
	if down <= 0 {
		t.Errorf("default scroll should move down, got %v", down)
	}
	up := scrollDelta(atlas.Action{
		Kind:   atlas.ActionScroll,
		Params: map[string]string{"direction": "up"},
	})
	if up >= 0 {
		t.Errorf("up scroll should be negative, got %v", up)
	}
}
