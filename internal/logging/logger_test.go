package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDisabledLoggingIsNoOp(t *testing.T) {
	if err := Configure(Settings{Enabled: false}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer CloseAll()

	l := Get(CategoryStore)
	l.Info("should not be written anywhere")
	if l.logger != nil {
		t.Error("expected no-op logger when disabled")
	}
}

func TestCategoryFileCreated(t *testing.T) {
	dir := t.TempDir()
	err := Configure(Settings{Enabled: true, Dir: dir, Level: "debug"})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer CloseAll()
	defer Configure(Settings{Enabled: false})

	Store("node %s persisted", "abc123")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var found bool
	for _, e := range entries {
		if strings.Contains(e.Name(), "_store.log") {
			found = true
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				t.Fatalf("ReadFile failed: %v", err)
			}
			if !strings.Contains(string(data), "node abc123 persisted") {
				t.Errorf("log file missing expected message, got: %s", data)
			}
		}
	}
	if !found {
		t.Error("expected a store category log file")
	}
}

func TestCategoryFilter(t *testing.T) {
	dir := t.TempDir()
	err := Configure(Settings{
		Enabled:    true,
		Dir:        dir,
		Level:      "info",
		Categories: map[string]bool{"replay": false},
	})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer CloseAll()
	defer Configure(Settings{Enabled: false})

	if IsCategoryEnabled(CategoryReplay) {
		t.Error("replay category should be disabled")
	}
	if !IsCategoryEnabled(CategoryStore) {
		t.Error("store category should default to enabled")
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	err := Configure(Settings{Enabled: true, Dir: dir, Level: "warn"})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer CloseAll()
	defer Configure(Settings{Enabled: false})

	l := Get(CategoryExplore)
	l.Info("hidden info")
	l.Warn("visible warning")

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if !strings.Contains(e.Name(), "_explore.log") {
			continue
		}
		data, _ := os.ReadFile(filepath.Join(dir, e.Name()))
		if strings.Contains(string(data), "hidden info") {
			t.Error("info message should be filtered at warn level")
		}
		if !strings.Contains(string(data), "visible warning") {
			t.Error("warn message should be written")
		}
	}
}
