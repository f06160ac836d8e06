package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRingHandler_KeepsNewestFirst(t *testing.T) {
	ring := NewRingHandler(3)
	log := slog.New(ring)

	for _, msg := range []string{"one", "two", "three", "four"} {
		log.Info(msg, "id", msg)
	}

	recent := ring.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(recent))
	}
	want := []string{"four", "three", "two"}
	for i, e := range recent {
		if e.Message != want[i] {
			t.Errorf("Entry %d: expected %q, got %q", i, want[i], e.Message)
		}
	}
	if recent[0].Data["id"] != "four" {
		t.Errorf("Expected attrs to be kept, got %v", recent[0].Data)
	}
}

func TestRingHandler_IgnoresDebug(t *testing.T) {
	ring := NewRingHandler(5)
	log := slog.New(ring)
	log.Debug("noise")
	if got := len(ring.Recent(0)); got != 0 {
		t.Errorf("Expected debug records to be dropped, got %d", got)
	}
}

func TestNew_WritesFileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	log, ring, err := New(dir, &console, slog.LevelInfo)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	log.Debug("hidden on console")
	log.Warn("disk almost full", "free", 42)

	if strings.Contains(console.String(), "hidden on console") {
		t.Error("Debug record should not reach the console at info level")
	}
	if !strings.Contains(console.String(), "disk almost full") || !strings.Contains(console.String(), "free=42") {
		t.Errorf("Console output missing warning: %q", console.String())
	}

	data, err := os.ReadFile(filepath.Join(dir, "rgsx.json"))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "hidden on console") {
		t.Error("JSON file should record debug entries")
	}
	if len(ring.Recent(0)) != 1 {
		t.Errorf("Expected one ring entry, got %d", len(ring.Recent(0)))
	}
}
