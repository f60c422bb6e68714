package control

import (
	"os"
	"path/filepath"
	"testing"
)

func TestShuttingDownFlag(t *testing.T) {
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Fatal("expected not shutting down")
	}
	SetShuttingDown(true)
	if !IsShuttingDown() {
		t.Fatal("expected shutting down")
	}
	SetShuttingDown(false)
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	SetTestCheckpointPath(filepath.Join(dir, "checkpoint.json"))
	defer SetTestCheckpointPath(defaultCheckpointPath())

	cp, err := LoadCheckpoint()
	if err != nil {
		t.Fatal(err)
	}
	if cp != nil {
		t.Fatal("expected nil checkpoint when file absent")
	}

	fresh := &Checkpoint{TotalSessions: 3}
	fresh.MarkCompleted("s1")
	fresh.MarkCompleted("s1")
	fresh.MarkCompleted("s2")
	if fresh.CompletedSessions != 2 {
		t.Fatalf("expected 2 completed, got %d", fresh.CompletedSessions)
	}

	if err := SaveCheckpoint(fresh); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadCheckpoint()
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil || loaded.CompletedSessions != 2 || !loaded.HasCompleted("s2") {
		t.Fatalf("unexpected loaded checkpoint: %+v", loaded)
	}

	if err := ClearCheckpoint(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(CheckpointPath()); !os.IsNotExist(err) {
		t.Fatal("expected checkpoint file removed")
	}
}
