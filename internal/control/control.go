// Package control holds the process-wide shutdown flag and the on-disk
// sync checkpoint. Both are process-wide state, intentionally small and
// the only mutable module-level state outside the store connection.
package control

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/kepler-labs/transcriptvault/internal/logging"
)

var shuttingDown int32

// SetShuttingDown sets or clears the process-wide graceful-abort flag. A
// set flag does not interrupt in-flight work; the sync engine checks it
// only at the start of each session (§5 of the design).
func SetShuttingDown(v bool) {
	if v {
		atomic.StoreInt32(&shuttingDown, 1)
		L_info("control: shutdown requested")
		return
	}
	atomic.StoreInt32(&shuttingDown, 0)
}

// IsShuttingDown reports the current value of the shutdown flag.
func IsShuttingDown() bool {
	return atomic.LoadInt32(&shuttingDown) != 0
}

var checkpointPath = defaultCheckpointPath()

func defaultCheckpointPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sync-checkpoint.json"
	}
	return filepath.Join(home, ".transcriptvault", "sync-checkpoint.json")
}

// SetTestCheckpointPath overrides the checkpoint file location for test
// isolation. Not meant to be called outside tests.
func SetTestCheckpointPath(path string) {
	checkpointPath = path
}

// CheckpointPath returns the currently configured checkpoint file path.
func CheckpointPath() string {
	return checkpointPath
}

// Checkpoint is the on-disk record of sync progress used to resume after
// interruption.
type Checkpoint struct {
	StartedAt            time.Time  `json:"startedAt"`
	TotalSessions         int        `json:"totalSessions"`
	CompletedSessions     int        `json:"completedSessions"`
	CompletedSessionIDs   []string   `json:"completedSessionIds"`
	LastCompletedAt       *time.Time `json:"lastCompletedAt"`
}

// HasCompleted reports whether id is already recorded as completed.
func (c *Checkpoint) HasCompleted(id string) bool {
	for _, existing := range c.CompletedSessionIDs {
		if existing == id {
			return true
		}
	}
	return false
}

// MarkCompleted appends id to the completed set and bumps the counters.
func (c *Checkpoint) MarkCompleted(id string) {
	if c.HasCompleted(id) {
		return
	}
	c.CompletedSessionIDs = append(c.CompletedSessionIDs, id)
	c.CompletedSessions = len(c.CompletedSessionIDs)
	now := time.Now()
	c.LastCompletedAt = &now
}

// LoadCheckpoint reads the checkpoint file. A missing file means "no run
// in progress" and returns (nil, nil).
func LoadCheckpoint() (*Checkpoint, error) {
	data, err := os.ReadFile(checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}

// SaveCheckpoint writes cp atomically (temp file + rename).
func SaveCheckpoint(cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(checkpointPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, checkpointPath); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	success = true
	L_debug("control: checkpoint saved", "path", checkpointPath, "completed", cp.CompletedSessions, "total", cp.TotalSessions)
	return nil
}

// ClearCheckpoint removes the checkpoint file. Absence is not an error.
func ClearCheckpoint() error {
	if err := os.Remove(checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	L_debug("control: checkpoint cleared", "path", checkpointPath)
	return nil
}
