// Package recovery drives the startup recovery pass: counting sessions
// left mid-extraction by a prior crash or interruption, and re-running
// sync scoped to just those sessions.
package recovery

import (
	"path/filepath"
	"strings"

	"github.com/kepler-labs/transcriptvault/internal/config"
	. "github.com/kepler-labs/transcriptvault/internal/logging"
	"github.com/kepler-labs/transcriptvault/internal/model"
	"github.com/kepler-labs/transcriptvault/internal/repository"
	"github.com/kepler-labs/transcriptvault/internal/source"
	"github.com/kepler-labs/transcriptvault/internal/sync"
)

// Engine enumerates pending sessions and drives their re-extraction
// through a sync.Engine.
type Engine struct {
	repos       *repository.Repositories
	src         source.Source
	syncEngine  *sync.Engine
	cfg         config.RecoveryConfig
	sessionRoot string
}

// New constructs a recovery Engine over repos, src, and the sync.Engine
// that actually re-extracts any pending session.
func New(repos *repository.Repositories, src source.Source, syncEngine *sync.Engine, cfg config.RecoveryConfig, sessionRoot string) *Engine {
	return &Engine{repos: repos, src: src, syncEngine: syncEngine, cfg: cfg, sessionRoot: sessionRoot}
}

// SessionRecoveryError pairs a pending session's path with the error
// raised while re-syncing it.
type SessionRecoveryError struct {
	SessionPath string
	Error       error
}

// Options configures one recovery pass.
type Options struct {
	DryRun      bool
	MaxSessions int // 0 = unbounded
}

// Result reports the outcome of a recovery pass.
type Result struct {
	Skipped             bool
	PendingSessionPaths []string
	Processed           int
	Errors              []SessionRecoveryError
}

// GetPendingCount returns the number of discovered sessions whose
// ExtractionState is missing or not complete.
func (e *Engine) GetPendingCount() (int, error) {
	paths, err := e.pendingPaths()
	if err != nil {
		return 0, err
	}
	return len(paths), nil
}

// Recover runs the recovery pass per opts. If recovery-on-startup is
// disabled in configuration and this is not a dry run, it returns
// immediately with Skipped set.
func (e *Engine) Recover(opts Options) (Result, error) {
	if !e.cfg.RecoveryOnStartup && !opts.DryRun {
		return Result{Skipped: true}, nil
	}

	pending, err := e.pendingPaths()
	if err != nil {
		return Result{}, err
	}
	if opts.DryRun {
		return Result{PendingSessionPaths: pending}, nil
	}

	max := opts.MaxSessions
	if max <= 0 || max > len(pending) {
		max = len(pending)
	}

	result := Result{PendingSessionPaths: pending}
	for _, path := range pending[:max] {
		id := sessionIDFromPath(path)
		syncResult, syncErr := e.syncEngine.Sync(e.sessionRoot, sync.Options{SessionFilter: id})
		if syncErr != nil {
			result.Errors = append(result.Errors, SessionRecoveryError{SessionPath: path, Error: syncErr})
			continue
		}
		if len(syncResult.Errors) > 0 {
			result.Errors = append(result.Errors, SessionRecoveryError{SessionPath: path, Error: syncResult.Errors[0].Error})
			continue
		}
		result.Processed++
		L_debug("recovery: re-synced pending session", "path", path)
	}

	return result, nil
}

// pendingPaths enumerates every discovered session file whose
// ExtractionState is missing or not complete.
func (e *Engine) pendingPaths() ([]string, error) {
	files, err := e.src.Discover(e.sessionRoot)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, f := range files {
		st, err := e.repos.ExtractionStates.GetByPath(f.Path)
		if err != nil {
			return nil, err
		}
		if st == nil || st.Status() != model.ExtractionComplete {
			out = append(out, f.Path)
		}
	}
	return out, nil
}

// sessionIDFromPath extracts the filename stem from a session path,
// tolerating both forward and backward path separators.
func sessionIDFromPath(path string) string {
	base := filepath.Base(strings.ReplaceAll(path, "\\", "/"))
	return strings.TrimSuffix(base, ".jsonl")
}
