// Package sync drives discovery, change detection, parsing, entity
// derivation, and transactional persistence for a root of session
// transcripts, with progress reporting, checkpointing, and graceful
// abort.
package sync

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/control"
	"github.com/kepler-labs/transcriptvault/internal/enginerr"
	"github.com/kepler-labs/transcriptvault/internal/extract"
	"github.com/kepler-labs/transcriptvault/internal/jsonl"
	. "github.com/kepler-labs/transcriptvault/internal/logging"
	"github.com/kepler-labs/transcriptvault/internal/model"
	"github.com/kepler-labs/transcriptvault/internal/repository"
	"github.com/kepler-labs/transcriptvault/internal/source"
)

// ProgressPhase names a stage reported through Options.OnProgress.
type ProgressPhase string

const (
	PhaseDiscovering ProgressPhase = "discovering"
	PhaseExtracting  ProgressPhase = "extracting"
	PhaseComplete    ProgressPhase = "complete"
)

// Options configures one sync run.
type Options struct {
	Force             bool
	ProjectFilter     string
	SessionFilter     string
	CheckpointEnabled bool
	ExtractionLimits  extract.Limits
	OnProgress        func(phase ProgressPhase, current, total int, sessionID string)
	OnSessionComplete func(sessionID string)
}

// SessionError pairs a failed session with the error it raised.
type SessionError struct {
	SessionID string
	Error     error
}

// Result reports the outcome of a sync run.
type Result struct {
	Success                 bool
	SessionsDiscovered      int
	SessionsProcessed       int
	SessionsSkipped         int
	MessagesInserted        int
	ToolUsesInserted        int
	Errors                  []SessionError
	DurationMs              int64
	Aborted                 bool
	RecoveredFromCheckpoint []string
}

// Engine orchestrates the sync procedure over a repository bundle, a
// session source, and an optional LLM extraction provider.
type Engine struct {
	repos     *repository.Repositories
	source    source.Source
	extractor extract.ExtractionProvider
}

// New constructs a sync Engine. extractor may be nil, in which case each
// session gets pattern-derived entities only and no LLM-derived summary
// or topic/term/decision entities.
func New(repos *repository.Repositories, src source.Source, extractor extract.ExtractionProvider) *Engine {
	return &Engine{repos: repos, source: src, extractor: extractor}
}

// Sync runs the full discovery→filter→extract→persist procedure over
// root, per opts.
func (e *Engine) Sync(root string, opts Options) (Result, error) {
	start := time.Now()
	result := Result{}

	report := func(phase ProgressPhase, current, total int, sessionID string) {
		if opts.OnProgress != nil {
			opts.OnProgress(phase, current, total, sessionID)
		}
	}

	report(PhaseDiscovering, 0, 0, "")
	files, err := e.source.Discover(root)
	if err != nil {
		return result, enginerr.Wrap(enginerr.SourceInaccessible, "discover sessions", err)
	}
	result.SessionsDiscovered = len(files)

	candidates := filterCandidates(files, opts)

	var checkpoint *control.Checkpoint
	if opts.CheckpointEnabled {
		checkpoint, err = control.LoadCheckpoint()
		if err != nil {
			L_warn("sync: failed to load checkpoint, proceeding without it", "error", err)
			checkpoint = nil
		}
		if checkpoint != nil {
			var remaining []source.SessionFile
			for _, c := range candidates {
				if checkpoint.HasCompleted(c.SessionID) {
					result.RecoveredFromCheckpoint = append(result.RecoveredFromCheckpoint, c.SessionID)
					continue
				}
				remaining = append(remaining, c)
			}
			candidates = remaining
		}
	}
	if checkpoint == nil {
		checkpoint = &control.Checkpoint{StartedAt: time.Now()}
	}
	checkpoint.TotalSessions = len(candidates) + checkpoint.CompletedSessions

	var toProcess []source.SessionFile
	for _, c := range candidates {
		needs, err := e.needsExtraction(c, opts.Force)
		if err != nil {
			result.Errors = append(result.Errors, SessionError{SessionID: c.SessionID, Error: err})
			continue
		}
		if needs {
			toProcess = append(toProcess, c)
		} else {
			result.SessionsSkipped++
		}
	}

	for i, candidate := range toProcess {
		if control.IsShuttingDown() {
			result.Aborted = true
			if opts.CheckpointEnabled {
				if err := control.SaveCheckpoint(checkpoint); err != nil {
					L_warn("sync: failed to save checkpoint on abort", "error", err)
				}
			}
			report(PhaseComplete, i, len(toProcess), "")
			result.DurationMs = time.Since(start).Milliseconds()
			return result, nil
		}

		messages, toolUses, err := e.processSession(candidate, opts)
		if err != nil {
			result.Errors = append(result.Errors, SessionError{SessionID: candidate.SessionID, Error: err})
			continue
		}

		result.SessionsProcessed++
		result.MessagesInserted += messages
		result.ToolUsesInserted += toolUses

		report(PhaseExtracting, i+1, len(toProcess), candidate.SessionID)
		if opts.OnSessionComplete != nil {
			opts.OnSessionComplete(candidate.SessionID)
		}
		if opts.CheckpointEnabled {
			checkpoint.MarkCompleted(candidate.SessionID)
			if err := control.SaveCheckpoint(checkpoint); err != nil {
				L_warn("sync: failed to persist checkpoint", "error", err)
			}
		}
	}

	report(PhaseComplete, len(toProcess), len(toProcess), "")
	result.DurationMs = time.Since(start).Milliseconds()
	result.Success = len(result.Errors) == 0 && !result.Aborted

	if opts.CheckpointEnabled {
		if result.Success {
			if err := control.ClearCheckpoint(); err != nil {
				L_warn("sync: failed to clear checkpoint", "error", err)
			}
		}
	}

	return result, nil
}

func filterCandidates(files []source.SessionFile, opts Options) []source.SessionFile {
	var out []source.SessionFile
	for _, f := range files {
		if opts.SessionFilter != "" && f.SessionID != opts.SessionFilter {
			continue
		}
		if opts.ProjectFilter != "" && !strings.Contains(f.ProjectPath.Decoded(), opts.ProjectFilter) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// needsExtraction applies step 5 of the procedure: force, absent state,
// non-complete state, or a stale (mtime, size) pair all trigger
// re-extraction.
func (e *Engine) needsExtraction(f source.SessionFile, force bool) (bool, error) {
	if force {
		return true, nil
	}
	st, err := e.repos.ExtractionStates.GetByPath(f.Path)
	if err != nil {
		return false, enginerr.Wrap(enginerr.DBConnectionFailed, "read extraction state", err)
	}
	if st == nil {
		return true, nil
	}
	if st.Status() != model.ExtractionComplete {
		return true, nil
	}
	if st.LastMTime() == nil || !st.LastMTime().Equal(f.ModTime.Truncate(time.Second)) {
		return true, nil
	}
	if st.LastSize() == nil || *st.LastSize() != f.Size {
		return true, nil
	}
	return false, nil
}

// processSession runs steps 6.b-6.h for one candidate: parse, derive
// entities, and persist within a single immediate transaction.
func (e *Engine) processSession(f source.SessionFile, opts Options) (messagesInserted, toolUsesInserted int, err error) {
	now := time.Now()
	stateID := f.SessionID
	state, stateErr := model.NewExtractionState(stateID, f.Path, now, f.ModTime, f.Size)
	if stateErr != nil {
		return 0, 0, stateErr
	}

	file, openErr := os.Open(f.Path)
	if openErr != nil {
		e.saveErrorState(state, openErr)
		return 0, 0, enginerr.Wrap(enginerr.SourceInaccessible, "open session file", openErr)
	}
	events := jsonl.Drain(file)
	file.Close()

	derived, derivErr := deriveFromEvents(f.SessionID, events)
	if derivErr != nil {
		e.saveErrorState(state, derivErr)
		return 0, 0, enginerr.Wrap(enginerr.InvalidJSON, "derive session entities", derivErr)
	}

	session, sessErr := model.NewSession(f.SessionID, f.ProjectPath, derived.firstTimestamp())
	if sessErr != nil {
		e.saveErrorState(state, sessErr)
		return 0, 0, sessErr
	}
	session = session.WithMessageCount(len(derived.messages))
	if last := derived.lastTimestamp(); !last.IsZero() {
		session = session.WithEndedAt(last)
	}

	ctx := context.Background()
	graphEntities, summary, entErr := deriveGraphEntities(ctx, f.SessionID, derived, e.extractor, opts.ExtractionLimits, now)
	if entErr != nil {
		wrapped := enginerr.Wrap(enginerr.InvariantViolation, "derive graph entities", entErr)
		e.saveErrorState(state, wrapped)
		return 0, 0, wrapped
	}
	if summary != "" {
		session = session.WithSummary(summary)
	}

	state = state.WithInProgress()

	if err := e.persistTx(ctx, session, derived, graphEntities, &state); err != nil {
		e.saveErrorState(state, err)
		return 0, 0, classifyPersistError(err)
	}

	return len(derived.messages), len(derived.toolUses), nil
}

func (e *Engine) saveErrorState(state model.ExtractionState, cause error) {
	state = state.WithError(cause.Error())
	if err := e.repos.ExtractionStates.Save(state); err != nil {
		L_warn("sync: failed to save error extraction state", "session", state.SessionPath(), "error", err)
	}
}

func classifyPersistError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy") {
		return enginerr.Wrap(enginerr.DBLocked, "persist session", err)
	}
	return enginerr.Wrap(enginerr.DBConnectionFailed, "persist session", err)
}

// persistTx opens a single immediate transaction on the store and, within
// it, persists the session, widens its cached message count and end
// instant on re-extraction, batch-persists its messages and tool uses,
// persists the derived graph entities, and saves the completed extraction
// state. A failure at any step rolls back the whole write.
func (e *Engine) persistTx(ctx context.Context, session model.Session, d derivedEvents, graphEntities []graphEntity, state *model.ExtractionState) error {
	*state = state.WithIncrementMessages(len(d.messages))
	completed, err := state.WithComplete(time.Now())
	if err != nil {
		return fmt.Errorf("complete extraction state: %w", err)
	}
	*state = completed

	return e.repos.WithTx(ctx, func(tx *repository.Repositories) error {
		if err := tx.Sessions.Insert(session); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if ended := session.EndedAt(); ended != nil {
			if err := tx.Sessions.UpdateMessageCountAndEnded(session.ID(), session.MessageCount(), *ended); err != nil {
				return fmt.Errorf("update session message count: %w", err)
			}
		}
		if res := tx.Messages.BatchInsert(d.messages); len(res.Errors) > 0 {
			return fmt.Errorf("insert messages: %w", res.Errors[0])
		}
		if res := tx.ToolUses.BatchInsert(d.toolUses); len(res.Errors) > 0 {
			return fmt.Errorf("insert tool uses: %w", res.Errors[0])
		}
		if err := persistGraphEntities(tx, session.ID(), graphEntities, time.Now()); err != nil {
			return err
		}
		if err := tx.ExtractionStates.Save(*state); err != nil {
			return fmt.Errorf("save extraction state: %w", err)
		}
		return nil
	})
}
