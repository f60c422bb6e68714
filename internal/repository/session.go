package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/model"
	. "github.com/kepler-labs/transcriptvault/internal/logging"
)

// SessionRepository persists and queries Session rows.
type SessionRepository struct {
	db querier
}

// Insert writes s, ignoring a duplicate id.
func (r *SessionRepository) Insert(s model.Session) error {
	var ended *string
	if e := s.EndedAt(); e != nil {
		v := e.Format(time.RFC3339)
		ended = &v
	}
	var summary *string
	if sm := s.Summary(); sm != nil {
		summary = sm
	}

	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO sessions (
			id, project_path_encoded, project_path_decoded, project_name,
			started_at, ended_at, message_count, summary, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID(), s.ProjectPath().Encoded(), s.ProjectPath().Decoded(), s.ProjectName(),
		s.StartedAt().Format(time.RFC3339), ended, s.MessageCount(), summary,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	L_trace("repository: inserted session", "id", s.ID())
	return nil
}

// GetByID returns the session with id, or nil if absent.
func (r *SessionRepository) GetByID(id string) (*model.Session, error) {
	row := r.db.QueryRow(`
		SELECT id, project_path_encoded, project_path_decoded, project_name,
			started_at, ended_at, message_count, summary
		FROM sessions WHERE id = ?
	`, id)
	return scanSession(row)
}

// ListByProject returns sessions whose decoded project path contains
// substr (case-sensitive), most recently started first.
func (r *SessionRepository) ListByProject(substr string, limit int) ([]model.Session, error) {
	rows, err := r.db.Query(`
		SELECT id, project_path_encoded, project_path_decoded, project_name,
			started_at, ended_at, message_count, summary
		FROM sessions WHERE instr(project_path_decoded, ?) > 0
		ORDER BY started_at DESC LIMIT ?
	`, substr, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions by project: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListRecent returns the most recently started sessions, newest first.
func (r *SessionRepository) ListRecent(limit int) ([]model.Session, error) {
	rows, err := r.db.Query(`
		SELECT id, project_path_encoded, project_path_decoded, project_name,
			started_at, ended_at, message_count, summary
		FROM sessions ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListAll returns every session, in insertion order, for full-store export.
func (r *SessionRepository) ListAll() ([]model.Session, error) {
	rows, err := r.db.Query(`
		SELECT id, project_path_encoded, project_path_decoded, project_name,
			started_at, ended_at, message_count, summary
		FROM sessions ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// UpdateSummary backfills the summary column for id. The update-only FTS
// trigger on sessions indexes the new value.
func (r *SessionRepository) UpdateSummary(id, summary string) error {
	_, err := r.db.Exec(`UPDATE sessions SET summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fmt.Errorf("update session summary: %w", err)
	}
	L_debug("repository: backfilled session summary", "id", id)
	return nil
}

// UpdateMessageCountAndEnded widens the cached message count and end
// instant on re-extraction.
func (r *SessionRepository) UpdateMessageCountAndEnded(id string, messageCount int, endedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE sessions SET message_count = ?, ended_at = ?
		WHERE id = ? AND (ended_at IS NULL OR ended_at < ?)
	`, messageCount, endedAt.Format(time.RFC3339), id, endedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("update session message count: %w", err)
	}
	return nil
}

func scanSession(row scannable) (*model.Session, error) {
	var id, encoded, decoded, name, startedAt string
	var ended, summary sql.NullString
	var messageCount int

	if err := row.Scan(&id, &encoded, &decoded, &name, &startedAt, &ended, &messageCount, &summary); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapScanErr("session", err)
	}

	started, _ := time.Parse(time.RFC3339, startedAt)
	s, err := model.NewSession(id, model.NewProjectPath(encoded, decoded), started)
	if err != nil {
		return nil, fmt.Errorf("rehydrate session: %w", err)
	}
	s = s.WithMessageCount(messageCount)
	if ended.Valid {
		t, _ := time.Parse(time.RFC3339, ended.String)
		s = s.WithEndedAt(t)
	}
	if summary.Valid {
		s = s.WithSummary(summary.String)
	}
	return &s, nil
}

func scanSessions(rows *sql.Rows) ([]model.Session, error) {
	var out []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, rows.Err()
}
