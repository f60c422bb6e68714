package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/model"
)

// ExtractionStateRepository persists and queries ExtractionState rows.
type ExtractionStateRepository struct {
	db querier
}

// Save writes st, replacing any prior row for its id or session path.
func (r *ExtractionStateRepository) Save(st model.ExtractionState) error {
	var completedAt *string
	if c := st.CompletedAt(); c != nil {
		v := c.Format(time.RFC3339)
		completedAt = &v
	}
	var lastMTime *string
	if m := st.LastMTime(); m != nil {
		v := m.Format(time.RFC3339)
		lastMTime = &v
	}

	_, err := r.db.Exec(`
		INSERT INTO extraction_state (
			id, session_path, status, started_at, completed_at,
			messages_extracted, error_message, last_mtime, last_size
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_path = excluded.session_path,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			messages_extracted = excluded.messages_extracted,
			error_message = excluded.error_message,
			last_mtime = excluded.last_mtime,
			last_size = excluded.last_size
		ON CONFLICT(session_path) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			messages_extracted = excluded.messages_extracted,
			error_message = excluded.error_message,
			last_mtime = excluded.last_mtime,
			last_size = excluded.last_size
	`, st.ID(), st.SessionPath(), string(st.Status()), st.StartedAt().Format(time.RFC3339), completedAt,
		st.MessagesExtracted(), st.ErrorMessage(), lastMTime, st.LastSize())
	if err != nil {
		return fmt.Errorf("save extraction state: %w", err)
	}
	return nil
}

// InsertIgnore writes st, ignoring a collision on either unique key rather
// than replacing the existing row. Used by import, which restores an
// exported store's own states verbatim.
func (r *ExtractionStateRepository) InsertIgnore(st model.ExtractionState) error {
	var completedAt *string
	if c := st.CompletedAt(); c != nil {
		v := c.Format(time.RFC3339)
		completedAt = &v
	}
	var lastMTime *string
	if m := st.LastMTime(); m != nil {
		v := m.Format(time.RFC3339)
		lastMTime = &v
	}
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO extraction_state (
			id, session_path, status, started_at, completed_at,
			messages_extracted, error_message, last_mtime, last_size
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, st.ID(), st.SessionPath(), string(st.Status()), st.StartedAt().Format(time.RFC3339), completedAt,
		st.MessagesExtracted(), st.ErrorMessage(), lastMTime, st.LastSize())
	if err != nil {
		return fmt.Errorf("insert extraction state (ignore): %w", err)
	}
	return nil
}

// GetByPath returns the extraction state for sessionPath, or nil if absent.
func (r *ExtractionStateRepository) GetByPath(sessionPath string) (*model.ExtractionState, error) {
	row := r.db.QueryRow(`
		SELECT id, session_path, status, started_at, completed_at,
			messages_extracted, error_message, last_mtime, last_size
		FROM extraction_state WHERE session_path = ?
	`, sessionPath)
	return scanExtractionState(row)
}

// ListPending returns every extraction state whose status is not complete,
// plus any session path that has no recorded state at all is the caller's
// responsibility to detect by diffing against discovery (this method only
// reports rows that exist and are incomplete).
func (r *ExtractionStateRepository) ListPending() ([]model.ExtractionState, error) {
	rows, err := r.db.Query(`
		SELECT id, session_path, status, started_at, completed_at,
			messages_extracted, error_message, last_mtime, last_size
		FROM extraction_state WHERE status != ?
	`, string(model.ExtractionComplete))
	if err != nil {
		return nil, fmt.Errorf("list pending extraction states: %w", err)
	}
	defer rows.Close()

	var out []model.ExtractionState
	for rows.Next() {
		st, err := scanExtractionState(rows)
		if err != nil {
			return nil, err
		}
		if st != nil {
			out = append(out, *st)
		}
	}
	return out, rows.Err()
}

// ListAll returns every extraction state, for full-store export.
func (r *ExtractionStateRepository) ListAll() ([]model.ExtractionState, error) {
	rows, err := r.db.Query(`
		SELECT id, session_path, status, started_at, completed_at,
			messages_extracted, error_message, last_mtime, last_size
		FROM extraction_state ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all extraction states: %w", err)
	}
	defer rows.Close()

	var out []model.ExtractionState
	for rows.Next() {
		st, err := scanExtractionState(rows)
		if err != nil {
			return nil, err
		}
		if st != nil {
			out = append(out, *st)
		}
	}
	return out, rows.Err()
}

func scanExtractionState(row scannable) (*model.ExtractionState, error) {
	var id, sessionPath, status, startedAt string
	var completedAt, lastMTime sql.NullString
	var messagesExtracted int
	var errorMessage sql.NullString
	var lastSize sql.NullInt64

	if err := row.Scan(&id, &sessionPath, &status, &startedAt, &completedAt,
		&messagesExtracted, &errorMessage, &lastMTime, &lastSize); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapScanErr("extraction state", err)
	}

	started, _ := time.Parse(time.RFC3339, startedAt)
	mtime := started
	var size int64
	if lastMTime.Valid {
		mtime, _ = time.Parse(time.RFC3339, lastMTime.String)
	}
	if lastSize.Valid {
		size = lastSize.Int64
	}

	st, err := model.NewExtractionState(id, sessionPath, started, mtime, size)
	if err != nil {
		return nil, fmt.Errorf("rehydrate extraction state: %w", err)
	}

	switch model.ExtractionStatus(status) {
	case model.ExtractionInProgress:
		st = st.WithInProgress()
		st = st.WithIncrementMessages(messagesExtracted)
	case model.ExtractionComplete:
		st = st.WithInProgress()
		st = st.WithIncrementMessages(messagesExtracted)
		if completedAt.Valid {
			ts, _ := time.Parse(time.RFC3339, completedAt.String)
			st, err = st.WithComplete(ts)
			if err != nil {
				return nil, fmt.Errorf("rehydrate completed extraction state: %w", err)
			}
		}
	case model.ExtractionError:
		st = st.WithIncrementMessages(messagesExtracted)
		if errorMessage.Valid {
			st = st.WithError(errorMessage.String)
		}
	}

	return &st, nil
}
