package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/model"
)

// MessageRepository persists and queries Message rows.
type MessageRepository struct {
	db querier
}

// Insert writes m, ignoring a duplicate id.
func (r *MessageRepository) Insert(m model.Message) error {
	_, err := r.insertVia(r.db, m)
	return err
}

// insertVia reports whether a row was actually written, so a batch caller
// can tell an ignored duplicate apart from a fresh insert.
func (r *MessageRepository) insertVia(q querier, m model.Message) (bool, error) {
	toolIDs, err := json.Marshal(m.ToolUseIDs())
	if err != nil {
		return false, fmt.Errorf("marshal tool use ids: %w", err)
	}
	res, err := q.Exec(`
		INSERT OR IGNORE INTO messages (id, session_id, role, body, occurred_at, tool_use_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID(), m.SessionID(), string(m.Role()), m.Body(), m.OccurredAt().Format(time.RFC3339), string(toolIDs), time.Now().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return affected > 0, nil
}

// BatchInsert writes messages in groups of up to 100, one chunk at a time.
// A duplicate id is ignored and counted as Skipped, not Inserted. Callers
// needing the whole batch in a single database transaction should run
// BatchInsert against a Repositories bound via WithTx.
func (r *MessageRepository) BatchInsert(messages []model.Message) BatchResult {
	var result BatchResult
	for _, batch := range chunk(messages, batchLimit) {
		for _, m := range batch {
			inserted, err := r.insertVia(r.db, m)
			if err != nil {
				result.Errors = append(result.Errors, err)
				result.Skipped++
				continue
			}
			if inserted {
				result.Inserted++
			} else {
				result.Skipped++
			}
		}
	}
	return result
}

// GetByID returns the message with id, or nil if absent.
func (r *MessageRepository) GetByID(id string) (*model.Message, error) {
	row := r.db.QueryRow(`
		SELECT id, session_id, role, body, occurred_at, tool_use_ids FROM messages WHERE id = ?
	`, id)
	return scanMessage(row)
}

// ListBySession returns a session's messages in chronological order.
func (r *MessageRepository) ListBySession(sessionID string) ([]model.Message, error) {
	rows, err := r.db.Query(`
		SELECT id, session_id, role, body, occurred_at, tool_use_ids FROM messages
		WHERE session_id = ? ORDER BY occurred_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages by session: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListAll returns every message, in insertion order, for full-store export.
func (r *MessageRepository) ListAll() ([]model.Message, error) {
	rows, err := r.db.Query(`
		SELECT id, session_id, role, body, occurred_at, tool_use_ids FROM messages ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessage(row scannable) (*model.Message, error) {
	var id, sessionID, role, body, occurredAt string
	var toolIDsJSON sql.NullString

	if err := row.Scan(&id, &sessionID, &role, &body, &occurredAt, &toolIDsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapScanErr("message", err)
	}

	var toolIDs []string
	if toolIDsJSON.Valid && toolIDsJSON.String != "" {
		_ = json.Unmarshal([]byte(toolIDsJSON.String), &toolIDs)
	}
	occurred, _ := time.Parse(time.RFC3339, occurredAt)
	m, err := model.NewMessage(id, sessionID, model.Role(role), body, occurred, toolIDs)
	if err != nil {
		return nil, fmt.Errorf("rehydrate message: %w", err)
	}
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, rows.Err()
}
