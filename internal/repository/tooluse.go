package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/model"
)

// ToolUseRepository persists and queries ToolUse rows.
type ToolUseRepository struct {
	db querier
}

// Insert writes t, ignoring a duplicate id.
func (r *ToolUseRepository) Insert(t model.ToolUse) error {
	_, err := r.insertVia(r.db, t)
	return err
}

// insertVia reports whether a row was actually written, so a batch caller
// can tell an ignored duplicate apart from a fresh insert.
func (r *ToolUseRepository) insertVia(q querier, t model.ToolUse) (bool, error) {
	inputJSON, err := json.Marshal(t.Input())
	if err != nil {
		return false, fmt.Errorf("marshal tool use input: %w", err)
	}
	res, err := q.Exec(`
		INSERT OR IGNORE INTO tool_uses (id, session_id, tool_name, input, occurred_at, status, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID(), t.SessionID(), t.ToolName(), string(inputJSON), t.OccurredAt().Format(time.RFC3339),
		string(t.Status()), t.Result(), time.Now().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("insert tool use: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert tool use: %w", err)
	}
	return affected > 0, nil
}

// BatchInsert writes tool uses in groups of up to 100, one chunk at a time.
// A duplicate id is ignored and counted as Skipped, not Inserted. Callers
// needing the whole batch in a single database transaction should run
// BatchInsert against a Repositories bound via WithTx.
func (r *ToolUseRepository) BatchInsert(toolUses []model.ToolUse) BatchResult {
	var result BatchResult
	for _, batch := range chunk(toolUses, batchLimit) {
		for _, t := range batch {
			inserted, err := r.insertVia(r.db, t)
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

// GetByID returns the tool use with id, or nil if absent.
func (r *ToolUseRepository) GetByID(id string) (*model.ToolUse, error) {
	row := r.db.QueryRow(`
		SELECT id, session_id, tool_name, input, occurred_at, status, result
		FROM tool_uses WHERE id = ?
	`, id)
	return scanToolUse(row)
}

// ListBySession returns a session's tool uses in chronological order.
func (r *ToolUseRepository) ListBySession(sessionID string) ([]model.ToolUse, error) {
	rows, err := r.db.Query(`
		SELECT id, session_id, tool_name, input, occurred_at, status, result
		FROM tool_uses WHERE session_id = ? ORDER BY occurred_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tool uses by session: %w", err)
	}
	defer rows.Close()
	return scanToolUses(rows)
}

// ListAll returns every tool use, in insertion order, for full-store export.
func (r *ToolUseRepository) ListAll() ([]model.ToolUse, error) {
	rows, err := r.db.Query(`
		SELECT id, session_id, tool_name, input, occurred_at, status, result
		FROM tool_uses ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all tool uses: %w", err)
	}
	defer rows.Close()
	return scanToolUses(rows)
}

func scanToolUse(row scannable) (*model.ToolUse, error) {
	var id, sessionID, toolName, occurredAt, status, inputJSON string
	var result sql.NullString

	if err := row.Scan(&id, &sessionID, &toolName, &inputJSON, &occurredAt, &status, &result); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapScanErr("tool use", err)
	}

	var input map[string]any
	_ = json.Unmarshal([]byte(inputJSON), &input)
	occurred, _ := time.Parse(time.RFC3339, occurredAt)

	t, err := model.NewToolUse(id, sessionID, toolName, input, occurred)
	if err != nil {
		return nil, fmt.Errorf("rehydrate tool use: %w", err)
	}
	if result.Valid {
		t = t.WithResult(result.String, model.ToolUseStatus(status) == model.ToolUseError)
	}
	return &t, nil
}

func scanToolUses(rows *sql.Rows) ([]model.ToolUse, error) {
	var out []model.ToolUse
	for rows.Next() {
		t, err := scanToolUse(rows)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, rows.Err()
}
