package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/model"
	. "github.com/kepler-labs/transcriptvault/internal/logging"
)

// EntityRepository persists and queries Entity rows.
type EntityRepository struct {
	db querier
}

// Upsert inserts e, or on a (type, name_key) collision raises the stored
// confidence to max(old, new) and keeps the latest non-empty metadata,
// while the original row (and its id) survives — oldest record wins
// identity. Returns e with its persisted id and final confidence.
func (r *EntityRepository) Upsert(e model.Entity) (model.Entity, error) {
	metadataJSON, err := json.Marshal(e.Metadata())
	if err != nil {
		return model.Entity{}, fmt.Errorf("marshal entity metadata: %w", err)
	}

	row := r.db.QueryRow(`
		INSERT INTO entities (type, name, name_key, metadata, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, name_key) DO UPDATE SET
			confidence = MAX(entities.confidence, excluded.confidence),
			metadata = CASE WHEN excluded.metadata NOT IN ('{}', 'null') THEN excluded.metadata ELSE entities.metadata END
		RETURNING id, confidence, metadata
	`, string(e.Type()), e.Name(), e.NameKey(), string(metadataJSON), e.Confidence(), e.CreatedAt().Format(time.RFC3339))

	var id int64
	var confidence float64
	var storedMetadataJSON string
	if err := row.Scan(&id, &confidence, &storedMetadataJSON); err != nil {
		return model.Entity{}, fmt.Errorf("upsert entity: %w", err)
	}

	var storedMetadata map[string]any
	_ = json.Unmarshal([]byte(storedMetadataJSON), &storedMetadata)

	merged, err := model.NewEntity(e.Type(), e.Name(), storedMetadata, confidence, e.CreatedAt())
	if err != nil {
		return model.Entity{}, fmt.Errorf("rehydrate upserted entity: %w", err)
	}
	merged = merged.WithID(id)
	L_trace("repository: upserted entity", "type", e.Type(), "name_key", e.NameKey(), "id", id)
	return merged, nil
}

// InsertWithID writes e under the explicit id, ignoring a collision on
// either the primary key or the (type, name_key) unique constraint. Used
// by import, which restores an exported store's own ids verbatim rather
// than re-deriving identity through Upsert's merge policy.
func (r *EntityRepository) InsertWithID(id int64, e model.Entity) error {
	metadataJSON, err := json.Marshal(e.Metadata())
	if err != nil {
		return fmt.Errorf("marshal entity metadata: %w", err)
	}
	_, err = r.db.Exec(`
		INSERT OR IGNORE INTO entities (id, type, name, name_key, metadata, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, string(e.Type()), e.Name(), e.NameKey(), string(metadataJSON), e.Confidence(), e.CreatedAt().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert entity with id: %w", err)
	}
	return nil
}

// GetByID returns the entity with id, or nil if absent.
func (r *EntityRepository) GetByID(id int64) (*model.Entity, error) {
	row := r.db.QueryRow(`
		SELECT id, type, name, metadata, confidence, created_at FROM entities WHERE id = ?
	`, id)
	return scanEntity(row)
}

// ListByType returns up to limit entities of typ with confidence at least
// minConfidence, most recently created first.
func (r *EntityRepository) ListByType(typ model.EntityType, minConfidence float64, limit int) ([]model.Entity, error) {
	rows, err := r.db.Query(`
		SELECT id, type, name, metadata, confidence, created_at FROM entities
		WHERE type = ? AND confidence >= ? ORDER BY created_at DESC LIMIT ?
	`, string(typ), minConfidence, limit)
	if err != nil {
		return nil, fmt.Errorf("list entities by type: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// ListBySession returns the entities linked to sessionID via session_entities,
// most frequent first.
func (r *EntityRepository) ListBySession(sessionID string) ([]model.Entity, error) {
	rows, err := r.db.Query(`
		SELECT e.id, e.type, e.name, e.metadata, e.confidence, e.created_at
		FROM entities e
		JOIN session_entities se ON se.entity_id = e.id
		WHERE se.session_id = ?
		ORDER BY se.frequency DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list entities by session: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// ListAll returns every entity, in insertion order, for full-store export.
func (r *EntityRepository) ListAll() ([]model.Entity, error) {
	rows, err := r.db.Query(`
		SELECT id, type, name, metadata, confidence, created_at FROM entities ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func scanEntity(row scannable) (*model.Entity, error) {
	var id int64
	var typ, name, metadataJSON, createdAt string
	var confidence float64

	if err := row.Scan(&id, &typ, &name, &metadataJSON, &confidence, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapScanErr("entity", err)
	}

	var metadata map[string]any
	_ = json.Unmarshal([]byte(metadataJSON), &metadata)
	created, _ := time.Parse(time.RFC3339, createdAt)

	e, err := model.NewEntity(model.EntityType(typ), name, metadata, confidence, created)
	if err != nil {
		return nil, fmt.Errorf("rehydrate entity: %w", err)
	}
	e = e.WithID(id)
	return &e, nil
}

func scanEntities(rows *sql.Rows) ([]model.Entity, error) {
	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, *e)
		}
	}
	return out, rows.Err()
}
