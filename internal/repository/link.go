package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/model"
)

// LinkRepository persists and queries heterogeneous Link rows.
type LinkRepository struct {
	db querier
}

// Insert writes l, replacing any row sharing its unique key.
func (r *LinkRepository) Insert(l model.Link) error {
	_, err := r.db.Exec(`
		INSERT INTO links (source_kind, source_id, target_kind, target_id, relationship, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_kind, source_id, target_kind, target_id, relationship) DO UPDATE SET
			weight = excluded.weight,
			created_at = excluded.created_at
	`, string(l.SourceKind()), l.SourceID(), string(l.TargetKind()), l.TargetID(), string(l.Relationship()),
		l.Weight(), l.CreatedAt().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// InsertIgnore writes l, ignoring a collision on its unique key rather
// than replacing it. Used by import, which restores an exported store's
// own weights verbatim.
func (r *LinkRepository) InsertIgnore(l model.Link) error {
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO links (source_kind, source_id, target_kind, target_id, relationship, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(l.SourceKind()), l.SourceID(), string(l.TargetKind()), l.TargetID(), string(l.Relationship()),
		l.Weight(), l.CreatedAt().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert link (ignore): %w", err)
	}
	return nil
}

// ListBySource returns links originating at (kind, id).
func (r *LinkRepository) ListBySource(kind model.LinkKind, id string) ([]model.Link, error) {
	rows, err := r.db.Query(`
		SELECT source_kind, source_id, target_kind, target_id, relationship, weight, created_at
		FROM links WHERE source_kind = ? AND source_id = ?
	`, string(kind), id)
	if err != nil {
		return nil, fmt.Errorf("list links by source: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

// ListAll returns every heterogeneous link, for full-store export.
func (r *LinkRepository) ListAll() ([]model.Link, error) {
	rows, err := r.db.Query(`
		SELECT source_kind, source_id, target_kind, target_id, relationship, weight, created_at
		FROM links ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all links: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

func scanLinks(rows *sql.Rows) ([]model.Link, error) {
	var out []model.Link
	for rows.Next() {
		var sourceKind, targetKind, relationship, createdAt, sourceID, targetID string
		var weight float64
		if err := rows.Scan(&sourceKind, &sourceID, &targetKind, &targetID, &relationship, &weight, &createdAt); err != nil {
			return nil, wrapScanErr("link", err)
		}
		created, _ := time.Parse(time.RFC3339, createdAt)
		l, err := model.NewLink(model.LinkKind(sourceKind), sourceID, model.LinkKind(targetKind), targetID, model.Relationship(relationship), weight, created)
		if err != nil {
			return nil, fmt.Errorf("rehydrate link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SessionEntityRepository persists and queries session-to-entity links.
type SessionEntityRepository struct {
	db querier
}

// Insert writes se, summing frequency into any existing row for the pair.
func (r *SessionEntityRepository) Insert(se model.SessionEntity) error {
	_, err := r.db.Exec(`
		INSERT INTO session_entities (session_id, entity_id, frequency, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, entity_id) DO UPDATE SET
			frequency = session_entities.frequency + excluded.frequency
	`, se.SessionID(), se.EntityID(), se.Frequency(), time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert session entity: %w", err)
	}
	return nil
}

// InsertIgnore writes se, ignoring a collision on the (session, entity)
// pair rather than summing into it. Used by import, which restores an
// exported store's own frequencies verbatim.
func (r *SessionEntityRepository) InsertIgnore(se model.SessionEntity) error {
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO session_entities (session_id, entity_id, frequency, created_at)
		VALUES (?, ?, ?, ?)
	`, se.SessionID(), se.EntityID(), se.Frequency(), time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert session entity (ignore): %w", err)
	}
	return nil
}

// Frequency returns the recorded frequency for (sessionID, entityID), or 0
// if no link exists.
func (r *SessionEntityRepository) Frequency(sessionID string, entityID int64) (int, error) {
	var freq int
	err := r.db.QueryRow(`
		SELECT frequency FROM session_entities WHERE session_id = ? AND entity_id = ?
	`, sessionID, entityID).Scan(&freq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read session entity frequency: %w", err)
	}
	return freq, nil
}

// ListAll returns every session-to-entity link, for full-store export.
func (r *SessionEntityRepository) ListAll() ([]model.SessionEntity, error) {
	rows, err := r.db.Query(`
		SELECT session_id, entity_id, frequency FROM session_entities
		ORDER BY session_id ASC, entity_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all session entities: %w", err)
	}
	defer rows.Close()

	var out []model.SessionEntity
	for rows.Next() {
		var sessionID string
		var entityID int64
		var frequency int
		if err := rows.Scan(&sessionID, &entityID, &frequency); err != nil {
			return nil, wrapScanErr("session entity", err)
		}
		se, err := model.NewSessionEntity(sessionID, entityID, frequency)
		if err != nil {
			return nil, fmt.Errorf("rehydrate session entity: %w", err)
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

// EntityLinkRepository persists and queries entity-to-entity links.
type EntityLinkRepository struct {
	db querier
}

// Insert writes l, ignoring a (source, target, relationship) collision so
// the first insertion's weight survives.
func (r *EntityLinkRepository) Insert(l model.EntityLink) error {
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO entity_links (source_id, target_id, relationship, weight, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, l.SourceID(), l.TargetID(), string(l.Relationship()), l.Weight(), l.CreatedAt().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert entity link: %w", err)
	}
	return nil
}

// ListAll returns every entity-to-entity link, for full-store export.
func (r *EntityLinkRepository) ListAll() ([]model.EntityLink, error) {
	rows, err := r.db.Query(`
		SELECT source_id, target_id, relationship, weight, created_at
		FROM entity_links ORDER BY source_id ASC, target_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all entity links: %w", err)
	}
	defer rows.Close()
	return scanEntityLinks(rows)
}

// ListByEntity returns the entity links whose source is entityID.
func (r *EntityLinkRepository) ListByEntity(entityID int64) ([]model.EntityLink, error) {
	rows, err := r.db.Query(`
		SELECT source_id, target_id, relationship, weight, created_at
		FROM entity_links WHERE source_id = ?
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list entity links: %w", err)
	}
	defer rows.Close()
	return scanEntityLinks(rows)
}

func scanEntityLinks(rows *sql.Rows) ([]model.EntityLink, error) {
	var out []model.EntityLink
	for rows.Next() {
		var sourceID, targetID int64
		var relationship, createdAt string
		var weight float64
		if err := rows.Scan(&sourceID, &targetID, &relationship, &weight, &createdAt); err != nil {
			return nil, wrapScanErr("entity link", err)
		}
		created, _ := time.Parse(time.RFC3339, createdAt)
		l, err := model.NewEntityLink(sourceID, targetID, model.EntityRelationship(relationship), weight, created)
		if err != nil {
			return nil, fmt.Errorf("rehydrate entity link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
