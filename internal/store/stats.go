package store

import "database/sql"

// Stats is a cheap row-count summary across the store's core tables.
type Stats struct {
	Sessions         int
	Messages         int
	ToolUses         int
	Entities         int
	Links            int
	ExtractionStates int
}

// ReadStats computes a Stats snapshot. Intended for diagnostics, not for the
// project-scoped aggregate queries of component K.
func ReadStats(db *sql.DB) (Stats, error) {
	var s Stats
	queries := []struct {
		table string
		dest  *int
	}{
		{"sessions", &s.Sessions},
		{"messages", &s.Messages},
		{"tool_uses", &s.ToolUses},
		{"entities", &s.Entities},
		{"links", &s.Links},
		{"extraction_state", &s.ExtractionStates},
	}
	for _, q := range queries {
		row := db.QueryRow("SELECT COUNT(*) FROM " + q.table)
		if err := row.Scan(q.dest); err != nil {
			return Stats{}, err
		}
	}
	return s, nil
}
