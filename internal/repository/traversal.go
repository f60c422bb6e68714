package repository

import "fmt"

// TraversalResult is one edge reached while walking the entity-link graph
// outward from a seed entity.
type TraversalResult struct {
	TargetID     int64
	Relationship string
	Weight       float64
	Hops         int
}

// Traverse walks entity_links outward from seedID up to maxHops steps,
// via a recursive CTE. Cycles are prevented by tracking the visited path
// as a delimited string and rejecting any edge whose target already
// appears in it; weight attenuates multiplicatively per hop. Results are
// distinct by target, ordered by hop ascending then weight descending.
func (r *EntityLinkRepository) Traverse(seedID int64, maxHops int) ([]TraversalResult, error) {
	if maxHops < 1 {
		maxHops = 1
	}

	rows, err := r.db.Query(`
		WITH RECURSIVE walk(source_id, target_id, relationship, weight, hops, path) AS (
			SELECT source_id, target_id, relationship, weight, 1,
				'|' || source_id || '|' || target_id || '|'
			FROM entity_links
			WHERE source_id = ?

			UNION ALL

			SELECT el.source_id, el.target_id, el.relationship,
				walk.weight * el.weight, walk.hops + 1,
				walk.path || el.target_id || '|'
			FROM entity_links el
			JOIN walk ON el.source_id = walk.target_id
			WHERE walk.hops < ?
				AND walk.path NOT LIKE '%|' || el.target_id || '|%'
		)
		SELECT target_id, relationship, MAX(weight), MIN(hops)
		FROM walk
		GROUP BY target_id
		ORDER BY MIN(hops) ASC, MAX(weight) DESC
	`, seedID, maxHops)
	if err != nil {
		return nil, fmt.Errorf("traverse entity links: %w", err)
	}
	defer rows.Close()

	var out []TraversalResult
	for rows.Next() {
		var tr TraversalResult
		if err := rows.Scan(&tr.TargetID, &tr.Relationship, &tr.Weight, &tr.Hops); err != nil {
			return nil, wrapScanErr("traversal result", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
