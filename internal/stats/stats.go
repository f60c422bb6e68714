// Package stats answers project-scoped aggregate reads over the store:
// session counts, message breakdowns, recent tool usage, and recent
// topics, all windowed by a trailing number of days.
package stats

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/repository"
)

// ToolUseCount is one entry of a recent-tool-uses breakdown.
type ToolUseCount struct {
	Name  string
	Count int
}

// Context is the aggregate view of one project within a time window.
type Context struct {
	ProjectName       string
	DecodedPath       string
	SessionCount      int
	TotalMessages     int
	UserMessages      int
	AssistantMessages int
	RecentTopics      []string
	RecentToolUses    []ToolUseCount
	LastActivity      *time.Time
}

// Query resolves projectQuery to a candidate project — an exact,
// case-insensitive name match if one exists, otherwise the project with
// the most sessions whose name contains projectQuery — then aggregates
// that project's activity over the trailing days window. It returns nil,
// nil if no candidate project exists, or if the candidate has no
// sessions within the window.
func Query(repos *repository.Repositories, projectQuery string, days int) (*Context, error) {
	name, decodedPath, found, err := resolveProject(repos, projectQuery)
	if err != nil {
		return nil, fmt.Errorf("resolve project: %w", err)
	}
	if !found {
		return nil, nil
	}

	cutoff := cutoffFor(days)

	sessionCount, lastActivity, err := sessionWindow(repos, name, cutoff)
	if err != nil {
		return nil, fmt.Errorf("aggregate session window: %w", err)
	}
	if sessionCount == 0 {
		return nil, nil
	}

	totalMessages, userMessages, assistantMessages, err := messageCounts(repos, name, cutoff)
	if err != nil {
		return nil, fmt.Errorf("aggregate message counts: %w", err)
	}

	toolUses, err := recentToolUses(repos, name, cutoff)
	if err != nil {
		return nil, fmt.Errorf("aggregate recent tool uses: %w", err)
	}

	topics, err := recentTopics(repos, name, cutoff)
	if err != nil {
		return nil, fmt.Errorf("aggregate recent topics: %w", err)
	}

	return &Context{
		ProjectName:       name,
		DecodedPath:       decodedPath,
		SessionCount:      sessionCount,
		TotalMessages:     totalMessages,
		UserMessages:      userMessages,
		AssistantMessages: assistantMessages,
		RecentTopics:      topics,
		RecentToolUses:    toolUses,
		LastActivity:      lastActivity,
	}, nil
}

// cutoffFor returns the RFC3339 window floor for days, or "" (matching
// every instant) when days is non-positive — an unbounded window.
func cutoffFor(days int) string {
	if days <= 0 {
		return ""
	}
	return time.Now().AddDate(0, 0, -days).Format(time.RFC3339)
}

func resolveProject(repos *repository.Repositories, projectQuery string) (name, decodedPath string, found bool, err error) {
	row := repos.QueryRow(`
		SELECT project_name, project_path_decoded FROM sessions
		WHERE project_name = ? COLLATE NOCASE
		ORDER BY started_at DESC LIMIT 1
	`, projectQuery)
	if err := row.Scan(&name, &decodedPath); err == nil {
		return name, decodedPath, true, nil
	} else if err != sql.ErrNoRows {
		return "", "", false, fmt.Errorf("resolve exact project match: %w", err)
	}

	row = repos.QueryRow(`
		SELECT project_name, project_path_decoded, COUNT(*) AS session_count FROM sessions
		WHERE project_name LIKE '%' || ? || '%'
		GROUP BY project_name
		ORDER BY session_count DESC LIMIT 1
	`, projectQuery)
	var count int
	if err := row.Scan(&name, &decodedPath, &count); err != nil {
		if err == sql.ErrNoRows {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("resolve substring project match: %w", err)
	}
	return name, decodedPath, true, nil
}

func sessionWindow(repos *repository.Repositories, projectName, cutoff string) (int, *time.Time, error) {
	row := repos.QueryRow(`
		SELECT COUNT(*), MAX(started_at) FROM sessions
		WHERE project_name = ? AND started_at >= ?
	`, projectName, cutoff)

	var count int
	var maxStarted sql.NullString
	if err := row.Scan(&count, &maxStarted); err != nil {
		return 0, nil, err
	}
	if count == 0 || !maxStarted.Valid {
		return count, nil, nil
	}
	t, err := time.Parse(time.RFC3339, maxStarted.String)
	if err != nil {
		return count, nil, nil
	}
	return count, &t, nil
}

func messageCounts(repos *repository.Repositories, projectName, cutoff string) (total, user, assistant int, err error) {
	row := repos.QueryRow(`
		SELECT
			COUNT(*),
			SUM(CASE WHEN m.role = 'user' THEN 1 ELSE 0 END),
			SUM(CASE WHEN m.role = 'assistant' THEN 1 ELSE 0 END)
		FROM messages m
		JOIN sessions s ON s.id = m.session_id
		WHERE s.project_name = ? AND s.started_at >= ?
	`, projectName, cutoff)

	var totalN sql.NullInt64
	var userN, assistantN sql.NullInt64
	if err := row.Scan(&totalN, &userN, &assistantN); err != nil {
		return 0, 0, 0, err
	}
	return int(totalN.Int64), int(userN.Int64), int(assistantN.Int64), nil
}

func recentToolUses(repos *repository.Repositories, projectName, cutoff string) ([]ToolUseCount, error) {
	rows, err := repos.Query(`
		SELECT t.tool_name, COUNT(*) AS uses FROM tool_uses t
		JOIN sessions s ON s.id = t.session_id
		WHERE s.project_name = ? AND s.started_at >= ? AND t.occurred_at >= ?
		GROUP BY t.tool_name
		ORDER BY uses DESC
	`, projectName, cutoff, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ToolUseCount
	for rows.Next() {
		var c ToolUseCount
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func recentTopics(repos *repository.Repositories, projectName, cutoff string) ([]string, error) {
	rows, err := repos.Query(`
		SELECT l.target_id FROM links l
		JOIN sessions s ON s.id = l.source_id AND l.source_kind = 'session'
		WHERE l.target_kind = 'topic' AND s.project_name = ? AND s.started_at >= ? AND l.created_at >= ?
		ORDER BY l.weight DESC
	`, projectName, cutoff, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var targetID string
		if err := rows.Scan(&targetID); err != nil {
			return nil, err
		}
		out = append(out, targetID)
	}
	return out, rows.Err()
}
