// Package store owns the SQLite schema, its migrations, and connection
// bootstrapping for the extraction and storage engine.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kepler-labs/transcriptvault/internal/enginerr"
	. "github.com/kepler-labs/transcriptvault/internal/logging"
)

const schemaVersion = 1

// Migration is one forward-only schema step, applied at most once.
type Migration struct {
	Version int
	Up      string
}

var migrations = []Migration{
	{
		Version: 1,
		Up: `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_path_encoded TEXT NOT NULL,
	project_path_decoded TEXT NOT NULL,
	project_name TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	message_count INTEGER NOT NULL DEFAULT 0,
	summary TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_path_decoded);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	body TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	tool_use_ids TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_occurred ON messages(occurred_at);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	body,
	content='messages',
	content_rowid='rowid',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
	INSERT INTO messages_fts(rowid, body) VALUES (new.rowid, new.body);
END;
CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, body) VALUES ('delete', old.rowid, old.body);
END;
CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, body) VALUES ('delete', old.rowid, old.body);
	INSERT INTO messages_fts(rowid, body) VALUES (new.rowid, new.body);
END;

CREATE TABLE IF NOT EXISTS tool_uses (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	tool_name TEXT NOT NULL,
	input TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	status TEXT NOT NULL,
	result TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_uses_session ON tool_uses(session_id);
CREATE INDEX IF NOT EXISTS idx_tool_uses_name ON tool_uses(tool_name);

CREATE TABLE IF NOT EXISTS links (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_kind TEXT NOT NULL,
	source_id TEXT NOT NULL,
	target_kind TEXT NOT NULL,
	target_id TEXT NOT NULL,
	relationship TEXT NOT NULL,
	weight REAL NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(source_kind, source_id, target_kind, target_id, relationship)
);
CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_kind, source_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_kind, target_id);

CREATE TABLE IF NOT EXISTS topics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS extraction_state (
	id TEXT PRIMARY KEY,
	session_path TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	messages_extracted INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	last_mtime TEXT,
	last_size INTEGER
);

CREATE TABLE IF NOT EXISTS entities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	confidence REAL NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(type, name_key)
);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);

CREATE TABLE IF NOT EXISTS session_entities (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	frequency INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	PRIMARY KEY (session_id, entity_id)
);
CREATE INDEX IF NOT EXISTS idx_session_entities_entity ON session_entities(entity_id);

CREATE TABLE IF NOT EXISTS entity_links (
	source_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	target_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	relationship TEXT NOT NULL,
	weight REAL NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (source_id, target_id, relationship)
);
CREATE INDEX IF NOT EXISTS idx_entity_links_target ON entity_links(target_id);

CREATE VIRTUAL TABLE IF NOT EXISTS sessions_fts USING fts5(
	session_id UNINDEXED,
	summary,
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS sessions_au AFTER UPDATE OF summary ON sessions
WHEN new.summary IS NOT NULL AND new.summary != ''
BEGIN
	DELETE FROM sessions_fts WHERE session_id = old.id;
	INSERT INTO sessions_fts(session_id, summary) VALUES (new.id, new.summary);
END;
CREATE TRIGGER IF NOT EXISTS sessions_ad AFTER DELETE ON sessions BEGIN
	DELETE FROM sessions_fts WHERE session_id = old.id;
END;

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);
`,
	},
}

// Open opens (creating if absent) the SQLite store at dsn, applies pending
// migrations, and verifies FTS5 support. Foreign keys are enabled on this
// connection per spec.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON&_txlock=immediate")
	if err != nil {
		return nil, enginerr.Wrap(enginerr.DBConnectionFailed, "open store", err)
	}
	db.SetMaxOpenConns(1)

	if err := checkFTS5(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := InitSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	L_debug("store: opened", "dsn", dsn)
	return db, nil
}

// checkFTS5 verifies the driver was built with FTS5 support by attempting to
// create and drop a scratch virtual table.
func checkFTS5(db *sql.DB) error {
	if _, err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS fts5_probe USING fts5(x)`); err != nil {
		return enginerr.Wrap(enginerr.FTS5Unavailable, "sqlite3 driver lacks FTS5 support", err)
	}
	if _, err := db.Exec(`DROP TABLE IF EXISTS fts5_probe`); err != nil {
		return enginerr.Wrap(enginerr.FTS5Unavailable, "failed to clean up fts5 probe table", err)
	}
	return nil
}

// InitSchema applies any migrations not yet recorded in schema_version, in
// ascending version order. Safe to call on every connection open.
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return enginerr.Wrap(enginerr.DBConnectionFailed, "create schema_version table", err)
	}

	current := 0
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return enginerr.Wrap(enginerr.DBConnectionFailed, "read schema version", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return enginerr.Wrap(enginerr.DBConnectionFailed, "begin migration transaction", err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return enginerr.Wrap(enginerr.DBConnectionFailed, fmt.Sprintf("apply migration %d", m.Version), err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback()
			return enginerr.Wrap(enginerr.DBConnectionFailed, fmt.Sprintf("record migration %d", m.Version), err)
		}
		if err := tx.Commit(); err != nil {
			return enginerr.Wrap(enginerr.DBConnectionFailed, fmt.Sprintf("commit migration %d", m.Version), err)
		}
		L_info("store: applied migration", "version", m.Version)
	}

	return nil
}

// SchemaVersion returns the latest migration version this build knows about.
func SchemaVersion() int { return schemaVersion }
