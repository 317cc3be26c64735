// Package store is the embedded SQLite store for ingested interactions and
// session save state. Handles are opened per invocation and passed explicitly
// into each operation; there is no package-level connection.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS save_states (
    log_id          TEXT PRIMARY KEY,
    session_id      TEXT NOT NULL,
    project_path    TEXT NOT NULL DEFAULT '',
    last_saved_at   TEXT NOT NULL DEFAULT '',
    last_saved_line INTEGER NOT NULL DEFAULT 0,
    committed       INTEGER NOT NULL DEFAULT 0,
    updated_at      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS interactions (
    log_id     TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    session_id TEXT NOT NULL,
    ts         TEXT NOT NULL DEFAULT '',
    role       TEXT NOT NULL,
    text       TEXT NOT NULL,
    meta       TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (log_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(session_id, ts);

CREATE VIRTUAL TABLE IF NOT EXISTS interactions_fts USING fts5(
    text,
    content=interactions,
    content_rowid=rowid,
    tokenize='unicode61'
);

-- triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS interactions_ai AFTER INSERT ON interactions BEGIN
    INSERT INTO interactions_fts(rowid, text) VALUES (new.rowid, new.text);
END;

CREATE TRIGGER IF NOT EXISTS interactions_ad AFTER DELETE ON interactions BEGIN
    INSERT INTO interactions_fts(interactions_fts, rowid, text) VALUES('delete', old.rowid, old.text);
END;

CREATE TRIGGER IF NOT EXISTS interactions_au AFTER UPDATE ON interactions BEGIN
    INSERT INTO interactions_fts(interactions_fts, rowid, text) VALUES('delete', old.rowid, old.text);
    INSERT INTO interactions_fts(rowid, text) VALUES (new.rowid, new.text);
END;

CREATE TABLE IF NOT EXISTS session_links (
    log_id     TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS file_touches (
    session_id TEXT NOT NULL,
    file_path  TEXT NOT NULL,
    tool_name  TEXT NOT NULL,
    ts         TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (session_id, file_path, tool_name)
);

CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);
`

// schemaVersion is bumped with every incompatible schema change; Open runs
// the migration step explicitly and surfaces its error instead of attempting
// best-effort ALTERs.
const schemaVersion = 1

type DB struct {
	db *sql.DB
}

func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return d, nil
}

func (d *DB) migrate() error {
	var raw string
	err := d.db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		raw = ""
	case err != nil:
		return err
	}

	current := 0
	if raw != "" {
		current, err = strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("bad schema_version %q: %w", raw, err)
		}
	}
	if current > schemaVersion {
		return fmt.Errorf("store schema version %d is newer than supported version %d", current, schemaVersion)
	}

	// no stepwise migrations yet; new tables are created by the schema DDL
	_, err = d.db.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)",
		strconv.Itoa(schemaVersion),
	)
	return err
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Raw() *sql.DB {
	return d.db
}

// counts used by the doctor self-check

func (d *DB) count(query string) (int, error) {
	var n int
	err := d.db.QueryRow(query).Scan(&n)
	return n, err
}

func (d *DB) SaveStateCount() (int, error)   { return d.count("SELECT COUNT(*) FROM save_states") }
func (d *DB) InteractionCount() (int, error) { return d.count("SELECT COUNT(*) FROM interactions") }
func (d *DB) LinkCount() (int, error)        { return d.count("SELECT COUNT(*) FROM session_links") }
func (d *DB) FileTouchCount() (int, error)   { return d.count("SELECT COUNT(*) FROM file_touches") }
func (d *DB) FTSCount() (int, error)         { return d.count("SELECT COUNT(*) FROM interactions_fts") }
