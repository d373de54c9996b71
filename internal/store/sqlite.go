// Package store provides SQLite-backed persistence for dialogue sessions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id      TEXT PRIMARY KEY,
	agent_id        TEXT NOT NULL,
	domain_name     TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'active',
	state_version   INTEGER NOT NULL DEFAULT 1,
	turn            INTEGER NOT NULL DEFAULT 0,
	last_event_seq  INTEGER NOT NULL DEFAULT 0,
	created_at_unix INTEGER NOT NULL DEFAULT 0,
	updated_at_unix INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, updated_at_unix);

CREATE TABLE IF NOT EXISTS dialogue_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL REFERENCES sessions(session_id),
	seq_no       INTEGER NOT NULL,
	turn         INTEGER NOT NULL DEFAULT 0,
	event_type   TEXT NOT NULL,
	speaker      TEXT NOT NULL DEFAULT '',
	payload_json TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL,
	UNIQUE(session_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_events_session_seq ON dialogue_events(session_id, seq_no);

CREATE TABLE IF NOT EXISTS state_snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(session_id),
	turn       INTEGER NOT NULL DEFAULT 0,
	state_json TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session_turn ON state_snapshots(session_id, turn);

CREATE TABLE IF NOT EXISTS rule_traces (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(session_id),
	turn       INTEGER NOT NULL,
	seq        INTEGER NOT NULL,
	phase      TEXT NOT NULL,
	rule       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traces_session_turn ON rule_traces(session_id, turn, seq);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL allows concurrent readers but a single writer.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
