// Package index keeps a SQLite index of the notes declared across workspace
// definitions, with optional FTS5 full-text search.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS definitions (
	path       TEXT PRIMARY KEY,
	package    TEXT NOT NULL DEFAULT '',
	checksum   TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS notes (
	definition TEXT    NOT NULL REFERENCES definitions(path) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	note_id    INTEGER NOT NULL,
	guid       TEXT    NOT NULL,
	deck       TEXT    NOT NULL,
	model      TEXT    NOT NULL,
	tags       TEXT    NOT NULL DEFAULT '[]',
	body       TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (definition, position)
);

CREATE INDEX IF NOT EXISTS idx_notes_guid ON notes(guid);
CREATE INDEX IF NOT EXISTS idx_notes_deck ON notes(deck);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
