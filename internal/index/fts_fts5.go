//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			definition UNINDEXED,
			position UNINDEXED,
			body,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsInsert(tx *sql.Tx, definition string, n NoteRow) error {
	_, err := tx.Exec(`INSERT INTO notes_fts (definition, position, body, tags) VALUES (?, ?, ?, ?)`,
		definition, n.Position, n.Body, strings.Join(n.Tags, " "))
	if err != nil {
		return fmt.Errorf("index: insert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, definition string) error {
	if _, err := tx.Exec(`DELETE FROM notes_fts WHERE definition = ?`, definition); err != nil {
		return fmt.Errorf("index: delete fts: %w", err)
	}
	return nil
}

// Search performs an FTS5 full-text search and returns matching notes with snippets.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT n.definition, n.position, n.note_id, n.guid, n.deck, n.model, n.tags,
		       snippet(notes_fts, 2, '<b>', '</b>', '...', 32)
		FROM notes_fts
		JOIN notes n ON n.definition = notes_fts.definition AND n.position = notes_fts.position
		WHERE notes_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return scanResults(rows)
}
