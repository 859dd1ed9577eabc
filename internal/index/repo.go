package index

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefinitionRow represents a row in the definitions table.
type DefinitionRow struct {
	Path      string
	Package   string
	Checksum  string
	UpdatedAt time.Time
}

// NoteRow is one indexed note. Body holds the plain text of its fields.
type NoteRow struct {
	Position int
	NoteID   int64
	GUID     string
	Deck     string
	Model    string
	Tags     []string
	Body     string
}

// SearchResult represents one search hit.
type SearchResult struct {
	Definition string   `json:"definition"`
	Position   int      `json:"position"`
	NoteID     int64    `json:"note_id"`
	GUID       string   `json:"guid"`
	Deck       string   `json:"deck"`
	Model      string   `json:"model"`
	Tags       []string `json:"tags"`
	Snippet    string   `json:"snippet"`
}

// UpsertDefinition replaces a definition and all of its notes within a transaction.
func (db *DB) UpsertDefinition(d DefinitionRow, notes []NoteRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO definitions (path, package, checksum, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			package    = excluded.package,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, d.Path, d.Package, d.Checksum, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert definition: %w", err)
	}

	if err := ftsDelete(tx, d.Path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM notes WHERE definition = ?`, d.Path); err != nil {
		return fmt.Errorf("index: clear notes: %w", err)
	}

	if len(notes) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO notes (definition, position, note_id, guid, deck, model, tags, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("index: prepare note insert: %w", err)
		}
		defer stmt.Close()
		for _, n := range notes {
			tagsJSON, _ := json.Marshal(n.Tags)
			if _, err := stmt.Exec(d.Path, n.Position, n.NoteID, n.GUID, n.Deck, n.Model, string(tagsJSON), n.Body); err != nil {
				return fmt.Errorf("index: insert note: %w", err)
			}
			// FTS upsert (no-op when FTS5 tag is absent).
			if err := ftsInsert(tx, d.Path, n); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// DeleteDefinition removes a definition and its notes.
func (db *DB) DeleteDefinition(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDelete(tx, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM notes WHERE definition = ?`, path); err != nil {
		return fmt.Errorf("index: delete notes: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM definitions WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete definition: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for a definition, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM definitions WHERE path = ?`, path).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// AllChecksums returns path -> checksum for every indexed definition.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM definitions`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// FindGUID returns every note carrying guid. More than one hit means two
// definitions declare the same note.
func (db *DB) FindGUID(guid string) ([]SearchResult, error) {
	rows, err := db.conn.Query(`
		SELECT definition, position, note_id, guid, deck, model, tags, substr(body, 1, 200)
		FROM notes
		WHERE guid = ?
		ORDER BY definition, position
	`, guid)
	if err != nil {
		return nil, fmt.Errorf("index: find guid: %w", err)
	}
	return scanResults(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// scanResults reads rows selected as
// definition, position, note_id, guid, deck, model, tags, snippet.
func scanResults(rows rowScanner) ([]SearchResult, error) {
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var tags string
		if err := rows.Scan(&r.Definition, &r.Position, &r.NoteID, &r.GUID, &r.Deck, &r.Model, &tags, &r.Snippet); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, fmt.Errorf("index: decode tags: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
