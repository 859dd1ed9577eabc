// Package collection writes the legacy (schema 11) SQLite collection that the
// importer reads from a package.
package collection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/deckpack/internal/apperr"
)

// SchemaVersion is the collection format version stored in col.ver.
const SchemaVersion = 11

// FieldSeparator joins field values in notes.flds.
const FieldSeparator = "\x1f"

// Column order is part of the format and must not change.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS col (
	id     INTEGER PRIMARY KEY,
	crt    INTEGER NOT NULL,
	mod    INTEGER NOT NULL,
	scm    INTEGER NOT NULL,
	ver    INTEGER NOT NULL,
	dty    INTEGER NOT NULL,
	usn    INTEGER NOT NULL,
	ls     INTEGER NOT NULL,
	conf   TEXT NOT NULL,
	models TEXT NOT NULL,
	decks  TEXT NOT NULL,
	dconf  TEXT NOT NULL,
	tags   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	id    INTEGER PRIMARY KEY,
	guid  TEXT NOT NULL,
	mid   INTEGER NOT NULL,
	mod   INTEGER NOT NULL,
	usn   INTEGER NOT NULL,
	tags  TEXT NOT NULL,
	flds  TEXT NOT NULL,
	sfld  INTEGER NOT NULL,
	csum  INTEGER NOT NULL,
	flags INTEGER NOT NULL,
	data  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cards (
	id     INTEGER PRIMARY KEY,
	nid    INTEGER NOT NULL,
	did    INTEGER NOT NULL,
	ord    INTEGER NOT NULL,
	mod    INTEGER NOT NULL,
	usn    INTEGER NOT NULL,
	type   INTEGER NOT NULL,
	queue  INTEGER NOT NULL,
	due    INTEGER NOT NULL,
	ivl    INTEGER NOT NULL,
	factor INTEGER NOT NULL,
	reps   INTEGER NOT NULL,
	lapses INTEGER NOT NULL,
	left   INTEGER NOT NULL,
	odue   INTEGER NOT NULL,
	odid   INTEGER NOT NULL,
	flags  INTEGER NOT NULL,
	data   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revlog (
	id      INTEGER PRIMARY KEY,
	cid     INTEGER NOT NULL,
	usn     INTEGER NOT NULL,
	ease    INTEGER NOT NULL,
	ivl     INTEGER NOT NULL,
	lastIvl INTEGER NOT NULL,
	factor  INTEGER NOT NULL,
	time    INTEGER NOT NULL,
	type    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS graves (
	usn  INTEGER NOT NULL,
	oid  INTEGER NOT NULL,
	type INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_notes_usn ON notes (usn);
CREATE INDEX IF NOT EXISTS ix_cards_usn ON cards (usn);
CREATE INDEX IF NOT EXISTS ix_revlog_usn ON revlog (usn);
CREATE INDEX IF NOT EXISTS ix_cards_nid ON cards (nid);
CREATE INDEX IF NOT EXISTS ix_cards_sched ON cards (did, queue, due);
CREATE INDEX IF NOT EXISTS ix_revlog_cid ON revlog (cid);
CREATE INDEX IF NOT EXISTS ix_notes_csum ON notes (csum);
`

// create opens a new database file at path and applies the schema. The file
// must not exist yet.
func create(ctx context.Context, path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("collection: %s: %w", path, apperr.ErrAlreadyExists)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, apperr.WrapIO(path, err)
	}

	dsn, err := fileDSN(path)
	if err != nil {
		return nil, apperr.WrapIO(path, err)
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("collection: open db: %w", err)
	}
	// One connection keeps the whole build on a single file handle.
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, apperr.WrapIO(path, fmt.Errorf("collection: ping: %w", err))
	}
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		conn.Close()
		return nil, apperr.WrapIO(path, fmt.Errorf("collection: apply schema: %w", err))
	}
	return conn, nil
}

// fileDSN builds a SQLite URI for path. The path is escaped so that '#' and
// '?' in a directory name stay part of the file name.
func fileDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("collection: resolve path: %w", err)
	}
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(abs),
		RawQuery: "_journal_mode=DELETE&_sync=FULL",
	}
	return u.String(), nil
}
