package collection

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/ids"
	"github.com/starford/deckpack/internal/richtext"
)

// FileName is the collection's entry name inside a package.
const FileName = "collection.anki2"

// Stamp carries the two times a collection records. Created is the build
// clock (col.crt); Modified drives every mod/scm value. A zero Modified is
// the Unix epoch, which keeps repeated builds byte-comparable.
type Stamp struct {
	Created  time.Time
	Modified time.Time
}

func (s Stamp) created() int64 {
	if s.Created.IsZero() {
		return 0
	}
	return s.Created.Unix()
}

func (s Stamp) modSeconds() int64 {
	if s.Modified.IsZero() {
		return 0
	}
	return s.Modified.Unix()
}

func (s Stamp) modMillis() int64 {
	if s.Modified.IsZero() {
		return 0
	}
	return s.Modified.UnixMilli()
}

// Write creates a new collection file at path holding every note and card of
// the assignment. Nothing is committed unless every row is written.
func Write(ctx context.Context, path string, a *ids.Assignment, stamp Stamp) error {
	conn, err := create(ctx, path)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		_ = conn.Close()
		if !committed {
			_ = os.Remove(path)
		}
	}()

	mod := stamp.modSeconds()
	conf, err := encode("conf", confJSON(a))
	if err != nil {
		return err
	}
	modelsText, err := encode("models", modelsJSON(a, mod))
	if err != nil {
		return err
	}
	decksText, err := encode("decks", decksJSON(a, mod))
	if err != nil {
		return err
	}
	dconf, err := encode("dconf", dconfJSON())
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("collection: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO col (id, crt, mod, scm, ver, dty, usn, ls, conf, models, decks, dconf, tags)
		VALUES (1, ?, ?, ?, ?, 0, -1, 0, ?, ?, ?, ?, '{}')
	`, stamp.created(), stamp.modMillis(), stamp.modMillis(), SchemaVersion, conf, modelsText, decksText, dconf)
	if err != nil {
		return fmt.Errorf("collection: insert col: %w", err)
	}

	noteStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
		VALUES (?, ?, ?, ?, -1, ?, ?, ?, ?, 0, '')
	`)
	if err != nil {
		return fmt.Errorf("collection: prepare note insert: %w", err)
	}
	defer noteStmt.Close()

	cardStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cards (id, nid, did, ord, mod, usn, type, queue, due, ivl, factor, reps, lapses, left, odue, odid, flags, data)
		VALUES (?, ?, ?, ?, ?, -1, 0, 0, ?, 0, 0, 0, 0, 0, 0, 0, 0, '')
	`)
	if err != nil {
		return fmt.Errorf("collection: prepare card insert: %w", err)
	}
	defer cardStmt.Close()

	for _, n := range a.Notes {
		row, err := noteRowFor(n)
		if err != nil {
			return err
		}
		if _, err := noteStmt.ExecContext(ctx, n.ID, n.GUID, n.ModelID, mod, row.tags, row.flds, row.sfld, row.csum); err != nil {
			return fmt.Errorf("collection: insert note %d: %w", n.Position, err)
		}
		for _, c := range n.Cards {
			if _, err := cardStmt.ExecContext(ctx, c.ID, c.NoteID, c.DeckID, c.Ord, mod, n.Position); err != nil {
				return fmt.Errorf("collection: insert card %d/%d: %w", n.Position, c.Ord, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.WrapIO(path, fmt.Errorf("collection: commit: %w", err))
	}
	committed = true
	return nil
}

type noteRow struct {
	tags string
	flds string
	sfld string
	csum int64
}

func noteRowFor(n ids.Note) (noteRow, error) {
	fields, err := richtext.RenderFields(n.Model, n.Fields)
	if err != nil {
		return noteRow{}, fmt.Errorf("collection: note %d: %w", n.Position, err)
	}
	sort := ""
	if i := n.Model.SortFieldIndex(); i < len(fields) {
		sort = richtext.StripHTML(fields[i])
	}
	return noteRow{
		tags: n.Def.TagString(),
		flds: strings.Join(fields, FieldSeparator),
		sfld: sort,
		csum: Checksum(sort),
	}, nil
}

// Checksum is the importer's duplicate-detection key: the first 8 hex digits
// of the SHA-1 of the stripped sort field, read as an integer.
func Checksum(sortField string) int64 {
	sum := sha1.Sum([]byte(sortField))
	v, _ := strconv.ParseInt(hex.EncodeToString(sum[:])[:8], 16, 64)
	return v
}
