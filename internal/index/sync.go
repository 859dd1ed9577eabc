package index

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/deckpack/internal/checksum"
	"github.com/starford/deckpack/internal/deckservice"
	"github.com/starford/deckpack/internal/ids"
	"github.com/starford/deckpack/internal/loader"
	"github.com/starford/deckpack/internal/richtext"
	"github.com/starford/deckpack/internal/storage"
	"github.com/starford/deckpack/internal/validator"
)

// Sync walks the definitions store and brings the index up to date:
//   - new/changed definitions are decoded and upserted
//   - definitions removed from disk are deleted from the index
//
// A definition that does not validate is dropped from the index until fixed.
func Sync(db NoteIndex, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List("", loader.Extensions...)
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		if checksums[m.Path] == m.Checksum {
			disk[m.Path] = struct{}{}
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(db, m.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		disk[m.Path] = struct{}{}
		logger.Debug("sync: indexed", slog.String("path", m.Path))
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteDefinition(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexFile decodes a definition, derives its note identities and upserts
// it into the index.
func IndexFile(db NoteIndex, name string, data []byte) error {
	format, err := loader.FormatFromPath(name)
	if err != nil {
		return err
	}
	def, err := loader.Parse(data, format)
	if err != nil {
		return err
	}
	if err := validator.Validate(def); err != nil {
		return err
	}
	a, err := ids.Derive(def)
	if err != nil {
		return err
	}

	notes := make([]NoteRow, len(a.Notes))
	for i, n := range a.Notes {
		text := make([]string, len(n.Fields))
		for j, f := range n.Fields {
			text[j] = richtext.StripHTML(f)
		}
		tags := n.Def.Tags
		if tags == nil {
			tags = []string{}
		}
		notes[i] = NoteRow{
			Position: n.Position,
			NoteID:   n.ID,
			GUID:     n.GUID,
			Deck:     n.Def.Deck,
			Model:    n.Model.Name,
			Tags:     tags,
			Body:     strings.Join(text, "\n"),
		}
	}

	row := DefinitionRow{
		Path:      name,
		Package:   deckservice.PackageName(name),
		Checksum:  checksum.Sum(data),
		UpdatedAt: time.Now(),
	}
	if err := db.UpsertDefinition(row, notes); err != nil {
		return fmt.Errorf("index %s: %w", name, err)
	}
	return nil
}
