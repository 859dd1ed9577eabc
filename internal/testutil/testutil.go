// Package testutil provides shared fixtures: sample definitions, media files and
// a reader that opens a built package for inspection.
package testutil

import (
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/deckpack/internal/models"
)

// BasicDefinition returns the Spanish/Basic definition with one note.
func BasicDefinition() *models.PackageDefinition {
	return &models.PackageDefinition{
		Package: models.PackageInfo{Name: "Spanish Vocabulary", Version: "1.0.0"},
		Models: []models.ModelDefinition{{
			Name:   "Basic",
			Fields: []string{"Front", "Back"},
			Templates: []models.TemplateDefinition{{
				Name:  "Card 1",
				Front: "{{Front}}",
				Back:  "{{FrontSide}}<hr id=answer>{{Back}}",
			}},
		}},
		Decks: []models.DeckDefinition{{Name: "Spanish", Description: "Core words"}},
		Notes: []models.NoteDefinition{{
			Deck:   "Spanish",
			Model:  "Basic",
			Fields: map[string]string{"Front": "hola", "Back": "hello"},
			Tags:   []string{"greeting", "chapter1"},
		}},
	}
}

// ClozeDefinition returns a definition with one cloze model and one note
// carrying two deletions.
func ClozeDefinition() *models.PackageDefinition {
	return &models.PackageDefinition{
		Package: models.PackageInfo{Name: "Biology"},
		Models: []models.ModelDefinition{{
			Name:   "Cloze",
			Kind:   models.KindCloze,
			Fields: []string{"Text", "Extra"},
			Templates: []models.TemplateDefinition{{
				Name:  "Cloze",
				Front: "{{cloze:Text}}",
				Back:  "{{cloze:Text}}<br>{{Extra}}",
			}},
		}},
		Decks: []models.DeckDefinition{{Name: "Biology::Cells"}},
		Notes: []models.NoteDefinition{{
			Deck:  "Biology::Cells",
			Model: "Cloze",
			Fields: map[string]string{
				"Text":  "The {{c1::mitochondria}} is the {{c2::powerhouse}}",
				"Extra": "",
			},
		}},
	}
}

// WriteMedia writes content to name under a fresh temp dir and returns the dir.
func WriteMedia(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// Package is an opened .apkg: its collection database plus raw entries.
type Package struct {
	DB       *sql.DB
	Manifest map[string]string
	Entries  map[string][]byte
	Names    []string
}

// OpenPackage extracts the archive at path and opens its collection.
func OpenPackage(t *testing.T, path string) *Package {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()

	pkg := &Package{Entries: make(map[string][]byte)}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		pkg.Entries[f.Name] = data
		pkg.Names = append(pkg.Names, f.Name)
	}

	if raw, ok := pkg.Entries["media"]; ok {
		if err := json.Unmarshal(raw, &pkg.Manifest); err != nil {
			t.Fatalf("decode manifest: %v", err)
		}
	}

	pkg.DB = OpenCollection(t, pkg.Entries["collection.anki2"])
	return pkg
}

// OpenCollection writes database bytes to a temp file and opens it read-only.
func OpenCollection(t *testing.T, data []byte) *sql.DB {
	t.Helper()
	if len(data) == 0 {
		t.Fatal("empty collection")
	}
	dbPath := filepath.Join(t.TempDir(), "collection.anki2")
	if err := os.WriteFile(dbPath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		t.Fatalf("open collection: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Count returns SELECT COUNT(*) for a table.
func Count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// BasicYAML is BasicDefinition as a workspace definition file.
const BasicYAML = `package:
  name: Spanish Vocabulary
  version: 1.0.0
models:
  - name: Basic
    fields: [Front, Back]
    templates:
      - name: Card 1
        front: "{{Front}}"
        back: "{{FrontSide}}<hr id=answer>{{Back}}"
decks:
  - name: Spanish
    description: Core words
notes:
  - deck: Spanish
    model: Basic
    fields:
      Front: hola
      Back: hello
    tags: [greeting, chapter1]
`

// PNG is the smallest content http.DetectContentType reports as image/png.
var PNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
