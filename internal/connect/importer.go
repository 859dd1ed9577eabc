package connect

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/ids"
	"github.com/starford/deckpack/internal/media"
	"github.com/starford/deckpack/internal/models"
	"github.com/starford/deckpack/internal/richtext"
	"github.com/starford/deckpack/internal/storage"
	"github.com/starford/deckpack/internal/validator"
)

// ImportResult reports what one import changed in the running instance.
type ImportResult struct {
	DecksCreated  int            `json:"decks_created"`
	ModelsCreated int            `json:"models_created"`
	MediaStored   int            `json:"media_stored"`
	NotesCreated  int            `json:"notes_created"`
	NotesSkipped  int            `json:"notes_skipped"`
	Errors        map[int]string `json:"errors,omitempty"` // note position -> reason
}

// Importer pushes definitions into a running instance. It shares validation
// and identifier derivation with the package builder but writes nothing to disk.
type Importer struct {
	client         *Client
	resolve        media.Resolver
	allowDuplicate bool
	logger         *slog.Logger
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithMediaDir sets the directory relative media paths resolve against.
func WithMediaDir(dir string) ImporterOption {
	return func(i *Importer) { i.resolve = media.Dir(dir) }
}

// WithMediaLibrary confines media paths to lib.
func WithMediaLibrary(lib *storage.FS) ImporterOption {
	return func(i *Importer) { i.resolve = media.Library(lib) }
}

// WithAllowDuplicate lets notes whose first field already exists be added.
func WithAllowDuplicate(allow bool) ImporterOption {
	return func(i *Importer) { i.allowDuplicate = allow }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ImporterOption {
	return func(i *Importer) { i.logger = l }
}

// NewImporter creates an Importer using client.
func NewImporter(client *Client, opts ...ImporterOption) *Importer {
	i := &Importer{client: client, resolve: media.Dir(""), logger: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Import validates def, creates missing decks and note types, stores media and
// adds every note in one batch. Rejected notes are counted and reported, not
// returned as an error.
func (i *Importer) Import(ctx context.Context, def *models.PackageDefinition) (*ImportResult, error) {
	if err := validator.Validate(def); err != nil {
		return nil, err
	}
	a, err := ids.Derive(def)
	if err != nil {
		return nil, err
	}

	// Read media before touching the remote so a missing file changes nothing.
	encoded, err := i.readMedia(def.Media)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{Errors: make(map[int]string)}

	existingDecks, err := i.client.DeckNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range a.Decks {
		if slices.Contains(existingDecks, d.Name) {
			continue
		}
		if _, err := i.client.CreateDeck(ctx, d.Name); err != nil {
			return nil, err
		}
		existingDecks = append(existingDecks, d.Name)
		res.DecksCreated++
	}

	existingModels, err := i.client.ModelNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range a.Models {
		if slices.Contains(existingModels, m.Def.Name) {
			continue
		}
		if err := i.client.CreateModel(ctx, createModelParams(m.Def)); err != nil {
			return nil, err
		}
		res.ModelsCreated++
	}

	for idx, ref := range def.Media {
		if _, err := i.client.StoreMediaFile(ctx, ref.Name, encoded[idx]); err != nil {
			return nil, err
		}
		res.MediaStored++
	}

	notes := make([]Note, 0, len(a.Notes))
	for _, n := range a.Notes {
		note, err := i.noteFor(n)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	if len(notes) > 0 {
		added, err := i.client.AddNotes(ctx, notes)
		if err != nil {
			return nil, err
		}
		for idx, n := range a.Notes {
			if idx < len(added) && added[idx] != nil {
				res.NotesCreated++
				continue
			}
			res.NotesSkipped++
			res.Errors[n.Position] = "note was rejected (duplicate or empty first field)"
		}
	}

	i.logger.Info("import finished",
		slog.String("package", def.Package.Name),
		slog.Int("decks_created", res.DecksCreated),
		slog.Int("models_created", res.ModelsCreated),
		slog.Int("notes_created", res.NotesCreated),
		slog.Int("notes_skipped", res.NotesSkipped))
	return res, nil
}

func (i *Importer) readMedia(refs []models.MediaReference) ([]string, error) {
	out := make([]string, len(refs))
	for idx, ref := range refs {
		path, err := i.resolve(ref)
		if err != nil {
			return nil, &apperr.MediaError{Name: ref.Name, Path: ref.Path, Err: err}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &apperr.MediaError{Name: ref.Name, Path: path, Err: err}
		}
		out[idx] = base64.StdEncoding.EncodeToString(data)
	}
	return out, nil
}

func (i *Importer) noteFor(n ids.Note) (Note, error) {
	values, err := richtext.RenderFields(n.Model, n.Fields)
	if err != nil {
		return Note{}, fmt.Errorf("connect: note %d: %w", n.Position, err)
	}
	fields := make(map[string]string, len(values))
	for idx, name := range n.Model.Fields {
		fields[name] = values[idx]
	}
	tags := n.Def.Tags
	if tags == nil {
		tags = []string{}
	}
	return Note{
		DeckName:  n.Def.Deck,
		ModelName: n.Model.Name,
		Fields:    fields,
		Tags:      tags,
		Options:   &NoteOptions{AllowDuplicate: i.allowDuplicate, DuplicateScope: "deck"},
	}, nil
}

func createModelParams(m *models.ModelDefinition) CreateModelParams {
	p := CreateModelParams{
		ModelName:     m.Name,
		InOrderFields: m.Fields,
		CSS:           m.CSS,
		IsCloze:       m.IsCloze(),
	}
	for _, t := range m.Templates {
		p.CardTemplates = append(p.CardTemplates, CardTemplate{Name: t.Name, Front: t.Front, Back: t.Back})
	}
	return p
}
