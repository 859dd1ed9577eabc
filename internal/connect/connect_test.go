package connect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/models"
	"github.com/starford/deckpack/internal/storage"
	"github.com/starford/deckpack/internal/testutil"
)

const testURL = "http://anki.test:8765"

type envelope struct {
	Action  string          `json:"action"`
	Version int             `json:"version"`
	Key     string          `json:"key"`
	Params  json.RawMessage `json:"params"`
}

// fakeAnki is an in-memory AnkiConnect that records every action.
type fakeAnki struct {
	t       *testing.T
	decks   []string
	models  []string
	actions []envelope
	notes   []Note
	media   map[string]string
	// reject marks addNotes positions (0-based) that come back null.
	reject map[int]bool
}

func (f *fakeAnki) respond(req *http.Request) (*http.Response, error) {
	var env envelope
	if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
		f.t.Fatalf("decode request: %v", err)
	}
	f.actions = append(f.actions, env)

	var result any
	switch env.Action {
	case "version":
		result = APIVersion
	case "deckNames":
		result = f.decks
	case "createDeck":
		var p struct{ Deck string }
		_ = json.Unmarshal(env.Params, &p)
		f.decks = append(f.decks, p.Deck)
		result = 1234
	case "modelNames":
		result = f.models
	case "createModel":
		var p CreateModelParams
		_ = json.Unmarshal(env.Params, &p)
		f.models = append(f.models, p.ModelName)
		result = map[string]any{"name": p.ModelName}
	case "storeMediaFile":
		var p struct{ Filename, Data string }
		_ = json.Unmarshal(env.Params, &p)
		f.media[p.Filename] = p.Data
		result = p.Filename
	case "addNotes":
		var p struct{ Notes []Note }
		_ = json.Unmarshal(env.Params, &p)
		f.notes = append(f.notes, p.Notes...)
		out := make([]any, len(p.Notes))
		for i := range p.Notes {
			if !f.reject[i] {
				out[i] = 1000 + i
			}
		}
		result = out
	default:
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"result": nil, "error": "unsupported action"})
	}
	return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"result": result, "error": nil})
}

func setup(t *testing.T, cfg Config) (*Client, *fakeAnki) {
	t.Helper()
	fake := &fakeAnki{t: t, decks: []string{"Default"}, models: []string{"Basic"}, media: map[string]string{}, reject: map[int]bool{}}
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, testURL, fake.respond)
	cfg.URL = testURL
	return NewClient(cfg, WithHTTPClient(&http.Client{Transport: mt})), fake
}

func actionNames(f *fakeAnki) []string {
	out := make([]string, len(f.actions))
	for i, a := range f.actions {
		out[i] = a.Action
	}
	return out
}

func TestClient_EnvelopeCarriesVersionAndKey(t *testing.T) {
	c, fake := setup(t, Config{APIKey: "secret"})
	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != APIVersion {
		t.Errorf("version = %d", v)
	}
	if fake.actions[0].Version != APIVersion || fake.actions[0].Key != "secret" {
		t.Errorf("envelope = %+v", fake.actions[0])
	}
}

func TestClient_ActionError(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, testURL,
		httpmock.NewStringResponder(http.StatusOK, `{"result": null, "error": "deck was not found"}`))
	c := NewClient(Config{URL: testURL}, WithHTTPClient(&http.Client{Transport: mt}))

	_, err := c.CreateDeck(context.Background(), "X")
	var ae *ActionError
	if !errors.As(err, &ae) || ae.Message != "deck was not found" {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, apperr.ErrRemote) {
		t.Error("action error should match ErrRemote")
	}
}

func TestClient_HTTPStatusError(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, testURL, httpmock.NewStringResponder(http.StatusForbidden, "forbidden"))
	c := NewClient(Config{URL: testURL}, WithHTTPClient(&http.Client{Transport: mt}))

	if _, err := c.DeckNames(context.Background()); !errors.Is(err, apperr.ErrRemote) {
		t.Fatalf("err = %v, want ErrRemote", err)
	}
}

func TestClient_TransportError(t *testing.T) {
	mt := httpmock.NewMockTransport()
	c := NewClient(Config{URL: testURL}, WithHTTPClient(&http.Client{Transport: mt}))
	if _, err := c.ModelNames(context.Background()); !errors.Is(err, apperr.ErrRemote) {
		t.Fatalf("err = %v, want ErrRemote", err)
	}
}

func TestImport_CreatesMissingAndAddsNotes(t *testing.T) {
	c, fake := setup(t, Config{})
	def := testutil.ClozeDefinition()

	res, err := NewImporter(c).Import(context.Background(), def)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.DecksCreated != 2 || res.ModelsCreated != 1 || res.NotesCreated != 1 || res.NotesSkipped != 0 {
		t.Errorf("result = %+v", res)
	}
	if fake.decks[1] != "Biology" || fake.decks[2] != "Biology::Cells" {
		t.Errorf("decks created out of order: %v", fake.decks)
	}
	if len(fake.notes) != 1 || fake.notes[0].DeckName != "Biology::Cells" {
		t.Errorf("notes = %+v", fake.notes)
	}
}

func TestImport_SkipsExistingDecksAndModels(t *testing.T) {
	c, fake := setup(t, Config{})
	fake.decks = append(fake.decks, "Spanish")

	res, err := NewImporter(c).Import(context.Background(), testutil.BasicDefinition())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.DecksCreated != 0 || res.ModelsCreated != 0 {
		t.Errorf("result = %+v", res)
	}
	for _, a := range actionNames(fake) {
		if a == "createDeck" || a == "createModel" {
			t.Errorf("unexpected %s", a)
		}
	}
}

func TestImport_RejectedNotesReported(t *testing.T) {
	c, fake := setup(t, Config{})
	fake.reject[0] = true
	def := testutil.BasicDefinition()
	def.Notes = append(def.Notes, models.NoteDefinition{
		Deck: "Spanish", Model: "Basic", Fields: map[string]string{"Front": "adiós", "Back": "goodbye"},
	})

	res, err := NewImporter(c).Import(context.Background(), def)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.NotesCreated != 1 || res.NotesSkipped != 1 {
		t.Errorf("result = %+v", res)
	}
	if _, ok := res.Errors[1]; !ok {
		t.Errorf("errors = %v, want entry for note 1", res.Errors)
	}
}

func TestImport_MarkdownRendered(t *testing.T) {
	c, fake := setup(t, Config{})
	def := testutil.BasicDefinition()
	def.Models[0].MarkdownFields = []string{"Back"}
	def.Notes[0].Fields["Back"] = "**hello**"

	if _, err := NewImporter(c).Import(context.Background(), def); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if got := fake.notes[0].Fields["Back"]; got != "<strong>hello</strong>" {
		t.Errorf("Back = %q", got)
	}
}

func TestImport_Media(t *testing.T) {
	c, fake := setup(t, Config{})
	dir := testutil.WriteMedia(t, map[string]string{"hola.mp3": "abc"})
	def := testutil.BasicDefinition()
	def.Media = []models.MediaReference{{Name: "hola.mp3", Path: "hola.mp3"}}

	res, err := NewImporter(c, WithMediaDir(dir)).Import(context.Background(), def)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.MediaStored != 1 || fake.media["hola.mp3"] != "YWJj" {
		t.Errorf("media = %v", fake.media)
	}
}

func TestImport_InvalidDefinitionTouchesNothing(t *testing.T) {
	c, fake := setup(t, Config{})
	def := testutil.BasicDefinition()
	def.Notes[0].Fields = map[string]string{"Front": "x"}

	if _, err := NewImporter(c).Import(context.Background(), def); !errors.Is(err, apperr.ErrDefinitionInvalid) {
		t.Fatalf("err = %v", err)
	}
	if len(fake.actions) != 0 {
		t.Errorf("remote was called: %v", actionNames(fake))
	}
}

func TestImport_MissingMediaTouchesNothing(t *testing.T) {
	c, fake := setup(t, Config{})
	def := testutil.BasicDefinition()
	def.Media = []models.MediaReference{{Name: "gone.mp3", Path: "gone.mp3"}}

	if _, err := NewImporter(c, WithMediaDir(t.TempDir())).Import(context.Background(), def); !errors.Is(err, apperr.ErrMediaMissing) {
		t.Fatalf("err = %v", err)
	}
	if len(fake.actions) != 0 {
		t.Errorf("remote was called: %v", actionNames(fake))
	}
}

func TestImport_MediaLibraryRejectsOutsidePaths(t *testing.T) {
	c, fake := setup(t, Config{})
	lib, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"/etc/passwd", "../x"} {
		def := testutil.BasicDefinition()
		def.Media = []models.MediaReference{{Name: "leak.txt", Path: p}}

		_, err := NewImporter(c, WithMediaLibrary(lib)).Import(context.Background(), def)
		if !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Errorf("path %q: err = %v, want invalid argument", p, err)
		}
	}
	if len(fake.actions) != 0 {
		t.Errorf("remote was called: %v", actionNames(fake))
	}
}
