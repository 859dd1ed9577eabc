package ids

import (
	"fmt"
	"strconv"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/cloze"
	"github.com/starford/deckpack/internal/models"
)

// DefaultDeckID is the importer's built-in "Default" deck.
const (
	DefaultDeckID   = 1
	DefaultDeckName = "Default"
)

// Assignment holds every identifier of one build, computed before any row is written.
type Assignment struct {
	Models []Model
	// Decks lists declared decks and their implicit parents, parents first.
	Decks []Deck
	Notes []Note
}

// Model is a model definition with its resolved id.
type Model struct {
	ID  int64
	Def *models.ModelDefinition
}

// Deck is a deck catalog entry.
type Deck struct {
	ID          int64
	Name        string
	Description string
	// Implicit marks a parent deck created only because a child names it.
	Implicit bool
}

// Note is a note with its resolved identity and derived cards.
type Note struct {
	Position int // 1-based declaration order
	ID       int64
	GUID     string
	DeckID   int64
	ModelID  int64
	Def      *models.NoteDefinition
	Model    *models.ModelDefinition
	// Fields are the declared values in model field order.
	Fields []string
	Cards  []Card
}

// Card is one derived card.
type Card struct {
	ID     int64
	NoteID int64
	DeckID int64
	Ord    int
}

// Cards returns every card of the assignment in note order.
func (a *Assignment) Cards() []Card {
	var out []Card
	for _, n := range a.Notes {
		out = append(out, n.Cards...)
	}
	return out
}

// ModelByName returns the assigned model with the given name.
func (a *Assignment) ModelByName(name string) (Model, bool) {
	for _, m := range a.Models {
		if m.Def.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

// DeckByName returns the catalog deck with the given name.
func (a *Assignment) DeckByName(name string) (Deck, bool) {
	for _, d := range a.Decks {
		if d.Name == name {
			return d, true
		}
	}
	return Deck{}, false
}

// registry detects two entities claiming the same identifier.
type registry struct {
	kind  string
	owner map[string]string
}

func newRegistry(kind string) *registry {
	return &registry{kind: kind, owner: make(map[string]string)}
}

func (r *registry) claim(id, who string) error {
	if prev, ok := r.owner[id]; ok {
		return &apperr.CollisionError{Kind: r.kind, ID: id, First: prev, Second: who}
	}
	r.owner[id] = who
	return nil
}

func (r *registry) claimInt(id int64, who string) error {
	return r.claim(strconv.FormatInt(id, 10), who)
}

// Derive assigns identifiers to a validated definition. Collisions are
// returned as *apperr.CollisionError and never renumbered.
func Derive(def *models.PackageDefinition) (*Assignment, error) {
	a := &Assignment{}

	modelReg := newRegistry("model")
	modelIDs := make(map[string]int64, len(def.Models))
	for i := range def.Models {
		m := &def.Models[i]
		id := ModelID(m.Name)
		if m.ID != nil {
			id = *m.ID
		}
		if err := modelReg.claimInt(id, fmt.Sprintf("model %q", m.Name)); err != nil {
			return nil, err
		}
		modelIDs[m.Name] = id
		a.Models = append(a.Models, Model{ID: id, Def: m})
	}

	deckIDs, err := a.assignDecks(def)
	if err != nil {
		return nil, err
	}

	noteReg := newRegistry("note")
	guidReg := newRegistry("guid")
	cardReg := newRegistry("card")
	for i := range def.Notes {
		n := &def.Notes[i]
		who := fmt.Sprintf("note %d", i+1)

		m, ok := def.Model(n.Model)
		if !ok {
			return nil, fmt.Errorf("ids: %s: model %q not declared: %w", who, n.Model, apperr.ErrDefinitionInvalid)
		}
		deckID, ok := deckIDs[n.Deck]
		if !ok {
			return nil, fmt.Errorf("ids: %s: deck %q not declared: %w", who, n.Deck, apperr.ErrDefinitionInvalid)
		}

		fields := n.OrderedFields(m)
		noteID := NoteID(n.Deck, n.Model, fields)
		if n.ID != nil {
			noteID = *n.ID
		}
		guid := n.GUID
		if guid == "" {
			guid = GUID(n.Deck, n.Model, fields)
		}
		if err := noteReg.claimInt(noteID, who); err != nil {
			return nil, err
		}
		if err := guidReg.claim(guid, who); err != nil {
			return nil, err
		}

		note := Note{
			Position: i + 1,
			ID:       noteID,
			GUID:     guid,
			DeckID:   deckID,
			ModelID:  modelIDs[m.Name],
			Def:      n,
			Model:    m,
			Fields:   fields,
		}
		for _, ord := range CardOrds(m, n) {
			card := Card{ID: CardID(noteID, ord), NoteID: noteID, DeckID: deckID, Ord: ord}
			if err := cardReg.claimInt(card.ID, fmt.Sprintf("%s card %d", who, ord)); err != nil {
				return nil, err
			}
			note.Cards = append(note.Cards, card)
		}
		a.Notes = append(a.Notes, note)
	}

	return a, nil
}

func (a *Assignment) assignDecks(def *models.PackageDefinition) (map[string]int64, error) {
	reg := newRegistry("deck")
	ids := make(map[string]int64)
	if err := reg.claimInt(DefaultDeckID, fmt.Sprintf("deck %q", DefaultDeckName)); err != nil {
		return nil, err
	}

	add := func(d Deck) error {
		if _, done := ids[d.Name]; done {
			return nil
		}
		if d.Name == DefaultDeckName && d.ID == DeckID(DefaultDeckName) {
			// The built-in deck is already in the catalog.
			ids[d.Name] = DefaultDeckID
			return nil
		}
		if err := reg.claimInt(d.ID, fmt.Sprintf("deck %q", d.Name)); err != nil {
			return err
		}
		ids[d.Name] = d.ID
		a.Decks = append(a.Decks, d)
		return nil
	}

	for i := range def.Decks {
		d := &def.Decks[i]
		for _, parent := range d.Parents() {
			if declared, ok := def.Deck(parent); ok {
				if err := add(declaredDeck(declared)); err != nil {
					return nil, err
				}
				continue
			}
			if err := add(Deck{ID: DeckID(parent), Name: parent, Implicit: true}); err != nil {
				return nil, err
			}
		}
		if err := add(declaredDeck(d)); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func declaredDeck(d *models.DeckDefinition) Deck {
	id := DeckID(d.Name)
	if d.ID != nil {
		id = *d.ID
	}
	return Deck{ID: id, Name: d.Name, Description: d.Description}
}

// CardOrds returns the card ordinals of a note: one per template for standard
// models, one per distinct deletion index (ord = index - 1) for cloze models.
func CardOrds(m *models.ModelDefinition, n *models.NoteDefinition) []int {
	if !m.IsCloze() {
		ords := make([]int, len(m.Templates))
		for i := range m.Templates {
			ords[i] = i
		}
		return ords
	}
	var texts []string
	for _, f := range m.ClozeFields() {
		texts = append(texts, n.Fields[f])
	}
	indices := cloze.Indices(texts...)
	ords := make([]int, len(indices))
	for i, idx := range indices {
		ords[i] = idx - 1
	}
	return ords
}
