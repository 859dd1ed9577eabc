package api

import (
	"github.com/starford/deckpack/internal/connect"
	"github.com/starford/deckpack/internal/deckservice"
)

// DefinitionItem is a lightweight item in a list response (aliased from the domain layer).
type DefinitionItem = deckservice.DefinitionItem

// DefinitionDetail is a definition file with its decoded form (aliased from the domain layer).
type DefinitionDetail = deckservice.DefinitionDetail

// BuildReport describes one workspace build (aliased from the domain layer).
type BuildReport = deckservice.BuildReport

// MediaItem is one media library file (aliased from the domain layer).
type MediaItem = deckservice.MediaItem

// ImportResult reports a live import (aliased from the connect layer).
type ImportResult = connect.ImportResult

// DefinitionListResponse wraps definition listings.
type DefinitionListResponse struct {
	Definitions []DefinitionItem `json:"definitions" validate:"required"`
	Total       int              `json:"total" example:"3" validate:"required"`
}

// BuildAllResponse wraps the outcome of building every definition.
type BuildAllResponse struct {
	Reports []BuildReport `json:"reports" validate:"required"`
	Errors  []string      `json:"errors,omitempty"`
}

// MediaListResponse wraps media library listings.
type MediaListResponse struct {
	Media []MediaItem `json:"media" validate:"required"`
}

// ValidateResponse summarises a definition that passed validation.
type ValidateResponse struct {
	Valid  bool            `json:"valid" example:"true" validate:"required"`
	Models int             `json:"models" example:"1"`
	Decks  int             `json:"decks" example:"2"`
	Notes  int             `json:"notes" example:"10"`
	Cards  int             `json:"cards" example:"12"`
	IDs    []NoteIDSummary `json:"ids"`
}

// NoteIDSummary lists the identifiers derived for one note.
type NoteIDSummary struct {
	Position int     `json:"position" example:"1"`
	ID       int64   `json:"id" example:"1488745027482917"`
	GUID     string  `json:"guid" example:"b7Kx!q2Lm"`
	Cards    []int64 `json:"cards"`
}
