// Package apperr defines the error taxonomy shared by the build pipeline and its callers.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	ErrDefinitionInvalid        = errors.New("definition invalid")
	ErrMediaMissing             = errors.New("media missing")
	ErrIDCollision              = errors.New("id collision")
	ErrIO                       = errors.New("io failure")
	ErrUnsupportedSchemaFeature = errors.New("unsupported schema feature")
	ErrRemote                   = errors.New("remote call failed")
)

// Issue kinds reported by the validator.
const (
	IssueUnresolvedDeck       = "unresolved_deck"
	IssueUnresolvedModel      = "unresolved_model"
	IssueFieldMismatch        = "field_mismatch"
	IssueDuplicateModel       = "duplicate_model"
	IssueDuplicateDeck        = "duplicate_deck"
	IssueDuplicateField       = "duplicate_field"
	IssueNoTemplates          = "no_templates"
	IssueUnknownSortField     = "unknown_sort_field"
	IssueUnknownMarkdownField = "unknown_markdown_field"
	IssueDuplicateMedia       = "duplicate_media"
	IssueInvalidMediaName     = "invalid_media_name"
	IssueInvalidID            = "invalid_id"
	IssueInvalidStructure     = "invalid_structure"
	IssueMissingCloze         = "missing_cloze"
	IssueUnsupportedFeature   = "unsupported_feature"
)

// Issue is one structural problem found in a definition.
type Issue struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	// Missing and Unexpected itemise a field-map mismatch.
	Missing    []string `json:"missing,omitempty"`
	Unexpected []string `json:"unexpected,omitempty"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Subject, i.Message)
}

// DefinitionError aggregates every validation issue of a definition.
type DefinitionError struct {
	Issues []Issue
}

func (e *DefinitionError) Error() string {
	lines := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		lines[i] = is.String()
	}
	return fmt.Sprintf("definition invalid (%d issues): %s", len(e.Issues), strings.Join(lines, "; "))
}

// Is matches ErrDefinitionInvalid, and ErrUnsupportedSchemaFeature when any
// issue is of that kind.
func (e *DefinitionError) Is(target error) bool {
	switch target {
	case ErrDefinitionInvalid:
		return true
	case ErrUnsupportedSchemaFeature:
		for _, is := range e.Issues {
			if is.Kind == IssueUnsupportedFeature {
				return true
			}
		}
	}
	return false
}

// HasKind reports whether any issue has the given kind.
func (e *DefinitionError) HasKind(kind string) bool {
	for _, is := range e.Issues {
		if is.Kind == kind {
			return true
		}
	}
	return false
}

// MediaError reports a media source that could not be read.
type MediaError struct {
	Name string
	Path string
	Err  error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media missing: %s (%s): %v", e.Name, e.Path, e.Err)
}

func (e *MediaError) Is(target error) bool { return target == ErrMediaMissing }
func (e *MediaError) Unwrap() error        { return e.Err }

// CollisionError reports two entities that derived the same identifier.
type CollisionError struct {
	Kind   string // model, deck, note, guid, card
	ID     string
	First  string
	Second string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("%s id collision on %s: %s and %s", e.Kind, e.ID, e.First, e.Second)
}

func (e *CollisionError) Is(target error) bool { return target == ErrIDCollision }

// IOError wraps a file-system failure with the path it concerns.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io failure on %s: %v", e.Path, e.Err)
}

func (e *IOError) Is(target error) bool { return target == ErrIO }
func (e *IOError) Unwrap() error        { return e.Err }

// WrapIO returns nil for a nil err, otherwise an *IOError for path.
func WrapIO(path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Path: path, Err: err}
}
