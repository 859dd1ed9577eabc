// Package models defines the deck definition types consumed by the package builder.
package models

import (
	"strings"
	"time"
)

// Model kinds.
const (
	KindStandard = "standard"
	KindCloze    = "cloze"
)

// DeckSeparator separates levels of a hierarchical deck name ("Parent::Child").
const DeckSeparator = "::"

// DefaultVersion is used when a definition omits package.version.
const DefaultVersion = "1.0.0"

// PackageDefinition is the root of a deck definition document.
type PackageDefinition struct {
	Package PackageInfo       `json:"package" yaml:"package" toml:"package"`
	Models  []ModelDefinition `json:"models,omitempty" yaml:"models,omitempty" toml:"models,omitempty"`
	Decks   []DeckDefinition  `json:"decks,omitempty" yaml:"decks,omitempty" toml:"decks,omitempty"`
	Notes   []NoteDefinition  `json:"notes,omitempty" yaml:"notes,omitempty" toml:"notes,omitempty"`
	Media   []MediaReference  `json:"media,omitempty" yaml:"media,omitempty" toml:"media,omitempty"`
}

// PackageInfo holds package metadata.
type PackageInfo struct {
	Name        string `json:"name" yaml:"name" toml:"name"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty" toml:"author,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
}

// ModelDefinition describes a note type: ordered fields plus card templates.
type ModelDefinition struct {
	Name      string               `json:"name" yaml:"name" toml:"name"`
	Fields    []string             `json:"fields" yaml:"fields" toml:"fields"`
	Templates []TemplateDefinition `json:"templates" yaml:"templates" toml:"templates"`
	SortField string               `json:"sort_field,omitempty" yaml:"sort_field,omitempty" toml:"sort_field,omitempty"`
	CSS       string               `json:"css,omitempty" yaml:"css,omitempty" toml:"css,omitempty"`
	// MarkdownFields are rendered from Markdown to HTML before they are stored.
	MarkdownFields []string `json:"markdown_fields,omitempty" yaml:"markdown_fields,omitempty" toml:"markdown_fields,omitempty"`
	Kind           string   `json:"kind,omitempty" yaml:"kind,omitempty" toml:"kind,omitempty"`
	ID             *int64   `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty"`
}

// IsCloze reports whether cards are derived from cloze markers instead of templates.
func (m *ModelDefinition) IsCloze() bool {
	return strings.EqualFold(m.Kind, KindCloze)
}

// SortFieldIndex returns the position of the sort field, or 0 when unset or unknown.
func (m *ModelDefinition) SortFieldIndex() int {
	if m.SortField == "" {
		return 0
	}
	for i, f := range m.Fields {
		if f == m.SortField {
			return i
		}
	}
	return 0
}

// HasField reports whether name is one of the model's fields.
func (m *ModelDefinition) HasField(name string) bool {
	for _, f := range m.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// IsMarkdownField reports whether the named field is rendered from Markdown.
func (m *ModelDefinition) IsMarkdownField(name string) bool {
	for _, f := range m.MarkdownFields {
		if f == name {
			return true
		}
	}
	return false
}

// TemplateDefinition is a front/back rendering rule. The text is opaque to the builder.
type TemplateDefinition struct {
	Name  string `json:"name" yaml:"name" toml:"name"`
	Front string `json:"front" yaml:"front" toml:"front"`
	Back  string `json:"back" yaml:"back" toml:"back"`
}

// DeckDefinition is a named, optionally hierarchical, group of cards.
type DeckDefinition struct {
	Name        string `json:"name" yaml:"name" toml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	ID          *int64 `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty"`
}

// Parents returns the ancestor deck names of a hierarchical deck name,
// outermost first. "A::B::C" yields ["A", "A::B"].
func (d *DeckDefinition) Parents() []string {
	parts := strings.Split(d.Name, DeckSeparator)
	if len(parts) < 2 {
		return nil
	}
	out := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		out = append(out, strings.Join(parts[:i], DeckSeparator))
	}
	return out
}

// NoteDefinition is one note. Fields must cover exactly the model's field set.
type NoteDefinition struct {
	Deck   string            `json:"deck" yaml:"deck" toml:"deck"`
	Model  string            `json:"model" yaml:"model" toml:"model"`
	Fields map[string]string `json:"fields" yaml:"fields" toml:"fields"`
	Tags   []string          `json:"tags,omitempty" yaml:"tags,omitempty" toml:"tags,omitempty"`
	// GUID and ID pin the note's identity for update workflows.
	GUID string `json:"guid,omitempty" yaml:"guid,omitempty" toml:"guid,omitempty"`
	ID   *int64 `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty"`
}

// OrderedFields returns the note's field values in the model's declared order.
func (n *NoteDefinition) OrderedFields(m *ModelDefinition) []string {
	out := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		out[i] = n.Fields[f]
	}
	return out
}

// TagString joins tags the way the importer stores them: " a b ", or "" without tags.
func (n *NoteDefinition) TagString() string {
	if len(n.Tags) == 0 {
		return ""
	}
	return " " + strings.Join(n.Tags, " ") + " "
}

// MediaReference maps a package filename to a source file on disk.
type MediaReference struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	Path string `json:"path" yaml:"path" toml:"path"`
}

// Model returns the model with the given name.
func (p *PackageDefinition) Model(name string) (*ModelDefinition, bool) {
	for i := range p.Models {
		if p.Models[i].Name == name {
			return &p.Models[i], true
		}
	}
	return nil, false
}

// Deck returns the deck with the given name.
func (p *PackageDefinition) Deck(name string) (*DeckDefinition, bool) {
	for i := range p.Decks {
		if p.Decks[i].Name == name {
			return &p.Decks[i], true
		}
	}
	return nil, false
}

// Int64 returns a pointer to v, for explicit ids in literals.
func Int64(v int64) *int64 {
	return &v
}

// FileMetadata is a lightweight representation of a workspace file.
type FileMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
