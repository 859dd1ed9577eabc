// Package validator checks the referential and structural integrity of a deck
// definition before any identifier is derived from it.
package validator

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/cloze"
	"github.com/starford/deckpack/internal/models"
)

// Validate returns nil for a sound definition, or an *apperr.DefinitionError
// listing every issue found. It never mutates def.
func Validate(def *models.PackageDefinition) error {
	v := &checker{def: def}
	v.checkPackage()
	v.checkModels()
	v.checkDecks()
	v.checkNotes()
	v.checkMedia()
	if len(v.issues) == 0 {
		return nil
	}
	return &apperr.DefinitionError{Issues: v.issues}
}

type checker struct {
	def    *models.PackageDefinition
	issues []apperr.Issue
}

func (v *checker) add(kind, subject, format string, args ...any) {
	v.issues = append(v.issues, apperr.Issue{
		Kind:    kind,
		Subject: subject,
		Message: fmt.Sprintf(format, args...),
	})
}

// addStructural flattens ozzo validation errors into issues, in key order.
func (v *checker) addStructural(subject string, err error) {
	if err == nil {
		return
	}
	var errs validation.Errors
	if !errors.As(err, &errs) {
		v.add(apperr.IssueInvalidStructure, subject, "%v", err)
		return
	}
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.add(apperr.IssueInvalidStructure, subject, "%s: %v", k, errs[k])
	}
}

func (v *checker) checkPackage() {
	p := &v.def.Package
	v.addStructural("package", validation.ValidateStruct(p,
		validation.Field(&p.Name, validation.Required),
	))
}

func modelSubject(name string) string { return fmt.Sprintf("model %q", name) }
func deckSubject(name string) string  { return fmt.Sprintf("deck %q", name) }
func noteSubject(i int) string        { return fmt.Sprintf("note %d", i+1) }
func mediaSubject(name string) string { return fmt.Sprintf("media %q", name) }

func (v *checker) checkModels() {
	seen := make(map[string]struct{}, len(v.def.Models))
	for i := range v.def.Models {
		m := &v.def.Models[i]
		subject := modelSubject(m.Name)

		v.addStructural(subject, validation.ValidateStruct(m,
			validation.Field(&m.Name, validation.Required),
			validation.Field(&m.Fields, validation.Required),
			validation.Field(&m.Kind, validation.In(models.KindStandard, models.KindCloze)),
		))

		if _, dup := seen[m.Name]; dup {
			v.add(apperr.IssueDuplicateModel, subject, "model name declared more than once")
		}
		seen[m.Name] = struct{}{}

		if m.ID != nil && *m.ID <= 0 {
			v.add(apperr.IssueInvalidID, subject, "explicit id must be positive, got %d", *m.ID)
		}

		fields := make(map[string]struct{}, len(m.Fields))
		for _, f := range m.Fields {
			if strings.TrimSpace(f) == "" {
				v.add(apperr.IssueInvalidStructure, subject, "field names must not be empty")
				continue
			}
			if _, dup := fields[f]; dup {
				v.add(apperr.IssueDuplicateField, subject, "field %q declared more than once", f)
			}
			fields[f] = struct{}{}
		}

		if len(m.Templates) == 0 {
			v.add(apperr.IssueNoTemplates, subject, "model declares no templates")
		}
		if m.SortField != "" && !m.HasField(m.SortField) {
			v.add(apperr.IssueUnknownSortField, subject, "sort field %q is not a model field", m.SortField)
		}
		for _, f := range m.MarkdownFields {
			if !m.HasField(f) {
				v.add(apperr.IssueUnknownMarkdownField, subject, "markdown field %q is not a model field", f)
			}
		}
		v.checkTemplates(m)
	}
}

func (v *checker) checkTemplates(m *models.ModelDefinition) {
	subject := modelSubject(m.Name)
	for _, t := range m.Templates {
		if strings.TrimSpace(t.Name) == "" {
			v.add(apperr.IssueInvalidStructure, subject, "template names must not be empty")
		}
		reported := make(map[string]struct{})
		for _, ref := range append(models.FieldRefs(t.Front), models.FieldRefs(t.Back)...) {
			if m.HasField(ref.Name) {
				continue
			}
			if _, ok := models.BuiltinFields[ref.Name]; ok {
				continue
			}
			if _, ok := reported[ref.Name]; ok {
				continue
			}
			reported[ref.Name] = struct{}{}
			v.add(apperr.IssueUnsupportedFeature, subject,
				"template %q references undeclared field %q", t.Name, ref.Name)
		}
	}
}

func (v *checker) checkDecks() {
	seen := make(map[string]struct{}, len(v.def.Decks))
	for i := range v.def.Decks {
		d := &v.def.Decks[i]
		subject := deckSubject(d.Name)
		v.addStructural(subject, validation.ValidateStruct(d,
			validation.Field(&d.Name, validation.Required),
		))
		if _, dup := seen[d.Name]; dup {
			v.add(apperr.IssueDuplicateDeck, subject, "deck name declared more than once")
		}
		seen[d.Name] = struct{}{}
		if d.ID != nil && *d.ID <= 0 {
			v.add(apperr.IssueInvalidID, subject, "explicit id must be positive, got %d", *d.ID)
		}
	}
}

func (v *checker) checkNotes() {
	for i := range v.def.Notes {
		n := &v.def.Notes[i]
		subject := noteSubject(i)

		if _, ok := v.def.Deck(n.Deck); !ok {
			v.add(apperr.IssueUnresolvedDeck, subject, "deck %q is not declared", n.Deck)
		}
		if n.ID != nil && *n.ID <= 0 {
			v.add(apperr.IssueInvalidID, subject, "explicit id must be positive, got %d", *n.ID)
		}
		for _, tag := range n.Tags {
			// Tags are stored space-separated, so a blank one would split or vanish.
			if tag == "" || strings.ContainsFunc(tag, unicode.IsSpace) {
				v.add(apperr.IssueInvalidStructure, subject, "tag %q must be non-empty and contain no whitespace", tag)
			}
		}

		m, ok := v.def.Model(n.Model)
		if !ok {
			v.add(apperr.IssueUnresolvedModel, subject, "model %q is not declared", n.Model)
			continue
		}

		var missing, unexpected []string
		for _, f := range m.Fields {
			if _, ok := n.Fields[f]; !ok {
				missing = append(missing, f)
			}
		}
		for f := range n.Fields {
			if !m.HasField(f) {
				unexpected = append(unexpected, f)
			}
		}
		sort.Strings(unexpected)
		if len(missing) > 0 || len(unexpected) > 0 {
			v.issues = append(v.issues, apperr.Issue{
				Kind:       apperr.IssueFieldMismatch,
				Subject:    subject,
				Message:    fieldMismatchMessage(m.Name, missing, unexpected),
				Missing:    missing,
				Unexpected: unexpected,
			})
			continue
		}

		if m.IsCloze() {
			var texts []string
			for _, f := range m.ClozeFields() {
				texts = append(texts, n.Fields[f])
			}
			if len(cloze.Indices(texts...)) == 0 {
				v.add(apperr.IssueMissingCloze, subject,
					"cloze model %q requires at least one {{cN::...}} deletion", m.Name)
			}
		}
	}
}

func fieldMismatchMessage(model string, missing, unexpected []string) string {
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing fields "+quoteAll(missing))
	}
	if len(unexpected) > 0 {
		parts = append(parts, "unexpected fields "+quoteAll(unexpected))
	}
	return fmt.Sprintf("fields do not match model %q: %s", model, strings.Join(parts, ", "))
}

func quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = fmt.Sprintf("%q", n)
	}
	return "[" + strings.Join(q, " ") + "]"
}

func (v *checker) checkMedia() {
	seen := make(map[string]struct{}, len(v.def.Media))
	for i := range v.def.Media {
		ref := &v.def.Media[i]
		subject := mediaSubject(ref.Name)
		v.addStructural(subject, validation.ValidateStruct(ref,
			validation.Field(&ref.Name, validation.Required),
			validation.Field(&ref.Path, validation.Required),
		))
		if ref.Name != "" && !isPlainName(ref.Name) {
			v.add(apperr.IssueInvalidMediaName, subject, "media name must be a plain file name")
		}
		if _, dup := seen[ref.Name]; dup {
			v.add(apperr.IssueDuplicateMedia, subject, "media name declared more than once")
		}
		seen[ref.Name] = struct{}{}
	}
}

// isPlainName rejects separators and traversal: the importer keeps media flat.
func isPlainName(name string) bool {
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return name != "." && name != ".." && filepath.Base(name) == name
}
