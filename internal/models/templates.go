package models

import (
	"regexp"
	"strings"
)

var fieldRefRe = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// BuiltinFields are names the importer resolves itself; templates may use them
// without declaring a field.
var BuiltinFields = map[string]struct{}{
	"FrontSide": {},
	"Tags":      {},
	"Type":      {},
	"Deck":      {},
	"Subdeck":   {},
	"Card":      {},
	"CardFlag":  {},
	"CardID":    {},
}

// FieldRef is one placeholder found in a template, e.g. {{cloze:Text}}.
type FieldRef struct {
	Name    string
	Filters []string
}

// HasFilter reports whether the reference applies the named filter.
func (r FieldRef) HasFilter(name string) bool {
	for _, f := range r.Filters {
		if f == name {
			return true
		}
	}
	return false
}

// FieldRefs lists the placeholders of a template in order of appearance.
// Section markers ({{#F}}, {{^F}}, {{/F}}) count as references to F.
func FieldRefs(text string) []FieldRef {
	var out []FieldRef
	for _, m := range fieldRefRe.FindAllStringSubmatch(text, -1) {
		raw := strings.TrimSpace(m[1])
		raw = strings.TrimLeft(raw, "#^/")
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		name := strings.TrimSpace(parts[len(parts)-1])
		filters := make([]string, 0, len(parts)-1)
		for _, p := range parts[:len(parts)-1] {
			filters = append(filters, strings.TrimSpace(p))
		}
		out = append(out, FieldRef{Name: name, Filters: filters})
	}
	return out
}

// ClozeFields returns the fields scanned for deletion markers: those rendered
// through the cloze filter in any template, or every field when no template
// uses the filter.
func (m *ModelDefinition) ClozeFields() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range m.Templates {
		for _, ref := range append(FieldRefs(t.Front), FieldRefs(t.Back)...) {
			if !ref.HasFilter("cloze") || !m.HasField(ref.Name) {
				continue
			}
			if _, ok := seen[ref.Name]; ok {
				continue
			}
			seen[ref.Name] = struct{}{}
			out = append(out, ref.Name)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), m.Fields...)
	}
	return out
}

// FrontFieldIndices returns the positions of fields referenced by a template's
// front side, used for the importer's card requirement list.
func (m *ModelDefinition) FrontFieldIndices(t TemplateDefinition) []int {
	refs := FieldRefs(t.Front)
	var out []int
	for i, f := range m.Fields {
		for _, ref := range refs {
			if ref.Name == f {
				out = append(out, i)
				break
			}
		}
	}
	return out
}
