package richtext

import (
	"strings"
	"testing"

	"github.com/starford/deckpack/internal/models"
)

func TestToHTML_InlineUnwrapped(t *testing.T) {
	got, err := ToHTML("**bold** and *italic*")
	if err != nil {
		t.Fatalf("ToHTML: %v", err)
	}
	if got != "<strong>bold</strong> and <em>italic</em>" {
		t.Errorf("got %q", got)
	}
}

func TestToHTML_Paragraphs(t *testing.T) {
	got, err := ToHTML("first\n\nsecond")
	if err != nil {
		t.Fatalf("ToHTML: %v", err)
	}
	if got != "first<br><br>second" {
		t.Errorf("got %q", got)
	}
}

func TestToHTML_List(t *testing.T) {
	got, err := ToHTML("- item 1\n- item 2")
	if err != nil {
		t.Fatalf("ToHTML: %v", err)
	}
	if !strings.Contains(got, "<li>item 1</li>") || !strings.Contains(got, "<li>item 2</li>") {
		t.Errorf("got %q", got)
	}
}

func TestToHTML_KeepsRawHTML(t *testing.T) {
	got, err := ToHTML(`see <img src="cat.jpg">`)
	if err != nil {
		t.Fatalf("ToHTML: %v", err)
	}
	if !strings.Contains(got, `<img src="cat.jpg">`) {
		t.Errorf("raw html dropped: %q", got)
	}
}

func TestStripHTML(t *testing.T) {
	cases := map[string]string{
		"<b>Hello</b> World":         "Hello World",
		"No HTML":                    "No HTML",
		"<div><p>Nested</p></div>":   "Nested",
		`<img src="dog.png">`:        "dog.png",
		"Fish &amp; chips":           "Fish & chips",
		"  padded  ":                 "padded",
	}
	for in, want := range cases {
		if got := StripHTML(in); got != want {
			t.Errorf("StripHTML(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderFields_OnlyMarkdownFields(t *testing.T) {
	m := &models.ModelDefinition{
		Name:           "Basic",
		Fields:         []string{"Front", "Back"},
		MarkdownFields: []string{"Back"},
	}
	in := []string{"**raw**", "**bold**"}
	got, err := RenderFields(m, in)
	if err != nil {
		t.Fatalf("RenderFields: %v", err)
	}
	if got[0] != "**raw**" || got[1] != "<strong>bold</strong>" {
		t.Errorf("got %q", got)
	}
	if in[1] != "**bold**" {
		t.Error("input slice was modified")
	}
}
