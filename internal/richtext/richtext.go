// Package richtext converts Markdown note fields to the HTML the importer stores,
// and strips HTML back to plain text for sort keys and checksums.
package richtext

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/k3a/html2text"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/starford/deckpack/internal/models"
)

var (
	md = goldmark.New(
		goldmark.WithExtensions(extension.Strikethrough),
		// Fields routinely embed raw <img> and <audio> markup.
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)

	imgSrcRe = regexp.MustCompile(`(?i)<img[^>]+src=["']?([^"'>]+)["']?[^>]*>`)
)

// ToHTML renders Markdown. A lone paragraph is unwrapped and paragraph breaks
// become <br><br>, which is what card editors produce.
func ToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	out := strings.TrimSpace(buf.String())

	if strings.HasPrefix(out, "<p>") && strings.HasSuffix(out, "</p>") {
		inner := out[len("<p>") : len(out)-len("</p>")]
		if !strings.Contains(inner, "<p>") {
			return inner, nil
		}
	}

	out = strings.ReplaceAll(out, "</p>\n<p>", "<br><br>")
	out = strings.ReplaceAll(out, "<p>", "")
	out = strings.ReplaceAll(out, "</p>", "")
	return out, nil
}

// StripHTML returns the plain text of an HTML field. Images are replaced by
// their source filename so that media-only fields still have a sort key.
func StripHTML(s string) string {
	s = imgSrcRe.ReplaceAllString(s, " $1 ")
	return strings.TrimSpace(html2text.HTML2Text(s))
}

// RenderFields returns values (in model field order) with the model's Markdown
// fields converted to HTML. Other fields are returned unchanged.
func RenderFields(m *models.ModelDefinition, values []string) ([]string, error) {
	out := make([]string, len(values))
	copy(out, values)
	if len(m.MarkdownFields) == 0 {
		return out, nil
	}
	for i, name := range m.Fields {
		if i >= len(out) || !m.IsMarkdownField(name) {
			continue
		}
		rendered, err := ToHTML(out[i])
		if err != nil {
			return nil, fmt.Errorf("richtext: render field %q: %w", name, err)
		}
		out[i] = rendered
	}
	return out, nil
}
