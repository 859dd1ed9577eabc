// Package cloze scans and builds cloze deletion markers ({{c1::text::hint}}).
package cloze

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var markerRe = regexp.MustCompile(`(?s)\{\{c(\d+)::(.*?)(?:::(.*?))?\}\}`)

// Indices returns the distinct deletion indices found across texts, ascending.
// Indices below 1 are ignored, as the importer does.
func Indices(texts ...string) []int {
	seen := make(map[int]struct{})
	for _, t := range texts {
		for _, m := range markerRe.FindAllStringSubmatch(t, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 {
				continue
			}
			seen[n] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Cloze returns a deletion marker, e.g. Cloze(1, "Paris") == "{{c1::Paris}}".
func Cloze(n int, text string) string {
	return fmt.Sprintf("{{c%d::%s}}", n, text)
}

// ClozeHint returns a deletion marker with a hint shown while the text is hidden.
func ClozeHint(n int, text, hint string) string {
	return fmt.Sprintf("{{c%d::%s::%s}}", n, text, hint)
}

// Builder numbers deletions automatically, starting at c1.
type Builder struct {
	counter int
}

// Add returns the next marker for text.
func (b *Builder) Add(text string) string {
	b.counter++
	return Cloze(b.counter, text)
}

// AddHint returns the next marker for text with a hint.
func (b *Builder) AddHint(text, hint string) string {
	b.counter++
	return ClozeHint(b.counter, text, hint)
}

// Current returns the last number handed out (0 before the first Add).
func (b *Builder) Current() int { return b.counter }

// Deletion is a span of text to hide, with an optional hint.
type Deletion struct {
	Text string
	Hint string
}

// Mark wraps the first occurrence of each deletion in text, numbering the
// markers in reading order. With shared set every deletion is c1, so all of
// them land on one card. It returns the marked text and the card count.
func Mark(text string, dels []Deletion, shared bool) (string, int, error) {
	type span struct {
		start, end int
		del        Deletion
	}
	spans := make([]span, 0, len(dels))
	for _, d := range dels {
		if d.Text == "" {
			return "", 0, fmt.Errorf("cloze: empty deletion")
		}
		i := strings.Index(text, d.Text)
		if i < 0 {
			return "", 0, fmt.Errorf("cloze: %q not found in text", d.Text)
		}
		spans = append(spans, span{start: i, end: i + len(d.Text), del: d})
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var (
		b   Builder
		out strings.Builder
		pos int
	)
	for _, sp := range spans {
		if sp.start < pos {
			return "", 0, fmt.Errorf("cloze: %q overlaps another deletion", sp.del.Text)
		}
		out.WriteString(text[pos:sp.start])
		switch {
		case shared && sp.del.Hint != "":
			out.WriteString(ClozeHint(1, sp.del.Text, sp.del.Hint))
		case shared:
			out.WriteString(Cloze(1, sp.del.Text))
		case sp.del.Hint != "":
			out.WriteString(b.AddHint(sp.del.Text, sp.del.Hint))
		default:
			out.WriteString(b.Add(sp.del.Text))
		}
		pos = sp.end
	}
	out.WriteString(text[pos:])

	cards := b.Current()
	if shared && len(spans) > 0 {
		cards = 1
	}
	return out.String(), cards, nil
}
