// Package ids derives the stable numeric identifiers of models, decks, notes and
// cards, and the string guid of each note.
//
// Canonical keys are the contract: every component is NFC-normalised, components
// are joined with 0x1F, and each key starts with a domain tag:
//
//	model␟<name>
//	deck␟<name>
//	note␟<deck>␟<model>␟<field 1>␟…␟<field n>   (model field order)
//	guid␟<deck>␟<model>␟<field 1>␟…␟<field n>
//	card␟<note id>␟<ord>                          (decimal)
//
// The 64-bit xxHash of a key is masked to 53 bits; results below 2 are shifted
// up by 2 because id 1 belongs to the importer's Default deck. Changing any of
// this renumbers every package ever built.
package ids

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// Separator joins canonical key components.
const Separator = "\x1f"

const (
	idMask = 1<<53 - 1
	minID  = 2
)

// Domain tags.
const (
	domainModel = "model"
	domainDeck  = "deck"
	domainNote  = "note"
	domainGUID  = "guid"
	domainCard  = "card"
)

// Key builds a canonical key from a domain tag and its components.
func Key(domain string, parts ...string) string {
	var b strings.Builder
	b.WriteString(domain)
	for _, p := range parts {
		b.WriteString(Separator)
		b.WriteString(norm.NFC.String(p))
	}
	return b.String()
}

// Hash maps a canonical key to a positive identifier.
func Hash(key string) int64 {
	id := int64(xxhash.Sum64String(key) & idMask)
	if id < minID {
		id += minID
	}
	return id
}

// ModelID returns the derived id of a model name.
func ModelID(name string) int64 { return Hash(Key(domainModel, name)) }

// DeckID returns the derived id of a deck name.
func DeckID(name string) int64 { return Hash(Key(domainDeck, name)) }

// NoteID returns the content-derived id of a note.
func NoteID(deck, model string, fields []string) int64 {
	return Hash(Key(domainNote, append([]string{deck, model}, fields...)...))
}

// GUID returns the content-derived guid of a note.
func GUID(deck, model string, fields []string) string {
	key := Key(domainGUID, append([]string{deck, model}, fields...)...)
	return Base91(xxhash.Sum64String(key))
}

// CardID returns the id of the card at ord (template index or cloze index - 1).
func CardID(noteID int64, ord int) int64 {
	return Hash(Key(domainCard, strconv.FormatInt(noteID, 10), strconv.Itoa(ord)))
}

const base91Table = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#$%&()*+,-./:;<=>?@[]^_`{|}~"

// Base91 encodes n with the importer's guid alphabet, most significant digit first.
func Base91(n uint64) string {
	if n == 0 {
		return base91Table[:1]
	}
	var buf []byte
	for n > 0 {
		buf = append(buf, base91Table[n%91])
		n /= 91
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}
