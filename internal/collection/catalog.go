package collection

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/starford/deckpack/internal/ids"
	"github.com/starford/deckpack/internal/models"
)

// Model types stored in the catalog.
const (
	modelTypeStandard = 0
	modelTypeCloze    = 1
)

// DefaultCSS is used for models that do not declare their own.
const DefaultCSS = `.card {
    font-family: arial;
    font-size: 20px;
    text-align: center;
    color: black;
    background-color: white;
}`

const (
	latexPre = "\\documentclass[12pt]{article}\n\\special{papersize=3in,5in}\n" +
		"\\usepackage{amssymb,amsmath}\n\\pagestyle{empty}\n\\setlength{\\parindent}{0in}\n" +
		"\\begin{document}\n"
	latexPost = "\\end{document}"
)

// The catalogs are built as maps so that encoding/json emits sorted keys and
// the bytes are stable across builds.
type object = map[string]any

func encode(name string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("collection: encode %s: %w", name, err)
	}
	return string(data), nil
}

func confJSON(a *ids.Assignment) object {
	var curModel any
	if len(a.Models) > 0 {
		curModel = strconv.FormatInt(a.Models[0].ID, 10)
	}
	return object{
		"activeDecks":   []int64{ids.DefaultDeckID},
		"curDeck":       ids.DefaultDeckID,
		"newSpread":     0,
		"collapseTime":  1200,
		"timeLim":       0,
		"estTimes":      true,
		"dueCounts":     true,
		"curModel":      curModel,
		"nextPos":       len(a.Notes) + 1,
		"sortType":      "noteFld",
		"sortBackwards": false,
		"addToCur":      true,
	}
}

func dconfJSON() object {
	return object{
		"1": object{
			"id":       1,
			"mod":      0,
			"name":     ids.DefaultDeckName,
			"usn":      0,
			"maxTaken": 60,
			"autoplay": true,
			"timer":    0,
			"replayq":  true,
			"new": object{
				"bury":          true,
				"delays":        []float64{1, 10},
				"initialFactor": 2500,
				"ints":          []int{1, 4, 7},
				"order":         1,
				"perDay":        20,
				"separate":      true,
			},
			"rev": object{
				"bury":       true,
				"ease4":      1.3,
				"fuzz":       0.05,
				"ivlFct":     1,
				"maxIvl":     36500,
				"perDay":     100,
				"hardFactor": 1.2,
			},
			"lapse": object{
				"delays":      []float64{10},
				"leechAction": 0,
				"leechFails":  8,
				"minInt":      1,
				"mult":        0,
			},
			"dyn": false,
		},
	}
}

func modelsJSON(a *ids.Assignment, mod int64) object {
	// A model's default deck is the deck of its first note.
	defaultDeck := make(map[string]int64)
	for _, n := range a.Notes {
		if _, ok := defaultDeck[n.Model.Name]; !ok {
			defaultDeck[n.Model.Name] = n.DeckID
		}
	}

	out := make(object, len(a.Models))
	for _, m := range a.Models {
		def := m.Def

		fields := make([]object, len(def.Fields))
		for i, name := range def.Fields {
			fields[i] = object{
				"name":   name,
				"ord":    i,
				"sticky": false,
				"rtl":    false,
				"font":   "Arial",
				"size":   20,
				"media":  []string{},
			}
		}

		tmpls := make([]object, len(def.Templates))
		for i, t := range def.Templates {
			tmpls[i] = object{
				"name":  t.Name,
				"ord":   i,
				"qfmt":  t.Front,
				"afmt":  t.Back,
				"bqfmt": "",
				"bafmt": "",
				"did":   nil,
				"bfont": "",
				"bsize": 0,
			}
		}

		did, ok := defaultDeck[def.Name]
		if !ok {
			did = ids.DefaultDeckID
		}
		css := def.CSS
		if css == "" {
			css = DefaultCSS
		}
		kind := modelTypeStandard
		if def.IsCloze() {
			kind = modelTypeCloze
		}

		obj := object{
			"id":        m.ID,
			"name":      def.Name,
			"type":      kind,
			"mod":       mod,
			"usn":       -1,
			"sortf":     def.SortFieldIndex(),
			"did":       did,
			"tmpls":     tmpls,
			"flds":      fields,
			"css":       css,
			"latexPre":  latexPre,
			"latexPost": latexPost,
			"latexsvg":  false,
			"tags":      []string{},
			"vers":      []string{},
		}
		if !def.IsCloze() {
			obj["req"] = requirements(def)
		}
		out[strconv.FormatInt(m.ID, 10)] = obj
	}
	return out
}

// requirements lists, per template, the fields whose content makes the card
// non-empty. Templates that reference no field fall back to the first one.
func requirements(m *models.ModelDefinition) [][]any {
	req := make([][]any, len(m.Templates))
	for i, t := range m.Templates {
		fields := m.FrontFieldIndices(t)
		if len(fields) == 0 {
			fields = []int{0}
		}
		req[i] = []any{i, "any", fields}
	}
	return req
}

func deckJSON(id int64, name, desc string, mod int64) object {
	return object{
		"id":               id,
		"mod":              mod,
		"name":             name,
		"usn":              -1,
		"lrnToday":         []int{0, 0},
		"revToday":         []int{0, 0},
		"newToday":         []int{0, 0},
		"timeToday":        []int{0, 0},
		"collapsed":        false,
		"browserCollapsed": false,
		"desc":             desc,
		"dyn":              0,
		"conf":             1,
		"extendNew":        10,
		"extendRev":        50,
	}
}

func decksJSON(a *ids.Assignment, mod int64) object {
	out := object{
		strconv.Itoa(ids.DefaultDeckID): deckJSON(ids.DefaultDeckID, ids.DefaultDeckName, "", mod),
	}
	for _, d := range a.Decks {
		out[strconv.FormatInt(d.ID, 10)] = deckJSON(d.ID, d.Name, d.Description, mod)
	}
	return out
}
