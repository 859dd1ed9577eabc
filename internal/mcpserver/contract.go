package mcpserver

// DefinitionFormatContract describes the package definition format that LLM
// consumers should follow when writing definitions.
const DefinitionFormatContract = `# Deck Definition Format Contract

A definition describes one Anki package: note types (models), decks, notes and
media. Files live in the definitions workspace and end with .yaml, .yml, .toml
or .json. Unknown keys are rejected.

## Structure

` + "```" + `yaml
package:
  name: Spanish Vocabulary         # REQUIRED
  version: 1.0.0                   # OPTIONAL, defaults to 1.0.0
  author: Jane Doe                 # OPTIONAL
models:
  - name: Basic                    # REQUIRED, unique
    kind: standard                 # standard (default) or cloze
    fields: [Front, Back]          # REQUIRED, unique, order is significant
    sort_field: Front              # OPTIONAL, defaults to the first field
    markdown_fields: [Back]        # OPTIONAL, rendered from Markdown to HTML
    css: ".card { font-size: 20px; }"
    templates:                     # REQUIRED, at least one
      - name: Card 1
        front: "{{Front}}"
        back: "{{FrontSide}}<hr id=answer>{{Back}}"
decks:
  - name: Spanish::Verbs           # "::" separates parent and child decks
    description: Common verbs
notes:
  - deck: Spanish::Verbs           # REQUIRED, must be declared above
    model: Basic                   # REQUIRED, must be declared above
    fields:                        # REQUIRED, exactly the model's fields
      Front: hablar
      Back: "to speak [sound:hablar.mp3]"
    tags: [verb, chapter1]         # OPTIONAL
media:
  - name: hablar.mp3               # plain file name referenced by fields
    path: hablar.mp3               # relative to the media library
` + "```" + `

## Rules

1. **Names are unique.** Two models, two decks or two media entries may not share a name.
2. **Field maps are exact.** Every note supplies every field of its model and no others.
3. **Cloze notes** need at least one ` + "`" + `{{c1::...}}` + "`" + ` deletion. One card is produced
   per distinct deletion number, whatever the number of templates.
4. **Identifiers are derived** from names and content, so rebuilding an unchanged
   definition yields the same note, card, model and deck ids. Set ` + "`" + `id` + "`" + ` on a
   note, deck or model only to pin an identifier from an earlier release.
5. **Parent decks** are created automatically: declaring ` + "`" + `A::B` + "`" + ` also creates ` + "`" + `A` + "`" + `.
6. **Tags** are single words: no spaces, no empty tags. Use ` + "`" + `::` + "`" + ` for hierarchy.
7. **Language policy:** file names and keys MUST be in English. Field values may use any language.

## Media

- Add files with the ` + "`" + `add_media` + "`" + ` tool. It returns the reference to paste into a field.
- Reference audio as ` + "`" + `[sound:name.mp3]` + "`" + ` and images as ` + "`" + `<img src="name.png">` + "`" + `.
- Every referenced file must also be listed under ` + "`" + `media` + "`" + `.
- Media paths are relative to the media library and may not leave it.
- ` + "`" + `make_cloze` + "`" + ` turns plain text plus a list of deletions into cloze field text.
- Supported formats: png, jpg, jpeg, gif, webp, svg, mp3, ogg, wav, m4a, mp4, webm.

## Workflow

1. Call ` + "`" + `validate_definition` + "`" + ` and fix every reported issue.
2. Call ` + "`" + `save_definition` + "`" + ` to store the file.
3. Call ` + "`" + `build_package` + "`" + ` to write the .apkg.
`
