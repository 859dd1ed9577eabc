// Package loader decodes package definitions from YAML, TOML or JSON documents.
package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/models"
)

// Format identifies a definition document syntax.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// Extensions lists the file extensions recognised as definitions.
var Extensions = []string{".yaml", ".yml", ".toml", ".json"}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("loader: unsupported definition file %q", filepath.Base(path))
	}
}

// ParseFormat parses a format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case FormatYAML, FormatTOML, FormatJSON:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("loader: unknown format %q", name)
	}
}

// Parse decodes a definition. Unknown keys are rejected so that typos surface
// instead of silently dropping data. Syntax errors are reported as
// *apperr.DefinitionError.
func Parse(data []byte, format Format) (*models.PackageDefinition, error) {
	var def models.PackageDefinition
	var err error
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&def)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&def)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&def)
	default:
		return nil, fmt.Errorf("loader: unknown format %q", format)
	}
	if err != nil {
		return nil, &apperr.DefinitionError{Issues: []apperr.Issue{{
			Kind:    apperr.IssueInvalidStructure,
			Subject: string(format),
			Message: err.Error(),
		}}}
	}

	applyDefaults(&def)
	return &def, nil
}

// LoadFile reads and decodes the definition at path, choosing the format by
// extension.
func LoadFile(path string) (*models.PackageDefinition, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.WrapIO(path, err)
	}
	def, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("loader: %s: %w", filepath.Base(path), err)
	}
	return def, nil
}

func applyDefaults(def *models.PackageDefinition) {
	if def.Package.Version == "" {
		def.Package.Version = models.DefaultVersion
	}
	for i := range def.Models {
		if def.Models[i].Kind == "" {
			def.Models[i].Kind = models.KindStandard
		}
	}
}
