// Package deckservice coordinates the workspace: definition files, the media
// library and the built packages. The HTTP API, the watcher and the MCP server
// all go through it.
package deckservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/builder"
	"github.com/starford/deckpack/internal/checksum"
	"github.com/starford/deckpack/internal/connect"
	"github.com/starford/deckpack/internal/ids"
	"github.com/starford/deckpack/internal/loader"
	"github.com/starford/deckpack/internal/models"
	"github.com/starford/deckpack/internal/storage"
)

// PackageExt is the extension of built packages.
const PackageExt = ".apkg"

// DefinitionItem is a lightweight item in a definition list response.
type DefinitionItem struct {
	Name      string    `json:"name"`
	Package   string    `json:"package"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	Built     bool      `json:"built"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BuildReport describes one workspace build.
type BuildReport struct {
	Definition string `json:"definition"`
	Package    string `json:"package"`
	Checksum   string `json:"checksum"`
	Notes      int    `json:"notes"`
	Cards      int    `json:"cards"`
	Media      int    `json:"media"`
	Size       int64  `json:"size"`
	// Skipped is set when the definition is unchanged since its last build.
	Skipped    bool  `json:"skipped"`
	DurationMS int64 `json:"duration_ms"`
}

// Service coordinates workspace storage and the package builder.
type Service struct {
	definitions storage.Provider
	media       storage.Provider
	output      storage.Provider
	builder     *builder.Builder
	importer    *connect.Importer
	logger      *slog.Logger

	mu sync.Mutex
	// built maps a definition name to the checksum it was last built from.
	built map[string]string
}

// Option configures a Service.
type Option func(*Service)

// WithImporter enables live import of workspace definitions.
func WithImporter(i *connect.Importer) Option {
	return func(s *Service) { s.importer = i }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new workspace service. The builder should resolve
// relative media paths against the media library root.
func NewService(definitions, media, output storage.Provider, b *builder.Builder, opts ...Option) *Service {
	s := &Service{
		definitions: definitions,
		media:       media,
		output:      output,
		builder:     b,
		logger:      slog.Default(),
		built:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PackageName maps a definition name to its package name ("a/b.yaml" -> "a/b.apkg").
func PackageName(definition string) string {
	return strings.TrimSuffix(definition, path.Ext(definition)) + PackageExt
}

// IsDefinition reports whether name has a definition file extension.
func IsDefinition(name string) bool {
	_, err := loader.FormatFromPath(name)
	return err == nil
}

// ListDefinitions returns every definition file in the workspace.
func (s *Service) ListDefinitions(_ context.Context) ([]DefinitionItem, error) {
	files, err := s.definitions.List("", loader.Extensions...)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]DefinitionItem, len(files))
	for i, f := range files {
		items[i] = DefinitionItem{
			Name:      f.Path,
			Package:   PackageName(f.Path),
			Checksum:  f.Checksum,
			Size:      f.Size,
			Built:     s.built[f.Path] == f.Checksum,
			UpdatedAt: f.UpdatedAt,
		}
	}
	return items, nil
}

// GetDefinition loads and decodes a workspace definition.
func (s *Service) GetDefinition(_ context.Context, name string) (*models.PackageDefinition, error) {
	def, _, err := s.readDefinition(name)
	return def, err
}

// DefinitionDetail is a definition file together with its decoded content.
type DefinitionDetail struct {
	Name       string                    `json:"name"`
	Package    string                    `json:"package"`
	Checksum   string                    `json:"checksum"`
	Content    string                    `json:"content"`
	Definition *models.PackageDefinition `json:"definition"`
}

// DefinitionSource returns the raw file and its decoded form.
func (s *Service) DefinitionSource(_ context.Context, name string) (*DefinitionDetail, error) {
	def, sum, err := s.readDefinition(name)
	if err != nil {
		return nil, err
	}
	data, err := s.definitions.Read(name)
	if err != nil {
		return nil, err
	}
	return &DefinitionDetail{
		Name:       name,
		Package:    PackageName(name),
		Checksum:   sum,
		Content:    string(data),
		Definition: def,
	}, nil
}

// PutDefinition stores a definition after checking that it decodes. Semantic
// validation is left to the build so that work-in-progress files can be saved.
// A non-empty ifMatch must equal the checksum of the stored file.
func (s *Service) PutDefinition(_ context.Context, name string, content []byte, ifMatch string) (*DefinitionItem, error) {
	format, err := loader.FormatFromPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidArgument, err)
	}
	if _, err := loader.Parse(content, format); err != nil {
		return nil, err
	}
	if ifMatch != "" {
		existing, err := s.definitions.Read(name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, apperr.ErrNotFound
			}
			return nil, err
		}
		if checksum.Sum(existing) != ifMatch {
			return nil, apperr.ErrConflict
		}
	}
	if err := s.definitions.Write(name, content); err != nil {
		return nil, err
	}
	return &DefinitionItem{
		Name:      name,
		Package:   PackageName(name),
		Checksum:  checksum.Sum(content),
		Size:      int64(len(content)),
		UpdatedAt: time.Now(),
	}, nil
}

// DeleteDefinition removes a definition and its package.
func (s *Service) DeleteDefinition(ctx context.Context, name string) error {
	if err := s.definitions.Delete(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	return s.RemovePackage(ctx, name)
}

// RemovePackage forgets a definition's build state and deletes its package.
// A package that does not exist is not an error.
func (s *Service) RemovePackage(_ context.Context, name string) error {
	s.mu.Lock()
	delete(s.built, name)
	s.mu.Unlock()

	if err := s.output.Delete(PackageName(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Validate checks def and derives its identifiers without writing anything.
func (s *Service) Validate(_ context.Context, def *models.PackageDefinition) (*ids.Assignment, error) {
	return s.builder.Plan(def)
}

// BuildBytes builds def in memory.
func (s *Service) BuildBytes(ctx context.Context, def *models.PackageDefinition) ([]byte, *builder.Result, error) {
	return s.builder.Bytes(ctx, def)
}

// BuildDefinition builds the named workspace definition into the output
// directory. Unless force is set, a definition whose content is unchanged
// since its last successful build is skipped.
func (s *Service) BuildDefinition(ctx context.Context, name string, force bool) (*BuildReport, error) {
	start := time.Now()
	def, sum, err := s.readDefinition(name)
	if err != nil {
		return nil, err
	}
	report := &BuildReport{Definition: name, Package: PackageName(name), Checksum: sum}

	if !force && s.upToDate(name, sum) {
		report.Skipped = true
		return report, nil
	}

	target, err := s.output.Abs(report.Package)
	if err != nil {
		return nil, err
	}
	res, err := s.builder.WriteFile(ctx, def, target)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}

	s.mu.Lock()
	s.built[name] = sum
	s.mu.Unlock()

	report.Notes = res.Notes()
	report.Cards = res.Cards()
	report.Media = len(res.Media)
	report.Size = res.Size
	report.DurationMS = time.Since(start).Milliseconds()
	return report, nil
}

// BuildAll builds every workspace definition. A failing definition does not
// stop the others; their errors are joined.
func (s *Service) BuildAll(ctx context.Context, force bool) ([]BuildReport, error) {
	items, err := s.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	var reports []BuildReport
	var errs []error
	for _, item := range items {
		r, err := s.BuildDefinition(ctx, item.Name, force)
		if err != nil {
			s.logger.Warn("build failed", slog.String("definition", item.Name), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		reports = append(reports, *r)
	}
	return reports, errors.Join(errs...)
}

// ErrImportDisabled is returned by Import when no importer is configured.
var ErrImportDisabled = errors.New("live import is not configured")

// Import pushes the named workspace definition into the running instance.
func (s *Service) Import(ctx context.Context, name string) (*connect.ImportResult, error) {
	if s.importer == nil {
		return nil, ErrImportDisabled
	}
	def, _, err := s.readDefinition(name)
	if err != nil {
		return nil, err
	}
	return s.importer.Import(ctx, def)
}

// PackagePath returns the absolute path of a built package.
func (s *Service) PackagePath(name string) (string, error) {
	if path.Ext(name) != PackageExt {
		return "", apperr.ErrNotFound
	}
	abs, err := s.output.Abs(name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperr.ErrInvalidArgument, err)
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperr.ErrNotFound
		}
		return "", apperr.WrapIO(abs, err)
	}
	return abs, nil
}

func (s *Service) upToDate(name, sum string) bool {
	s.mu.Lock()
	last, ok := s.built[name]
	s.mu.Unlock()
	if !ok || last != sum {
		return false
	}
	_, err := s.PackagePath(PackageName(name))
	return err == nil
}

func (s *Service) readDefinition(name string) (*models.PackageDefinition, string, error) {
	format, err := loader.FormatFromPath(name)
	if err != nil {
		return nil, "", err
	}
	data, err := s.definitions.Read(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", apperr.ErrNotFound
		}
		return nil, "", err
	}
	def, err := loader.Parse(data, format)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", name, err)
	}
	return def, checksum.Sum(data), nil
}
