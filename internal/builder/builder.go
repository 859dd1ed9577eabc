// Package builder runs the package pipeline: validate the definition, derive
// identifiers, stage media, write the collection and assemble the archive.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/archive"
	"github.com/starford/deckpack/internal/collection"
	"github.com/starford/deckpack/internal/ids"
	"github.com/starford/deckpack/internal/media"
	"github.com/starford/deckpack/internal/models"
	"github.com/starford/deckpack/internal/storage"
	"github.com/starford/deckpack/internal/validator"
)

// Builder turns definitions into packages. It holds no per-build state, so
// one Builder may serve concurrent builds to distinct targets.
type Builder struct {
	resolve  media.Resolver
	now      func() time.Time
	modTime  time.Time
	tempDir  string
	logger   *slog.Logger
}

// Option is a functional option for configuring a Builder.
type Option func(*Builder)

// WithMediaDir sets the directory relative media paths resolve against.
// Absolute paths are used as given.
func WithMediaDir(dir string) Option {
	return func(b *Builder) { b.resolve = media.Dir(dir) }
}

// WithMediaLibrary confines media paths to lib. Builds of definitions from
// untrusted callers use it so a reference cannot name files outside lib.
func WithMediaLibrary(lib *storage.FS) Option {
	return func(b *Builder) { b.resolve = media.Library(lib) }
}

// WithClock sets the clock used for the collection creation time.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithModTime sets the modification time recorded on every row and archive
// entry. The default is the Unix epoch.
func WithModTime(t time.Time) Option {
	return func(b *Builder) { b.modTime = t }
}

// WithTempDir sets where per-build scratch directories are created.
func WithTempDir(dir string) Option {
	return func(b *Builder) { b.tempDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// New creates a Builder.
func New(opts ...Option) *Builder {
	b := &Builder{
		resolve: media.Dir(""),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Result summarises a finished build.
type Result struct {
	Assignment *ids.Assignment
	Media      []media.File
	Created    time.Time
	Size       int64
}

// Notes returns the number of notes written.
func (r *Result) Notes() int { return len(r.Assignment.Notes) }

// Cards returns the number of cards written.
func (r *Result) Cards() int { return len(r.Assignment.Cards()) }

// Plan validates def and derives its identifiers without writing anything.
func (b *Builder) Plan(def *models.PackageDefinition) (*ids.Assignment, error) {
	if err := validator.Validate(def); err != nil {
		return nil, err
	}
	a, err := ids.Derive(def)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// WriteFile builds def and atomically writes the package to target. On
// failure target is left untouched.
func (b *Builder) WriteFile(ctx context.Context, def *models.PackageDefinition, target string) (*Result, error) {
	res, err := b.build(ctx, def, func(c archive.Contents) error {
		return archive.WriteFile(target, c)
	})
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(target); err == nil {
		res.Size = info.Size()
	}
	b.logger.Info("package written",
		slog.String("target", target),
		slog.String("package", def.Package.Name),
		slog.Int("notes", res.Notes()),
		slog.Int("cards", res.Cards()),
		slog.Int("media", len(res.Media)),
		slog.Int64("bytes", res.Size))
	return res, nil
}

// Bytes builds def and returns the package content.
func (b *Builder) Bytes(ctx context.Context, def *models.PackageDefinition) ([]byte, *Result, error) {
	var data []byte
	res, err := b.build(ctx, def, func(c archive.Contents) error {
		var err error
		data, err = archive.Bytes(c)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	res.Size = int64(len(data))
	return data, res, nil
}

func (b *Builder) build(ctx context.Context, def *models.PackageDefinition, emit func(archive.Contents) error) (*Result, error) {
	log := b.logger.With(slog.String("package", def.Package.Name))

	log.Debug("validating definition")
	a, err := b.Plan(def)
	if err != nil {
		return nil, err
	}
	log.Debug("identifiers derived",
		slog.Int("models", len(a.Models)),
		slog.Int("decks", len(a.Decks)),
		slog.Int("notes", len(a.Notes)))

	scratch, err := os.MkdirTemp(b.tempDir, "deckpack-build-*")
	if err != nil {
		return nil, apperr.WrapIO(b.tempDir, fmt.Errorf("builder: create scratch dir: %w", err))
	}
	defer os.RemoveAll(scratch)

	stagingDir := filepath.Join(scratch, "media")
	if err := os.Mkdir(stagingDir, 0o755); err != nil {
		return nil, apperr.WrapIO(stagingDir, err)
	}
	staged, err := media.Stage(ctx, def.Media, b.resolve, stagingDir)
	if err != nil {
		return nil, err
	}
	log.Debug("media staged", slog.Int("files", len(staged.Files)))

	created := b.now()
	colPath := filepath.Join(scratch, collection.FileName)
	stamp := collection.Stamp{Created: created, Modified: b.modTime}
	if err := collection.Write(ctx, colPath, a, stamp); err != nil {
		return nil, err
	}
	log.Debug("collection written")

	manifest, err := staged.ManifestJSON()
	if err != nil {
		return nil, err
	}
	contents := archive.Contents{
		CollectionPath: colPath,
		Manifest:       manifest,
		Modified:       b.modTime,
	}
	for _, f := range staged.Files {
		contents.Media = append(contents.Media, archive.Source{Entry: f.Entry(), Path: f.Staged})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := emit(contents); err != nil {
		return nil, err
	}
	log.Debug("archive assembled")

	return &Result{Assignment: a, Media: staged.Files, Created: created}, nil
}
