// Package media stages the files a definition references for inclusion in a
// package. Staged files are named by their position ("0", "1", ...) and the
// manifest maps each position back to the original file name.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/checksum"
	"github.com/starford/deckpack/internal/models"
	"github.com/starford/deckpack/internal/storage"
)

// maxParallelCopies bounds concurrent file copies within one Stage call.
const maxParallelCopies = 4

// File is one staged media file.
type File struct {
	Index    int
	Name     string // file name inside the package
	Source   string // resolved source path
	Staged   string // absolute path of the staged copy
	Checksum string // hex SHA-256 of the content
	Size     int64
}

// Entry is the archive entry name of the staged file.
func (f File) Entry() string { return strconv.Itoa(f.Index) }

// Staged is the result of one Stage call.
type Staged struct {
	Files []File
}

// Manifest maps archive entry names to the original file names.
func (s *Staged) Manifest() map[string]string {
	m := make(map[string]string, len(s.Files))
	for _, f := range s.Files {
		m[f.Entry()] = f.Name
	}
	return m
}

// ManifestJSON encodes the manifest. Keys are emitted in sorted order.
func (s *Staged) ManifestJSON() ([]byte, error) {
	data, err := json.Marshal(s.Manifest())
	if err != nil {
		return nil, fmt.Errorf("media: encode manifest: %w", err)
	}
	return data, nil
}

// Resolve returns the source path of ref, joining relative paths with baseDir.
func Resolve(ref models.MediaReference, baseDir string) string {
	if filepath.IsAbs(ref.Path) || baseDir == "" {
		return ref.Path
	}
	return filepath.Join(baseDir, ref.Path)
}

// Resolver maps a media reference to the path of its source file.
type Resolver func(ref models.MediaReference) (string, error)

// Dir resolves relative paths against baseDir and leaves absolute paths as
// they are. It suits callers that own the definition, such as the CLI.
func Dir(baseDir string) Resolver {
	return func(ref models.MediaReference) (string, error) {
		return Resolve(ref, baseDir), nil
	}
}

// Library resolves every path inside lib. Absolute paths, traversal and
// symlinks leading out of the library fail with apperr.ErrInvalidArgument.
func Library(lib *storage.FS) Resolver {
	return func(ref models.MediaReference) (string, error) {
		if ref.Path == "" {
			return "", fmt.Errorf("%w: empty media path", apperr.ErrInvalidArgument)
		}
		path, err := lib.Abs(ref.Path)
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperr.ErrInvalidArgument, err)
		}
		target, err := filepath.EvalSymlinks(path)
		if err != nil {
			// Missing files are reported by the open that follows.
			return path, nil
		}
		root, err := filepath.EvalSymlinks(lib.Root())
		if err != nil {
			return "", apperr.WrapIO(lib.Root(), err)
		}
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return "", fmt.Errorf("%w: media path leaves the library: %s", apperr.ErrInvalidArgument, ref.Path)
		}
		return target, nil
	}
}

// Stage copies every referenced file into stagingDir. Every source is
// resolved and opened before anything is copied; the first failure is
// returned as an *apperr.MediaError and stagingDir is left untouched.
func Stage(ctx context.Context, refs []models.MediaReference, resolve Resolver, stagingDir string) (*Staged, error) {
	sources := make([]*os.File, len(refs))
	defer func() {
		for _, f := range sources {
			if f != nil {
				_ = f.Close()
			}
		}
	}()
	for i, ref := range refs {
		path, err := resolve(ref)
		if err != nil {
			return nil, &apperr.MediaError{Name: ref.Name, Path: ref.Path, Err: err}
		}
		f, err := openRegular(path)
		if err != nil {
			return nil, &apperr.MediaError{Name: ref.Name, Path: path, Err: err}
		}
		sources[i] = f
	}

	staged := &Staged{Files: make([]File, len(refs))}
	if len(refs) == 0 {
		return staged, nil
	}

	dst, err := storage.NewFS(stagingDir)
	if err != nil {
		return nil, apperr.WrapIO(stagingDir, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelCopies)
	for i, ref := range refs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			file := File{Index: i, Name: ref.Name, Source: sources[i].Name()}
			h := checksum.NewHasher()
			n, err := dst.WriteFrom(file.Entry(), io.TeeReader(sources[i], h))
			if err != nil {
				return apperr.WrapIO(file.Source, err)
			}
			file.Size = n
			file.Checksum = h.Sum()
			if file.Staged, err = dst.Abs(file.Entry()); err != nil {
				return apperr.WrapIO(file.Entry(), err)
			}
			staged.Files[i] = file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return staged, nil
}

func openRegular(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return f, nil
}
