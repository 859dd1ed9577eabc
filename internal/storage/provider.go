// Package storage defines the workspace file-system abstraction.
package storage

import (
	"io"

	"github.com/starford/deckpack/internal/models"
)

// Provider is the interface for workspace file operations. Paths are relative
// to the provider root.
type Provider interface {
	// List returns metadata for every file under dir whose extension is in exts.
	// An empty exts lists every regular file.
	List(dir string, exts ...string) ([]models.FileMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Open opens the file at path for streaming reads.
	Open(path string) (io.ReadCloser, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// WriteFrom atomically streams r into path.
	WriteFrom(path string, r io.Reader) (int64, error)
	// Delete removes the file at path.
	Delete(path string) error
	// Abs resolves path against the root, rejecting traversal.
	Abs(path string) (string, error)
}
