// Package archive assembles a package: a deflate zip holding the collection,
// the media manifest and the staged media files.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/storage"
)

// Entry names.
const (
	CollectionEntry = "collection.anki2"
	ManifestEntry   = "media"
)

var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Source is one file to include, read from disk when the archive is written.
type Source struct {
	Entry string
	Path  string
}

// Contents describes everything that goes into one archive, in entry order.
type Contents struct {
	// CollectionPath is the finished collection database.
	CollectionPath string
	// Manifest is the encoded media manifest.
	Manifest []byte
	// Media are the staged files, already named "0", "1", ...
	Media []Source
	// Modified pins every entry timestamp so that repeated builds compare equal.
	Modified time.Time
}

// Write streams the archive into w.
func Write(w io.Writer, c Contents) error {
	zw := zip.NewWriter(w)

	if err := addFile(zw, CollectionEntry, c.CollectionPath, c.Modified); err != nil {
		return err
	}
	if err := addBytes(zw, ManifestEntry, manifestOrEmpty(c.Manifest), c.Modified); err != nil {
		return err
	}
	for _, m := range c.Media {
		if err := addFile(zw, m.Entry, m.Path, c.Modified); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("archive: finish: %w", err)
	}
	return nil
}

// WriteFile writes the archive to target atomically. On failure target is
// left as it was and no temp file remains.
func WriteFile(target string, c Contents) error {
	err := storage.WriteAtomic(target, func(w io.Writer) error {
		return Write(w, c)
	})
	if err != nil {
		return apperr.WrapIO(target, err)
	}
	return nil
}

// Bytes returns the archive as an in-memory buffer.
func Bytes(c Contents) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func manifestOrEmpty(m []byte) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	return m
}

func header(name string, modified time.Time) *zip.FileHeader {
	h := &zip.FileHeader{Name: name, Method: zip.Deflate}
	// MS-DOS timestamps start in 1980.
	if modified.Before(zipEpoch) {
		modified = zipEpoch
	}
	h.Modified = modified.UTC()
	return h
}

func addBytes(zw *zip.Writer, name string, data []byte, modified time.Time) error {
	w, err := zw.CreateHeader(header(name, modified))
	if err != nil {
		return fmt.Errorf("archive: create entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("archive: write entry %s: %w", name, err)
	}
	return nil
}

func addFile(zw *zip.Writer, name, path string, modified time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return apperr.WrapIO(path, err)
	}
	defer f.Close()

	w, err := zw.CreateHeader(header(name, modified))
	if err != nil {
		return fmt.Errorf("archive: create entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return apperr.WrapIO(path, fmt.Errorf("archive: copy entry %s: %w", name, err))
	}
	return nil
}
