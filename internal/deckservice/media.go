package deckservice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/checksum"
	"github.com/starford/deckpack/internal/models"
)

// MaxMediaSize caps one media library file.
const MaxMediaSize = 50 << 20

// mediaTypes maps an allowed extension to the content types it may sniff as.
// Bare MPEG audio frames and some MP4 brands are not recognised by
// http.DetectContentType, so those accept the generic type too.
var mediaTypes = map[string][]string{
	".png":  {"image/png"},
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".gif":  {"image/gif"},
	".webp": {"image/webp"},
	".svg":  nil,
	".mp3":  {"audio/mpeg", "application/octet-stream"},
	".ogg":  {"application/ogg", "audio/ogg"},
	".wav":  {"audio/wave"},
	".m4a":  {"video/mp4", "audio/mp4", "application/octet-stream"},
	".mp4":  {"video/mp4"},
	".webm": {"video/webm"},
}

// MediaExtensions returns the allowed media extensions in sorted order.
func MediaExtensions() []string {
	exts := make([]string, 0, len(mediaTypes))
	for ext := range mediaTypes {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// MediaItem describes one file in the media library.
type MediaItem struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// CheckMediaName validates that name is a plain file name with an allowed
// extension.
func CheckMediaName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: filename is required", apperr.ErrInvalidArgument)
	}
	cleaned := filepath.Clean(name)
	if strings.ContainsAny(name, `/\`) || cleaned != filepath.Base(cleaned) || strings.HasPrefix(cleaned, ".") {
		return fmt.Errorf("%w: invalid filename: %s", apperr.ErrInvalidArgument, name)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := mediaTypes[ext]; !ok {
		return fmt.Errorf("%w: unsupported file extension %q (allowed: %s)", apperr.ErrInvalidArgument, ext, strings.Join(MediaExtensions(), ", "))
	}
	return nil
}

// CheckMediaContent verifies that data looks like its extension claims.
func CheckMediaContent(name string, data []byte) error {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".svg" {
		prefix := data
		if len(prefix) > 1024 {
			prefix = prefix[:1024]
		}
		if !bytes.Contains(prefix, []byte("<svg")) {
			return fmt.Errorf("%w: content does not appear to be a valid SVG (missing <svg tag)", apperr.ErrInvalidArgument)
		}
		return nil
	}
	allowed, ok := mediaTypes[ext]
	if !ok {
		return fmt.Errorf("%w: unsupported file extension %q", apperr.ErrInvalidArgument, ext)
	}
	detected := strings.Split(http.DetectContentType(data), ";")[0]
	for _, t := range allowed {
		if t == detected {
			return nil
		}
	}
	return fmt.Errorf("%w: content does not match extension %s (detected: %s)", apperr.ErrInvalidArgument, ext, detected)
}

// AddMedia stores a new file in the media library. Existing files are never
// replaced.
func (s *Service) AddMedia(_ context.Context, name string, r io.Reader) (*MediaItem, error) {
	if err := CheckMediaName(name); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxMediaSize+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if len(data) > MaxMediaSize {
		return nil, fmt.Errorf("%w: file too large: exceeds %d bytes", apperr.ErrInvalidArgument, MaxMediaSize)
	}
	if err := CheckMediaContent(name, data); err != nil {
		return nil, err
	}
	if _, err := s.media.Read(name); err == nil {
		return nil, apperr.ErrAlreadyExists
	}
	if err := s.media.Write(name, data); err != nil {
		return nil, err
	}
	s.logger.Info("media added", slog.String("name", name), slog.Int("size", len(data)))
	return mediaItem(models.FileMetadata{Path: name, Checksum: checksum.Sum(data), Size: int64(len(data))}), nil
}

// ListMedia returns every file in the media library.
func (s *Service) ListMedia(_ context.Context) ([]MediaItem, error) {
	files, err := s.media.List("", MediaExtensions()...)
	if err != nil {
		return nil, err
	}
	items := make([]MediaItem, 0, len(files))
	for _, f := range files {
		if strings.Contains(f.Path, "/") {
			continue
		}
		items = append(items, *mediaItem(f))
	}
	return items, nil
}

// MediaPath returns the absolute path of a media library file.
func (s *Service) MediaPath(name string) (string, error) {
	if err := CheckMediaName(name); err != nil {
		return "", err
	}
	abs, err := s.media.Abs(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperr.ErrNotFound
		}
		return "", apperr.WrapIO(abs, err)
	}
	return abs, nil
}

func mediaItem(f models.FileMetadata) *MediaItem {
	return &MediaItem{Name: f.Path, Checksum: f.Checksum, Size: f.Size, URL: "/media/" + f.Path}
}
