// Package watch rebuilds workspace packages when their definition files change.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/deckpack/internal/deckservice"
)

// Debounce is how long the watcher waits for a burst of writes to settle
// before building.
const Debounce = 200 * time.Millisecond

// Event kinds passed to the callback.
const (
	KindBuilt   = "built"
	KindFailed  = "failed"
	KindRemoved = "removed"
)

// Event reports one watcher-driven change.
type Event struct {
	Kind       string
	Definition string
	Report     *deckservice.BuildReport
	Err        error
}

// EventCallback is called after each watcher-driven build or removal.
type EventCallback func(Event)

// Workspace is the part of the workspace service the watcher drives.
type Workspace interface {
	BuildDefinition(ctx context.Context, name string, force bool) (*deckservice.BuildReport, error)
	RemovePackage(ctx context.Context, name string) error
}

// Watch starts an fsnotify watcher on the definitions root and rebuilds
// changed definitions until ctx is cancelled. Events are collected and
// handled together once the root has been quiet for Debounce; a pending
// path that no longer exists has its package removed.
func Watch(ctx context.Context, ws Workspace, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	schedule := func(rel string) {
		pending[rel] = struct{}{}
		if timer == nil {
			timer = time.NewTimer(Debounce)
			fire = timer.C
		} else {
			timer.Reset(Debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-fire:
			timer, fire = nil, nil
			flush(ctx, ws, root, pending, logger, cb)
			pending = make(map[string]struct{})

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
						continue
					}
					logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					for _, rel := range definitionsUnder(root, absPath) {
						schedule(rel)
					}
					continue
				}
			}

			if !deckservice.IsDefinition(absPath) || strings.HasPrefix(filepath.Base(absPath), ".") {
				continue
			}
			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule(filepath.ToSlash(rel))
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// flush builds or removes every pending definition in path order.
func flush(ctx context.Context, ws Workspace, root string, pending map[string]struct{}, logger *slog.Logger, cb EventCallback) {
	names := make([]string, 0, len(pending))
	for rel := range pending {
		names = append(names, rel)
	}
	sort.Strings(names)

	for _, rel := range names {
		ev := Event{Definition: rel}
		_, statErr := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		switch {
		case errors.Is(statErr, fs.ErrNotExist):
			if err := ws.RemovePackage(ctx, rel); err != nil {
				logger.Warn("watcher: remove failed", slog.String("path", rel), slog.String("error", err.Error()))
				continue
			}
			ev.Kind = KindRemoved
			logger.Debug("watcher: removed", slog.String("path", rel))
		default:
			report, err := ws.BuildDefinition(ctx, rel, false)
			if err != nil {
				ev.Kind, ev.Err = KindFailed, err
				logger.Warn("watcher: build failed", slog.String("path", rel), slog.String("error", err.Error()))
				break
			}
			if report.Skipped {
				continue
			}
			ev.Kind, ev.Report = KindBuilt, report
			logger.Info("watcher: built",
				slog.String("path", rel),
				slog.String("package", report.Package),
				slog.Int("notes", report.Notes),
				slog.Int("cards", report.Cards))
		}
		if cb != nil {
			cb(ev)
		}
	}
}

// definitionsUnder lists definition files already present in a new directory.
func definitionsUnder(root, dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !deckservice.IsDefinition(path) {
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
