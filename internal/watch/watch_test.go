package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/deckpack/internal/builder"
	"github.com/starford/deckpack/internal/deckservice"
	"github.com/starford/deckpack/internal/storage"
	"github.com/starford/deckpack/internal/testutil"
)

// watcherTestEnv sets up a workspace with definitions, media and output dirs.
func watcherTestEnv(t *testing.T) (defsDir, outDir string, svc *deckservice.Service) {
	t.Helper()
	root := t.TempDir()
	dirs := make([]*storage.FS, 3)
	for i, name := range []string{"decks", "media", "out"} {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatal(err)
		}
		fs, err := storage.NewFS(p)
		if err != nil {
			t.Fatal(err)
		}
		dirs[i] = fs
	}
	b := builder.New(builder.WithMediaLibrary(dirs[1]))
	return dirs[0].Root(), dirs[2].Root(), deckservice.NewService(dirs[0], dirs[1], dirs[2], b)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev.Kind+":"+ev.Definition)
	r.mu.Unlock()
}

func (r *recorder) has(want string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == want {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestWatcher_NewDefinitionBuilt(t *testing.T) {
	defsDir, outDir, svc := watcherTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	go Watch(ctx, svc, defsDir, quietLogger(), rec.record)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(defsDir, "spanish.yaml"), []byte(testutil.BasicYAML), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return exists(filepath.Join(outDir, "spanish.apkg"))
	}, "new definition not built by watcher")
	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("built:spanish.yaml")
	}, "expected built:spanish.yaml callback")
}

func TestWatcher_InvalidDefinitionReported(t *testing.T) {
	defsDir, outDir, svc := watcherTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	go Watch(ctx, svc, defsDir, quietLogger(), rec.record)
	time.Sleep(100 * time.Millisecond)

	broken := strings.Replace(testutil.BasicYAML, "deck: Spanish", "deck: Nowhere", 1)
	_ = os.WriteFile(filepath.Join(defsDir, "broken.yaml"), []byte(broken), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("failed:broken.yaml")
	}, "expected failed:broken.yaml callback")
	if exists(filepath.Join(outDir, "broken.apkg")) {
		t.Error("package written for an invalid definition")
	}
}

func TestWatcher_NewDirWatched(t *testing.T) {
	defsDir, outDir, svc := watcherTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, svc, defsDir, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	subDir := filepath.Join(defsDir, "lang")
	_ = os.MkdirAll(subDir, 0o755)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(subDir, "spanish.yaml"), []byte(testutil.BasicYAML), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return exists(filepath.Join(outDir, "lang", "spanish.apkg"))
	}, "definition in new subdir not built by watcher")
}

func TestWatcher_DeleteRemovesPackage(t *testing.T) {
	defsDir, outDir, svc := watcherTestEnv(t)
	_ = os.WriteFile(filepath.Join(defsDir, "del.yaml"), []byte(testutil.BasicYAML), 0o644)
	if _, err := svc.BuildAll(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if !exists(filepath.Join(outDir, "del.apkg")) {
		t.Fatal("precondition: package should exist")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{}
	go Watch(ctx, svc, defsDir, quietLogger(), rec.record)
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(filepath.Join(defsDir, "del.yaml"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !exists(filepath.Join(outDir, "del.apkg"))
	}, "package of deleted definition still present")
	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("removed:del.yaml")
	}, "expected removed:del.yaml callback")
}

func TestWatcher_RenameMovesPackage(t *testing.T) {
	defsDir, outDir, svc := watcherTestEnv(t)
	_ = os.WriteFile(filepath.Join(defsDir, "old.yaml"), []byte(testutil.BasicYAML), 0o644)
	_, _ = svc.BuildAll(context.Background(), false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, svc, defsDir, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Rename(filepath.Join(defsDir, "old.yaml"), filepath.Join(defsDir, "renamed.yaml"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !exists(filepath.Join(outDir, "old.apkg")) && exists(filepath.Join(outDir, "renamed.apkg"))
	}, "rename: old package should be removed and new package built")
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	defsDir, _, svc := watcherTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	go Watch(ctx, svc, defsDir, quietLogger(), rec.record)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(defsDir, "readme.md"), []byte("# hi"), 0o644)
	time.Sleep(3 * Debounce)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 0 {
		t.Errorf("events = %v", rec.events)
	}
}
