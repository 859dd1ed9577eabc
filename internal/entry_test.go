package internal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/deckpack/internal/testutil"
	"github.com/starford/deckpack/internal/watch"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	root := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Workspace = WorkspaceConfig{
		Definitions: filepath.Join(root, "decks"),
		Media:       filepath.Join(root, "media"),
		Output:      filepath.Join(root, "dist"),
	}
	cfg.SQLite.Path = filepath.Join(root, "deckpack.db")
	return cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestNewWorkspace_CreatesDirs(t *testing.T) {
	cfg := testConfig(t)
	ws, err := NewWorkspace(cfg, discard())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	for _, dir := range []string{cfg.Workspace.Definitions, cfg.Workspace.Media, cfg.Workspace.Output} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}

	_ = ws.Definitions.Write("spanish.yaml", []byte(testutil.BasicYAML))
	report, err := ws.Service.BuildDefinition(context.Background(), "spanish.yaml", false)
	if err != nil {
		t.Fatalf("BuildDefinition: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Workspace.Output, report.Package)); err != nil {
		t.Errorf("package missing: %v", err)
	}
}

func TestNewWorkspace_BadEpoch(t *testing.T) {
	t.Setenv(SourceDateEpochEnv, "soon")
	if _, err := NewWorkspace(testConfig(t), discard()); err == nil {
		t.Fatal("expected error for malformed SOURCE_DATE_EPOCH")
	}
}

func TestReindex(t *testing.T) {
	cfg := testConfig(t)
	ws, err := NewWorkspace(cfg, discard())
	if err != nil {
		t.Fatal(err)
	}
	_ = ws.Definitions.Write("spanish.yaml", []byte(testutil.BasicYAML))

	db, err := openIndex(cfg, ws, discard())
	if err != nil {
		t.Fatalf("openIndex: %v", err)
	}
	defer db.Close()
	if res, _ := db.Search("hola", 10); len(res) != 1 {
		t.Fatalf("initial sync missed the definition: %+v", res)
	}

	reindex(db, ws.Definitions, watch.Event{Kind: watch.KindFailed, Definition: "spanish.yaml", Err: errors.New("boom")}, discard())
	if res, _ := db.Search("hola", 10); len(res) != 0 {
		t.Errorf("failed definition still indexed: %+v", res)
	}

	reindex(db, ws.Definitions, watch.Event{Kind: watch.KindBuilt, Definition: "spanish.yaml"}, discard())
	if res, _ := db.Search("hola", 10); len(res) != 1 {
		t.Errorf("rebuilt definition not indexed: %+v", res)
	}

	reindex(db, ws.Definitions, watch.Event{Kind: watch.KindRemoved, Definition: "spanish.yaml"}, discard())
	if res, _ := db.Search("hola", 10); len(res) != 0 {
		t.Errorf("removed definition still indexed: %+v", res)
	}
}
