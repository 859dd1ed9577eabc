package deckservice

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/builder"
	"github.com/starford/deckpack/internal/checksum"
	"github.com/starford/deckpack/internal/storage"
	"github.com/starford/deckpack/internal/testutil"
)

type workspace struct {
	svc  *Service
	defs *storage.FS
	out  string
}

func setup(t *testing.T) workspace {
	t.Helper()
	root := t.TempDir()
	mk := func(name string) *storage.FS {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		fs, err := storage.NewFS(dir)
		if err != nil {
			t.Fatal(err)
		}
		return fs
	}
	defs, media, out := mk("decks"), mk("media"), mk("out")
	b := builder.New(builder.WithMediaLibrary(media), builder.WithModTime(time.Unix(1700000000, 0)))
	return workspace{svc: NewService(defs, media, out, b), defs: defs, out: out.Root()}
}

func TestPackageName(t *testing.T) {
	cases := map[string]string{
		"spanish.yaml":     "spanish.apkg",
		"lang/french.toml": "lang/french.apkg",
		"bio.json":         "bio.apkg",
	}
	for in, want := range cases {
		if got := PackageName(in); got != want {
			t.Errorf("PackageName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildDefinition(t *testing.T) {
	ws := setup(t)
	if err := ws.defs.Write("spanish.yaml", []byte(testutil.BasicYAML)); err != nil {
		t.Fatal(err)
	}

	r, err := ws.svc.BuildDefinition(context.Background(), "spanish.yaml", false)
	if err != nil {
		t.Fatalf("BuildDefinition: %v", err)
	}
	if r.Skipped || r.Notes != 1 || r.Cards != 1 || r.Package != "spanish.apkg" {
		t.Errorf("report = %+v", r)
	}
	pkg := testutil.OpenPackage(t, filepath.Join(ws.out, "spanish.apkg"))
	if testutil.Count(t, pkg.DB, "notes") != 1 {
		t.Error("want one note in the built package")
	}
}

func TestBuildDefinition_SkipsUnchanged(t *testing.T) {
	ws := setup(t)
	ctx := context.Background()
	_ = ws.defs.Write("spanish.yaml", []byte(testutil.BasicYAML))

	if _, err := ws.svc.BuildDefinition(ctx, "spanish.yaml", false); err != nil {
		t.Fatal(err)
	}
	r, err := ws.svc.BuildDefinition(ctx, "spanish.yaml", false)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Skipped {
		t.Error("unchanged definition was rebuilt")
	}

	r, err = ws.svc.BuildDefinition(ctx, "spanish.yaml", true)
	if err != nil {
		t.Fatal(err)
	}
	if r.Skipped {
		t.Error("forced build was skipped")
	}

	_ = ws.defs.Write("spanish.yaml", []byte(strings.Replace(testutil.BasicYAML, "hello", "hi", 1)))
	r, _ = ws.svc.BuildDefinition(ctx, "spanish.yaml", false)
	if r.Skipped {
		t.Error("changed definition was skipped")
	}
}

func TestBuildDefinition_RebuildsMissingPackage(t *testing.T) {
	ws := setup(t)
	ctx := context.Background()
	_ = ws.defs.Write("spanish.yaml", []byte(testutil.BasicYAML))
	_, _ = ws.svc.BuildDefinition(ctx, "spanish.yaml", false)

	_ = os.Remove(filepath.Join(ws.out, "spanish.apkg"))
	r, err := ws.svc.BuildDefinition(ctx, "spanish.yaml", false)
	if err != nil {
		t.Fatal(err)
	}
	if r.Skipped {
		t.Error("build skipped although the package is gone")
	}
}

func TestBuildDefinition_NotFound(t *testing.T) {
	ws := setup(t)
	_, err := ws.svc.BuildDefinition(context.Background(), "gone.yaml", false)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBuildDefinition_InvalidKeepsPreviousPackage(t *testing.T) {
	ws := setup(t)
	ctx := context.Background()
	_ = ws.defs.Write("spanish.yaml", []byte(testutil.BasicYAML))
	_, _ = ws.svc.BuildDefinition(ctx, "spanish.yaml", false)
	before, _ := os.ReadFile(filepath.Join(ws.out, "spanish.apkg"))

	broken := strings.Replace(testutil.BasicYAML, "      Back: hello\n", "", 1)
	_ = ws.defs.Write("spanish.yaml", []byte(broken))
	if _, err := ws.svc.BuildDefinition(ctx, "spanish.yaml", false); !errors.Is(err, apperr.ErrDefinitionInvalid) {
		t.Fatalf("err = %v, want ErrDefinitionInvalid", err)
	}
	after, _ := os.ReadFile(filepath.Join(ws.out, "spanish.apkg"))
	if !bytes.Equal(before, after) {
		t.Error("failed build replaced the previous package")
	}
}

func TestBuildAll_ContinuesPastFailures(t *testing.T) {
	ws := setup(t)
	_ = ws.defs.Write("a.yaml", []byte(testutil.BasicYAML))
	_ = ws.defs.Write("b.yaml", []byte(strings.Replace(testutil.BasicYAML, "deck: Spanish", "deck: Nowhere", 1)))

	reports, err := ws.svc.BuildAll(context.Background(), false)
	if !errors.Is(err, apperr.ErrDefinitionInvalid) {
		t.Errorf("err = %v, want ErrDefinitionInvalid", err)
	}
	if len(reports) != 1 || reports[0].Definition != "a.yaml" {
		t.Errorf("reports = %+v", reports)
	}
}

func TestListDefinitions(t *testing.T) {
	ws := setup(t)
	ctx := context.Background()
	_ = ws.defs.Write("spanish.yaml", []byte(testutil.BasicYAML))
	_ = ws.defs.Write("notes.txt", []byte("ignored"))
	_, _ = ws.svc.BuildDefinition(ctx, "spanish.yaml", false)

	items, err := ws.svc.ListDefinitions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %+v", items)
	}
	if !items[0].Built || items[0].Checksum != checksum.Sum([]byte(testutil.BasicYAML)) {
		t.Errorf("item = %+v", items[0])
	}
}

func TestPutDefinition(t *testing.T) {
	ws := setup(t)
	ctx := context.Background()

	item, err := ws.svc.PutDefinition(ctx, "spanish.yaml", []byte(testutil.BasicYAML), "")
	if err != nil {
		t.Fatalf("PutDefinition: %v", err)
	}

	if _, err := ws.svc.PutDefinition(ctx, "spanish.yaml", []byte(testutil.BasicYAML), "stale"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("stale if-match: err = %v, want ErrConflict", err)
	}
	if _, err := ws.svc.PutDefinition(ctx, "spanish.yaml", []byte(testutil.BasicYAML), item.Checksum); err != nil {
		t.Errorf("matching if-match: %v", err)
	}
	if _, err := ws.svc.PutDefinition(ctx, "spanish.yaml", []byte("package: [unclosed"), ""); !errors.Is(err, apperr.ErrDefinitionInvalid) {
		t.Errorf("syntax error: err = %v", err)
	}
	if _, err := ws.svc.PutDefinition(ctx, "spanish.txt", []byte(testutil.BasicYAML), ""); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestDefinitionSource(t *testing.T) {
	ws := setup(t)
	_ = ws.defs.Write("spanish.yaml", []byte(testutil.BasicYAML))

	d, err := ws.svc.DefinitionSource(context.Background(), "spanish.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if d.Content != testutil.BasicYAML || d.Definition.Package.Name != "Spanish Vocabulary" {
		t.Errorf("detail = %+v", d)
	}
}

func TestDeleteDefinition_RemovesPackage(t *testing.T) {
	ws := setup(t)
	ctx := context.Background()
	_ = ws.defs.Write("spanish.yaml", []byte(testutil.BasicYAML))
	_, _ = ws.svc.BuildDefinition(ctx, "spanish.yaml", false)

	if err := ws.svc.DeleteDefinition(ctx, "spanish.yaml"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(ws.out, "spanish.apkg")); !os.IsNotExist(err) {
		t.Error("package survived its definition")
	}
	if err := ws.svc.DeleteDefinition(ctx, "spanish.yaml"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete: err = %v", err)
	}
}

func TestPackagePath(t *testing.T) {
	ws := setup(t)
	ctx := context.Background()
	_ = ws.defs.Write("spanish.yaml", []byte(testutil.BasicYAML))

	if _, err := ws.svc.PackagePath("spanish.apkg"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("before build: err = %v", err)
	}
	_, _ = ws.svc.BuildDefinition(ctx, "spanish.yaml", false)
	if _, err := ws.svc.PackagePath("spanish.apkg"); err != nil {
		t.Errorf("after build: %v", err)
	}
	if _, err := ws.svc.PackagePath("../spanish.apkg"); err == nil {
		t.Error("expected error for traversal")
	}
}

func TestImport_Disabled(t *testing.T) {
	ws := setup(t)
	if _, err := ws.svc.Import(context.Background(), "spanish.yaml"); !errors.Is(err, ErrImportDisabled) {
		t.Errorf("err = %v", err)
	}
}

func TestAddMedia(t *testing.T) {
	ws := setup(t)
	ctx := context.Background()

	item, err := ws.svc.AddMedia(ctx, "cat.png", bytes.NewReader(testutil.PNG))
	if err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	if item.URL != "/media/cat.png" || item.Size != int64(len(testutil.PNG)) {
		t.Errorf("item = %+v", item)
	}
	if _, err := ws.svc.AddMedia(ctx, "cat.png", bytes.NewReader(testutil.PNG)); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate: err = %v", err)
	}

	list, err := ws.svc.ListMedia(ctx)
	if err != nil || len(list) != 1 || list[0].Name != "cat.png" {
		t.Errorf("ListMedia = %+v, %v", list, err)
	}
	if _, err := ws.svc.MediaPath("cat.png"); err != nil {
		t.Errorf("MediaPath: %v", err)
	}
}

func TestAddMedia_Rejects(t *testing.T) {
	ws := setup(t)
	ctx := context.Background()
	cases := map[string][]byte{
		"../escape.png": testutil.PNG,
		"sub/cat.png":   testutil.PNG,
		"script.sh":     []byte("#!/bin/sh"),
		"fake.png":      []byte("GIF89a not a png"),
		"drawing.svg":   []byte("<html></html>"),
		".hidden.png":   testutil.PNG,
	}
	for name, data := range cases {
		if _, err := ws.svc.AddMedia(ctx, name, bytes.NewReader(data)); err == nil {
			t.Errorf("AddMedia(%q): expected error", name)
		}
	}
}

func TestCheckMediaContent_Audio(t *testing.T) {
	cases := map[string][]byte{
		"a.mp3": []byte("ID3\x03\x00\x00\x00\x00\x00\x00"),
		"a.ogg": []byte("OggS\x00\x02\x00\x00\x00\x00"),
		"a.wav": []byte("RIFF\x24\x00\x00\x00WAVEfmt "),
	}
	for name, data := range cases {
		if err := CheckMediaContent(name, data); err != nil {
			t.Errorf("CheckMediaContent(%q): %v", name, err)
		}
	}
}
