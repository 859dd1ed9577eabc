package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempWorkspace(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempWorkspace(t)
	content := []byte("package:\n  name: Spanish\n")
	if err := s.Write("spanish.yaml", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("spanish.yaml")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempWorkspace(t)
	if err := s.Write("a/b/c.yaml", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.yaml")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteFromAndOpen(t *testing.T) {
	s := tempWorkspace(t)
	n, err := s.WriteFrom("audio/hola.mp3", strings.NewReader("ID3"))
	if err != nil {
		t.Fatalf("WriteFrom: %v", err)
	}
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
	rc, err := s.Open("audio/hola.mp3")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "ID3" {
		t.Errorf("content = %q", data)
	}
}

func TestDelete(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("del.yaml", []byte("bye"))
	if err := s.Delete("del.yaml"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.yaml"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestList(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("a.yaml", []byte("a"))
	_ = s.Write("sub/b.TOML", []byte("b"))
	_ = s.Write("readme.txt", []byte("not a definition"))

	items, err := s.List("", ".yaml", ".toml")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[0].Path != "a.yaml" || items[1].Path != "sub/b.TOML" {
		t.Errorf("paths = %q, %q", items[0].Path, items[1].Path)
	}
	if items[0].Checksum == "" || items[0].Size != 1 {
		t.Errorf("metadata = %+v", items[0])
	}

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len = %d, want 3", len(all))
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempWorkspace(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.yaml",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestWriteAtomic_Replaces(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "deck.apkg")
	if err := os.WriteFile(target, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := WriteAtomic(target, func(w io.Writer) error {
		_, err := w.Write([]byte("updated"))
		return err
	})
	if err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "updated" {
		t.Errorf("content = %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, tempPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestWriteAtomic_FailureLeavesTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "deck.apkg")
	if err := os.WriteFile(target, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	err := WriteAtomic(target, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "original" {
		t.Errorf("target modified: %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, tempPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestWriteAtomic_FailureCreatesNothing(t *testing.T) {
	target := filepath.Join(t.TempDir(), "new.apkg")
	_ = WriteAtomic(target, func(io.Writer) error { return errors.New("fail") })
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("target should not exist: %v", err)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "deckpack-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
