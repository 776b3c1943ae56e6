package state

import (
	"path/filepath"
	"testing"
)

func TestMemoryStore_SetGetDelete(t *testing.T) {
	m := NewMemoryStore()
	if _, ok := m.Get("missing"); ok {
		t.Fatal("expected missing key to report ok=false")
	}
	if err := m.Set("k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok := m.Get("k")
	if !ok || string(v) != "v" {
		t.Fatalf("expected (\"v\", true), got (%q, %v)", v, ok)
	}
	if err := m.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := m.Get("k"); ok {
		t.Fatal("expected key gone after delete")
	}
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	fs1, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fs1.Set("mapper:schema", []byte(`"1"`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	fs2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore (reopen): %v", err)
	}
	v, ok := fs2.Get("mapper:schema")
	if !ok || string(v) != `"1"` {
		t.Fatalf("expected persisted value across instances, got (%q, %v)", v, ok)
	}
}

func TestFileStore_DeleteMissingKeyIsNotAnError(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fs.Delete("never-set"); err != nil {
		t.Fatalf("expected deleting a missing key to be a no-op, got %v", err)
	}
}

func TestFileStore_KeyToFilenameSanitizesNamespace(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fs.Set("mapper:responses", []byte("[]")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	expected := filepath.Join(dir, "mapper_responses.json")
	if fs.path("mapper:responses") != expected {
		t.Fatalf("expected path %q, got %q", expected, fs.path("mapper:responses"))
	}
}
