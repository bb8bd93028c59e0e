package recipes

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)

	path, err := s.Save("Chicken Soup", "Boil everything.")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "chicken_soup.txt" {
		t.Errorf("filename = %q, want chicken_soup.txt", filepath.Base(path))
	}

	content, err := s.Get("Chicken Soup")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(content, "# Chicken Soup\n# Created: ") {
		t.Errorf("missing header: %q", content)
	}
	if !strings.Contains(content, "# Source: PantryBot\n\nBoil everything.") {
		t.Errorf("missing body: %q", content)
	}
}

func TestGetCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save("Chicken Soup", "x"); err != nil {
		t.Fatal(err)
	}

	// Lookup normalizes the name the same way save does.
	if _, err := s.Get("chicken soup"); err != nil {
		t.Errorf("expected lowercase lookup to hit, got %v", err)
	}
}

func TestSafeNameSlashes(t *testing.T) {
	s := newTestStore(t)

	path, err := s.Save("Mac/Cheese Bake", "x")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "mac_cheese_bake.txt" {
		t.Errorf("filename = %q", filepath.Base(path))
	}
	// The file must land inside the store dir, not a subpath.
	if filepath.Dir(path) != s.Dir() {
		t.Errorf("dir = %q, want %q", filepath.Dir(path), s.Dir())
	}
}

func TestGetNotFoundListsAvailable(t *testing.T) {
	s := newTestStore(t)
	s.Save("Chicken Soup", "x")
	s.Save("Beef Stew", "y")

	_, err := s.Get("Lasagna")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.Name != "Lasagna" {
		t.Errorf("name = %q", nf.Name)
	}
	if len(nf.Available) != 2 {
		t.Fatalf("available = %v", nf.Available)
	}
	// Sorted by filename: beef_stew before chicken_soup.
	if nf.Available[0] != "Beef Stew" || nf.Available[1] != "Chicken Soup" {
		t.Errorf("available = %v", nf.Available)
	}
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	s.Save("Chicken Soup", "Boil everything.")

	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Name != "Chicken Soup" {
		t.Errorf("name = %q", e.Name)
	}
	if e.Filename != "chicken_soup.txt" {
		t.Errorf("filename = %q", e.Filename)
	}
	if e.SizeKB <= 0 {
		t.Errorf("size_kb = %v", e.SizeKB)
	}
	if e.Modified == "" {
		t.Error("modified is empty")
	}
}

func TestListIgnoresNonRecipeFiles(t *testing.T) {
	s := newTestStore(t)
	s.Save("Chicken Soup", "x")
	os.WriteFile(filepath.Join(s.Dir(), "notes.md"), []byte("x"), 0o644)
	os.Mkdir(filepath.Join(s.Dir(), "archive"), 0o755)

	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}
}

func TestListEmpty(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty list, got %v", entries)
	}
}

func TestSaveOverwrites(t *testing.T) {
	s := newTestStore(t)
	s.Save("Chicken Soup", "first version")
	s.Save("Chicken Soup", "second version")

	content, err := s.Get("Chicken Soup")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(content, "second version") {
		t.Errorf("expected overwrite, got %q", content)
	}
	if strings.Contains(content, "first version") {
		t.Errorf("stale content present: %q", content)
	}
}
