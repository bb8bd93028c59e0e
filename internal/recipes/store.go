// Package recipes provides a file-backed store for saved recipes.
// Each recipe is a plain text file so the collection stays greppable
// and editable outside the assistant.
package recipes

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Store persists recipes as text files under a single directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating the directory if
// needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recipe dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string {
	return s.dir
}

// Entry describes one saved recipe file.
type Entry struct {
	Name     string  `json:"name"`
	Filename string  `json:"filename"`
	SizeKB   float64 `json:"size_kb"`
	Modified string  `json:"modified"`
}

// NotFoundError indicates a recipe is not in the store. Available lists
// the recipes that are, so a caller can suggest alternatives.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("recipe %q not found", e.Name)
}

// safeName converts a display name to a filesystem-safe filename.
func safeName(name string) string {
	safe := strings.ToLower(name)
	safe = strings.ReplaceAll(safe, " ", "_")
	safe = strings.ReplaceAll(safe, "/", "_")
	if !strings.HasSuffix(safe, ".txt") {
		safe += ".txt"
	}
	return safe
}

// displayName converts a filename back to a display name.
func displayName(filename string) string {
	stem := strings.TrimSuffix(filename, ".txt")
	return titleCase(strings.ReplaceAll(stem, "_", " "))
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Save writes a recipe to disk, prefixed with a small provenance
// header. An existing recipe with the same name is overwritten.
func (s *Store) Save(name string, content string) (string, error) {
	path := filepath.Join(s.dir, safeName(name))

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	full := fmt.Sprintf("# %s\n# Created: %s\n# Source: PantryBot\n\n%s\n",
		titleCase(name), timestamp, content)

	if err := os.WriteFile(path, []byte(full), 0o644); err != nil {
		return "", fmt.Errorf("write recipe: %w", err)
	}
	return path, nil
}

// Get reads a recipe by name. A miss returns NotFoundError carrying the
// names of the recipes that do exist.
func (s *Store) Get(name string) (string, error) {
	path := filepath.Join(s.dir, safeName(name))

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			available, _ := s.names()
			return "", &NotFoundError{Name: name, Available: available}
		}
		return "", fmt.Errorf("read recipe: %w", err)
	}
	return string(content), nil
}

// List returns all saved recipes sorted by filename.
func (s *Store) List() ([]Entry, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(filepath.Join(s.dir, f))
		if err != nil {
			continue
		}
		sizeKB := float64(info.Size()) / 1024
		entries = append(entries, Entry{
			Name:     displayName(f),
			Filename: f,
			SizeKB:   float64(int(sizeKB*100+0.5)) / 100,
			Modified: info.ModTime().Format("2006-01-02 15:04"),
		})
	}
	return entries, nil
}

func (s *Store) files() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read recipe dir: %w", err)
	}

	var files []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".txt") {
			continue
		}
		files = append(files, de.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (s *Store) names() ([]string, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, displayName(f))
	}
	return names, nil
}
