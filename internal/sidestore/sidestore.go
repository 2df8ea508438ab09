// Package sidestore persists each document's ordered parent-chunk array on
// disk. The only contract is indexed random access by parent position; the
// container is a JSON string array, one file per document.
package sidestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store reads and writes parent arrays under a base directory.
type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// PathFor returns the side-store file path for a document id.
func (s *Store) PathFor(docID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("doc_%d.json", docID))
}

// Save writes the full parent array, creating the directory if needed.
func (s *Store) Save(path string, parents []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create side-store dir: %w", err)
	}
	data, err := json.Marshal(parents)
	if err != nil {
		return fmt.Errorf("encode parent array: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write side-store: %w", err)
	}
	return nil
}

// Load reads the full parent array.
func (s *Store) Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parents []string
	if err := json.Unmarshal(data, &parents); err != nil {
		return nil, fmt.Errorf("decode parent array: %w", err)
	}
	return parents, nil
}

// LoadParent returns the parent text at the given index, or "" when the file
// is missing or the index is out of range.
func (s *Store) LoadParent(path string, parentID int) string {
	parents, err := s.Load(path)
	if err != nil {
		return ""
	}
	if parentID < 0 || parentID >= len(parents) {
		return ""
	}
	return parents[parentID]
}

// Exists reports whether the side-store file is present.
func (s *Store) Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Delete removes the side-store file, ignoring a missing file.
func (s *Store) Delete(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
