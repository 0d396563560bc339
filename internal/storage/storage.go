// Package storage provides optional device-state persistence. The sync
// engine treats storage as a pluggable capability: when absent or failing it
// degrades to pure in-memory operation.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mkwei/actionsync/internal/models"
)

// State is the persisted device snapshot: identity, watermark, and the
// pending queue.
type State struct {
	Origin    string          `json:"origin"`
	Watermark string          `json:"watermark"`
	Records   []models.Record `json:"records"`
}

// Store loads and saves device state.
type Store interface {
	// Load returns the persisted state, or (nil, nil) when none exists.
	Load() (*State, error)

	// Save replaces the persisted state.
	Save(state *State) error

	// Clear removes the persisted state.
	Clear() error
}

// FileStore persists state as a JSON file, written atomically via a
// temp-file rename.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path, creating parent directories.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load implements Store.
func (s *FileStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read device state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse device state: %w", err)
	}
	return &state, nil
}

// Save implements Store.
func (s *FileStore) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode device state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write device state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace device state: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove device state: %w", err)
	}
	return nil
}
