package distance

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// storageKey identifies the calibration record inside the store
// document, so unrelated state can share the same file.
const storageKey = "oculab.distance.calibration"

// Store is the persistence port for the calibration constant. Load
// returns nil, nil when no calibration has been saved.
type Store interface {
	Load() (*Calibration, error)
	Save(*Calibration) error
	Clear() error
}

// FileStore persists the calibration as a JSON document on disk.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read calibration store: %w", err)
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse calibration store: %w", err)
	}
	return doc, nil
}

func (s *FileStore) write(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Load reads the persisted calibration, or nil if none exists.
func (s *FileStore) Load() (*Calibration, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	raw, ok := doc[storageKey]
	if !ok {
		return nil, nil
	}
	var cal Calibration
	if err := json.Unmarshal(raw, &cal); err != nil {
		return nil, fmt.Errorf("parse calibration: %w", err)
	}
	return &cal, nil
}

// Save writes the calibration under the fixed storage key.
func (s *FileStore) Save(cal *Calibration) error {
	doc, err := s.read()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(cal)
	if err != nil {
		return err
	}
	doc[storageKey] = raw
	return s.write(doc)
}

// Clear removes the calibration record, keeping other keys intact.
func (s *FileStore) Clear() error {
	doc, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := doc[storageKey]; !ok {
		return nil
	}
	delete(doc, storageKey)
	return s.write(doc)
}
