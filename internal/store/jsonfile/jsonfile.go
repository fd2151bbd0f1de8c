// Package jsonfile persists the auth record as a single pretty-printed JSON file.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vovakirdan/afkbot/internal/store"
)

// Store implements store.AuthStore on top of one JSON file.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a store for path. The file is created lazily on the first Save.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Load reads the record. A missing file yields the zero record; a malformed file yields
// the zero record together with an error wrapping store.ErrCorrupt.
func (s *Store) Load(context.Context) (store.AuthRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store.AuthRecord{}, nil
		}
		return store.AuthRecord{}, fmt.Errorf("read state: %w", err)
	}

	var rec store.AuthRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return store.AuthRecord{}, fmt.Errorf("%w: %s: %v", store.ErrCorrupt, s.path, err)
	}
	return rec, nil
}

// Save writes the record through a temp file and rename so a crash never leaves a
// half-written file behind.
func (s *Store) Save(_ context.Context, rec store.AuthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return nil }
