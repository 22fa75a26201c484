// Package store provides the file-backed intent stores. Each store owns one
// JSON file and one mutex; reads and writes on the same store serialize,
// stores never contend with each other.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is a file-backed value of type T with a sanitizing write path. A
// missing or corrupt backing file reads as the default value, never as an
// error.
type Store[T any] struct {
	path     string
	mu       sync.Mutex
	defaults func() T
	sanitize func(T) T
}

// New creates the store, its parent directory, and the backing file when it
// does not exist yet.
func New[T any](path string, defaults func() T, sanitize func(T) T) (*Store[T], error) {
	s := &Store[T]{path: path, defaults: defaults, sanitize: sanitize}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.persist(defaults()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Read returns the current value, or the default when the file is missing or
// does not parse.
func (s *Store[T]) Read() T {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return s.defaults()
	}
	value := s.defaults()
	if err := json.Unmarshal(data, &value); err != nil {
		return s.defaults()
	}
	return value
}

// Write sanitizes the candidate, persists it, and returns the value actually
// stored. Callers must treat the return value, not their input, as the
// source of truth.
func (s *Store[T]) Write(candidate T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := s.sanitize(candidate)
	if err := s.persist(value); err != nil {
		return value, err
	}
	return value, nil
}

func (s *Store[T]) persist(value T) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(s.path), err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(s.path), err)
	}
	return nil
}
