// Package memory provides an in-process storage.Storage.
package memory

import (
	"context"
	"sync"

	"github.com/bissquit/deepvisas/internal/storage"
)

// Storage keeps values in a map. Contents do not survive the process.
type Storage struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// New creates an empty in-memory storage.
func New() *Storage {
	return &Storage{values: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (s *Storage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put stores a copy of value under key.
func (s *Storage) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key.
func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// Ping always succeeds.
func (s *Storage) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Storage) Close() error {
	return nil
}
