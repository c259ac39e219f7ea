package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by a Store when the id is unknown or expired.
var ErrNotFound = errors.New("session not found")

// Store persists sealed session payloads.
type Store interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Set(ctx context.Context, id string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Name() string
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Name implements Store.
func (s *MemoryStore) Name() string { return "memory" }

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || !s.now().Before(e.expires) {
		delete(s.entries, id)
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, id string, data []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = memoryEntry{data: append([]byte(nil), data...), expires: s.now().Add(ttl)}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Cleanup removes expired entries and returns how many were dropped.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}
