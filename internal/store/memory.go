package store

import (
	"context"
	"sync"
)

// MemoryStore keeps conversations for the life of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]Message)}
}

func (s *MemoryStore) Load(_ context.Context, id string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.data[id]))
	copy(out, s.data[id])
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, id string, m Message) error {
	if err := checkAppend(id, m); err != nil {
		return err
	}
	s.mu.Lock()
	s.data[id] = append(s.data[id], m)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
