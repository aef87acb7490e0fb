package database

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore keeps encoded snapshots in process memory. Snapshots are
// stored encoded so callers can never alias a saved record.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, name string) ([]json.RawMessage, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storageErr("load", name, err)
	}

	s.mu.RLock()
	data, ok := s.collections[name]
	s.mu.RUnlock()
	if !ok {
		return []json.RawMessage{}, nil
	}
	return decodeSnapshot(name, data)
}

func (s *MemoryStore) Save(ctx context.Context, name string, records []json.RawMessage) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storageErr("save", name, err)
	}

	data, err := encodeSnapshot(name, records)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.collections[name] = data
	s.mu.Unlock()
	return nil
}
