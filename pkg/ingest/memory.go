package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/OFFIS-RIT/scholargraph/pkg/store"
)

// MemoryObjectStore keeps objects in process memory.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *MemoryObjectStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	m.types[key] = contentType
	return nil
}

func (m *MemoryObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, store.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryObjectStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.types, key)
	return nil
}

// ContentType returns the content type an object was stored with.
func (m *MemoryObjectStore) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[key]
}

var _ ObjectStore = (*MemoryObjectStore)(nil)
