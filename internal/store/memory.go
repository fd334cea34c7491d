package store

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory. Nothing survives the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Load(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	e.Data = append([]byte(nil), e.Data...)
	return e, true, nil
}

func (m *MemoryStore) Save(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.Key]; ok {
		return nil
	}
	e.Data = append([]byte(nil), e.Data...)
	m.entries[e.Key] = e
	return nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{Entries: len(m.entries)}
	for _, e := range m.entries {
		s.Bytes += int64(len(e.Data))
	}
	return s, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
