package storage

import (
	"context"
	"sync"
)

// MemoryStore is a process-local substrate, the equivalent of browser
// session storage. It is safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = clone(value)
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Atomic stages writes in an overlay and applies them only if fn succeeds.
// The store is locked for the duration of fn.
func (m *MemoryStore) Atomic(_ context.Context, fn func(tx KV) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{base: m.data, writes: make(map[string][]byte), removed: make(map[string]bool)}
	if err := fn(tx); err != nil {
		return err
	}
	for k := range tx.removed {
		delete(m.data, k)
	}
	for k, v := range tx.writes {
		m.data[k] = v
	}
	return nil
}

// Len is the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

type memTx struct {
	base    map[string][]byte
	writes  map[string][]byte
	removed map[string]bool
}

func (t *memTx) Get(_ context.Context, key string) ([]byte, error) {
	if v, ok := t.writes[key]; ok {
		return clone(v), nil
	}
	if t.removed[key] {
		return nil, ErrNotFound
	}
	v, ok := t.base[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (t *memTx) Set(_ context.Context, key string, value []byte) error {
	delete(t.removed, key)
	t.writes[key] = clone(value)
	return nil
}

func (t *memTx) Remove(_ context.Context, key string) error {
	delete(t.writes, key)
	t.removed[key] = true
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
