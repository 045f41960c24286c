package storage

import (
	"context"
	"sync"
)

// MemStore is an in-memory ObjectStore used in tests and as a scratch store
// for single-process runs. Safe for concurrent use.
type MemStore struct {
	mu           sync.RWMutex
	objects      map[string][]byte
	contentTypes map[string]string

	// FailPut, when set to a key, makes the next Put of that key silently
	// drop the object. Lets tests exercise the write-then-verify rollback
	// path in versioning.
	FailPut string
}

// NewMemStore creates an empty in-memory object store.
func NewMemStore() *MemStore {
	return &MemStore{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

// Put stores data under key.
func (m *MemStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPut == key {
		return nil // Simulated lost write: report success, store nothing.
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = cp
	m.contentTypes[key] = contentType
	return nil
}

// Get retrieves an object by key.
func (m *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound{Key: key}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Exists reports whether an object is stored under key.
func (m *MemStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// Delete removes an object, returning false if it was absent.
func (m *MemStore) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[key]; !ok {
		return false, nil
	}
	delete(m.objects, key)
	delete(m.contentTypes, key)
	return true, nil
}

// Close releases resources.
func (m *MemStore) Close() error {
	return nil
}

// Len returns the number of stored objects.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// ContentType returns the recorded content type of a stored object.
func (m *MemStore) ContentType(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ct, ok := m.contentTypes[key]
	return ct, ok
}
