package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileStore is a LocalStore backed by a small JSON file, the stand-in
// for per-device persistent storage. Read errors are treated as an empty
// store so a corrupt or unreadable file never prevents startup.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed local store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Get reads the value stored under key.
func (f *FileStore) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values := f.read()
	v, ok := values[key]
	return v, ok
}

// Set writes value under key.
func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values := f.read()
	values[key] = value
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode local store: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write local store: %w", err)
	}
	return nil
}

func (f *FileStore) read() map[string]string {
	values := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if err != nil {
		return values
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return make(map[string]string)
	}
	return values
}

// MemoryLocalStore is the fallback LocalStore for fully isolated
// processes with no usable persistent storage.
type MemoryLocalStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryLocalStore creates an empty in-memory local store.
func NewMemoryLocalStore() *MemoryLocalStore {
	return &MemoryLocalStore{values: make(map[string]string)}
}

// Get reads the value stored under key.
func (m *MemoryLocalStore) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

// Set writes value under key.
func (m *MemoryLocalStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
