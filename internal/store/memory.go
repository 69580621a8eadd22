package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process SharedStore shared by reference among all
// engines of one OS process, the moral equivalent of same-origin
// localStorage. An optional artificial latency delays every operation so
// callers cannot get away with assuming synchronous completion.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string][]byte
	watchers []func(key string)
	latency  time.Duration
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

// NewMemoryStoreWithLatency creates an in-memory store that sleeps for
// the given duration on every operation.
func NewMemoryStoreWithLatency(latency time.Duration) *MemoryStore {
	s := NewMemoryStore()
	s.latency = latency
	return s
}

// Get retrieves the value stored under key.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.delay(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores value under key and notifies every watcher. The writer's
// own watcher is notified too; consumers reconcile idempotently, so a
// self-notification is harmless.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.delay(ctx); err != nil {
		return err
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	s.values[key] = stored
	watchers := make([]func(string), len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	for _, w := range watchers {
		w(key)
	}
	return nil
}

// Remove deletes key and notifies watchers. Removing an absent key is a
// no-op.
func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := s.delay(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	_, existed := s.values[key]
	delete(s.values, key)
	watchers := make([]func(string), len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	if existed {
		for _, w := range watchers {
			w(key)
		}
	}
	return nil
}

// Watch registers a change handler. Handlers are invoked synchronously
// from the writing goroutine and must not call back into the store while
// holding their own locks in an order that could deadlock.
func (s *MemoryStore) Watch(handler func(key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, handler)
}

func (s *MemoryStore) delay(ctx context.Context) error {
	if s.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(s.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
