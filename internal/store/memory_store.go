package store

import (
	"context"
	"sync"
)

// MemoryStore implements Store in memory.
// Several session managers sharing one MemoryStore behave like browser tabs
// sharing local storage.
type MemoryStore struct {
	mu sync.RWMutex

	values      map[Key]string
	subscribers map[int]chan struct{}
	nextID      int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:      make(map[Key]string),
		subscribers: make(map[int]chan struct{}),
	}
}

// Get returns the value stored for key.
func (s *MemoryStore) Get(key Key) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}

	return value, nil
}

// Put writes all values under one lock and notifies subscribers.
func (s *MemoryStore) Put(values map[Key]string) error {
	s.mu.Lock()
	for k, v := range values {
		s.values[k] = v
	}
	s.broadcastLocked()
	s.mu.Unlock()

	return nil
}

// Delete removes keys and notifies subscribers if anything was removed.
func (s *MemoryStore) Delete(keys ...Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	for _, k := range keys {
		if _, ok := s.values[k]; ok {
			delete(s.values, k)
			removed = true
		}
	}

	if removed {
		s.broadcastLocked()
	}

	return nil
}

// Changes subscribes to writes until ctx is done.
func (s *MemoryStore) Changes(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()

		s.mu.Lock()
		delete(s.subscribers, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch, nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func (s *MemoryStore) broadcastLocked() {
	for _, ch := range s.subscribers {
		notify(ch)
	}
}
