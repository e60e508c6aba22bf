package ratelimit

import (
	"sync"
	"time"
)

type entry struct {
	count     int
	expiresAt time.Time
}

// MemoryStore is an in-process CounterStore with per-key TTLs. Expired
// entries are dropped lazily on access and by an optional janitor.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return 0
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return 0
	}
	return e.count
}

func (s *MemoryStore) Increment(key string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || s.now().After(e.expiresAt) {
		s.entries[key] = &entry{count: 1, expiresAt: s.now().Add(ttl)}
		return
	}
	e.count++
}

// Sweep drops all expired entries. Callers may run it periodically to bound
// memory on long-lived processes.
func (s *MemoryStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}
