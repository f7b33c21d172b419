package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(ttl time.Duration, opts ...Option) *MemoryStore {
	o := applyOptions(opts)
	return &MemoryStore{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     o.now,
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.DetailPayload, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok || !entry.Fresh(s.now(), s.ttl) {
		return domain.DetailPayload{}, false, nil
	}
	return entry.Payload, true, nil
}

func (s *MemoryStore) Put(_ context.Context, id string, payload domain.DetailPayload) error {
	s.mu.Lock()
	s.entries[id] = Entry{Payload: payload, FetchedAt: s.now()}
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error {
	return nil
}
