package engine

import "sync"

// KnownRegistry reports identifiers the caller has already processed.
type KnownRegistry interface {
	Contains(id string) bool
}

// KnownSet is an in-memory KnownRegistry safe for concurrent use.
type KnownSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewKnownSet creates a set holding ids.
func NewKnownSet(ids ...string) *KnownSet {
	s := &KnownSet{ids: make(map[string]struct{}, len(ids))}
	s.Add(ids...)
	return s
}

// Add inserts ids.
func (s *KnownSet) Add(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

// Contains implements KnownRegistry.
func (s *KnownSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of identifiers.
func (s *KnownSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
