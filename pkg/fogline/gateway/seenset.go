package gateway

import "sync"

// SeenSet is a fixed-capacity set of recently seen event IDs. When full,
// inserting a new ID evicts the oldest one. It accelerates duplicate
// short-circuiting at the gateway; the store's transactional insert is
// the authoritative dedupe, so eviction only costs a redundant publish.
type SeenSet struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	ring []string
	next int
}

// NewSeenSet creates a set holding at most capacity IDs.
func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = 10000
	}
	return &SeenSet{
		ids:  make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

// Contains reports whether the ID was recorded and not yet evicted.
func (s *SeenSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Add records the ID, evicting the oldest entry at capacity. Adding an
// ID that is already present is a no-op. Callers record an ID only once
// the event is safely handed off; an ID in the set must always mean a
// prior accepted delivery.
func (s *SeenSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return
	}

	if evicted := s.ring[s.next]; evicted != "" {
		delete(s.ids, evicted)
	}
	s.ring[s.next] = id
	s.next = (s.next + 1) % len(s.ring)
	s.ids[id] = struct{}{}
}

// Len returns the number of IDs currently tracked.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
