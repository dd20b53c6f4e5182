package waitroom

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a concurrency-safe, in-memory Store for single-instance
// deployments and tests. The `now` function is injectable for deterministic
// testing.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[int64]map[string]Entry

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a ready-to-use in-memory waitroom store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending: make(map[int64]map[string]Entry),
		now:     time.Now,
	}
}

// SetNow overrides the clock. Only for testing.
func (s *MemoryStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Add implements Store.
func (s *MemoryStore) Add(_ context.Context, user string, collectionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.pending[collectionID]
	if !ok {
		entries = make(map[string]Entry)
		s.pending[collectionID] = entries
	}
	if _, exists := entries[user]; exists {
		return nil
	}
	entries[user] = Entry{
		User:         user,
		CollectionID: collectionID,
		JoinedAt:     s.now(),
	}
	return nil
}

// Collections implements Store.
func (s *MemoryStore) Collections(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.pending))
	for id, entries := range s.pending {
		if len(entries) > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Waiting implements Store.
func (s *MemoryStore) Waiting(_ context.Context, collectionID int64) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.pending[collectionID]
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		// Same-instant joins: order by user for a stable queue.
		if a.User < b.User {
			return -1
		}
		if a.User > b.User {
			return 1
		}
		return 0
	})
	return out, nil
}

// Evict implements Store.
func (s *MemoryStore) Evict(_ context.Context, collectionID int64, users []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.pending[collectionID]
	for _, u := range users {
		delete(entries, u)
	}
	if len(entries) == 0 {
		delete(s.pending, collectionID)
	}
	return nil
}

// EvictStale implements Store.
func (s *MemoryStore) EvictStale(_ context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for id, entries := range s.pending {
		for user, e := range entries {
			if e.JoinedAt.Before(cutoff) {
				delete(entries, user)
				removed++
			}
		}
		if len(entries) == 0 {
			delete(s.pending, id)
		}
	}
	return removed, nil
}
