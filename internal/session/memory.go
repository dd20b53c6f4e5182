package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps flattened session records in process memory. States
// pass through the same Flatten/Expand codec as the durable stores, so a
// loaded state never aliases a saved one.
type MemoryStore struct {
	resolver Resolver

	mu      sync.Mutex
	records map[string]Record

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store using the resolver to
// re-attach reference handles on load.
func NewMemoryStore(resolver Resolver) *MemoryStore {
	return &MemoryStore{
		resolver: resolver,
		records:  make(map[string]Record),
		now:      time.Now,
	}
}

// SetNow overrides the clock used by PurgeExpired.
func (m *MemoryStore) SetNow(now func() time.Time) { m.now = now }

func (m *MemoryStore) Save(ctx context.Context, s *State) error {
	rec := Flatten(s)
	m.mu.Lock()
	m.records[rec.RoomID] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, roomID string) (*State, error) {
	m.mu.Lock()
	rec, ok := m.records[roomID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNoSession
	}
	s := Expand(rec)
	if err := m.resolver.Rehydrate(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *MemoryStore) Delete(ctx context.Context, roomID string) error {
	m.mu.Lock()
	delete(m.records, roomID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	n := len(m.records)
	m.records = make(map[string]Record)
	m.mu.Unlock()
	return n, nil
}

func (m *MemoryStore) PurgeExpired(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := m.now().Add(-grace).UnixMilli()
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for roomID, rec := range m.records {
		if rec.Deadline != 0 && rec.Deadline < cutoff {
			delete(m.records, roomID)
			purged++
		}
	}
	return purged, nil
}
