package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tutorlab/roomd/internal/session"
)

// SessionStore persists flattened session records as JSON values keyed by
// room. A deadline index (sorted set scored by deadline milliseconds) lets
// the expiry sweep avoid scanning every session.
type SessionStore struct {
	client *redis.Client
	prefix string

	mu       sync.RWMutex
	resolver session.Resolver
}

var _ session.Store = (*SessionStore)(nil)

// NewSessionStore creates a Redis-backed session store. The resolver may be
// set later via SetResolver, but must be in place before the first Load.
func NewSessionStore(client *redis.Client, prefix string, resolver session.Resolver) *SessionStore {
	return &SessionStore{client: client, prefix: prefix, resolver: resolver}
}

// SetResolver binds the services used to rehydrate loaded sessions.
func (s *SessionStore) SetResolver(resolver session.Resolver) {
	s.mu.Lock()
	s.resolver = resolver
	s.mu.Unlock()
}

func (s *SessionStore) getResolver() session.Resolver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolver
}

func (s *SessionStore) sessionKey(roomID string) string {
	return s.prefix + "session:" + roomID
}

func (s *SessionStore) deadlineKey() string {
	return s.prefix + "session:deadlines"
}

func (s *SessionStore) Save(ctx context.Context, st *session.State) error {
	rec := session.Flatten(st)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redisstore: marshal session %s: %w", rec.RoomID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(rec.RoomID), data, 0)
	if rec.Deadline != 0 {
		pipe.ZAdd(ctx, s.deadlineKey(), redis.Z{Score: float64(rec.Deadline), Member: rec.RoomID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: save session %s: %w", rec.RoomID, err)
	}
	return nil
}

func (s *SessionStore) Load(ctx context.Context, roomID string) (*session.State, error) {
	data, err := s.client.Get(ctx, s.sessionKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: load session %s: %w", roomID, err)
	}

	var rec session.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("redisstore: decode session %s: %w", roomID, err)
	}
	st := session.Expand(rec)
	if err := s.getResolver().Rehydrate(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *SessionStore) Delete(ctx context.Context, roomID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(roomID))
	pipe.ZRem(ctx, s.deadlineKey(), roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: delete session %s: %w", roomID, err)
	}
	return nil
}

func (s *SessionStore) DeleteAll(ctx context.Context) (int, error) {
	rooms, err := s.client.ZRange(ctx, s.deadlineKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: list sessions: %w", err)
	}
	if len(rooms) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(rooms)+1)
	for _, roomID := range rooms {
		keys = append(keys, s.sessionKey(roomID))
	}
	keys = append(keys, s.deadlineKey())
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("redisstore: delete all sessions: %w", err)
	}
	return len(rooms), nil
}

func (s *SessionStore) PurgeExpired(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := time.Now().Add(-grace).UnixMilli()
	rooms, err := s.client.ZRangeByScore(ctx, s.deadlineKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: list expired sessions: %w", err)
	}

	purged := 0
	for _, roomID := range rooms {
		if err := s.Delete(ctx, roomID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}
