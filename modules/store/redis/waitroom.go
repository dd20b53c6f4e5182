package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tutorlab/roomd/internal/waitroom"
)

// WaitroomStore keeps the pending-join queue in Redis. Each collection has
// a sorted set scored by join time (milliseconds), plus one index set of
// collections with pending entries. Add and Evict run as Lua scripts so a
// join racing an eviction is applied atomically.
type WaitroomStore struct {
	client *redis.Client
	prefix string

	addScript   *redis.Script
	evictScript *redis.Script
	staleScript *redis.Script
}

var _ waitroom.Store = (*WaitroomStore)(nil)

// KEYS[1]: collection zset, KEYS[2]: index set
// ARGV[1]: user, ARGV[2]: join time ms, ARGV[3]: collection id
//
// NX keeps the original join time for re-joins.
var waitroomAddScript = `
redis.call('ZADD', KEYS[1], 'NX', ARGV[2], ARGV[1])
redis.call('SADD', KEYS[2], ARGV[3])
return redis.call('ZCARD', KEYS[1])
`

// KEYS[1]: collection zset, KEYS[2]: index set
// ARGV[1]: collection id, ARGV[2..]: users
var waitroomEvictScript = `
for i = 2, #ARGV do
    redis.call('ZREM', KEYS[1], ARGV[i])
end
if redis.call('ZCARD', KEYS[1]) == 0 then
    redis.call('SREM', KEYS[2], ARGV[1])
end
return 1
`

// KEYS[1]: collection zset, KEYS[2]: index set
// ARGV[1]: cutoff ms, ARGV[2]: collection id
var waitroomStaleScript = `
local removed = redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) == 0 then
    redis.call('SREM', KEYS[2], ARGV[2])
end
return removed
`

// NewWaitroomStore creates a Redis-backed waitroom.
func NewWaitroomStore(client *redis.Client, prefix string) *WaitroomStore {
	return &WaitroomStore{
		client:      client,
		prefix:      prefix,
		addScript:   redis.NewScript(waitroomAddScript),
		evictScript: redis.NewScript(waitroomEvictScript),
		staleScript: redis.NewScript(waitroomStaleScript),
	}
}

func (s *WaitroomStore) collectionKey(collectionID int64) string {
	return s.prefix + "waitroom:" + strconv.FormatInt(collectionID, 10)
}

func (s *WaitroomStore) indexKey() string {
	return s.prefix + "waitroom:collections"
}

func (s *WaitroomStore) Add(ctx context.Context, user string, collectionID int64) error {
	keys := []string{s.collectionKey(collectionID), s.indexKey()}
	err := s.addScript.Run(ctx, s.client, keys,
		user,
		time.Now().UnixMilli(),
		collectionID,
	).Err()
	if err != nil {
		return fmt.Errorf("redisstore: waitroom add: %w", err)
	}
	return nil
}

func (s *WaitroomStore) Collections(ctx context.Context) ([]int64, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: waitroom collections: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *WaitroomStore) Waiting(ctx context.Context, collectionID int64) ([]waitroom.Entry, error) {
	members, err := s.client.ZRangeWithScores(ctx, s.collectionKey(collectionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: waitroom list: %w", err)
	}
	entries := make([]waitroom.Entry, 0, len(members))
	for _, m := range members {
		user, ok := m.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, waitroom.Entry{
			User:         user,
			CollectionID: collectionID,
			JoinedAt:     time.UnixMilli(int64(m.Score)),
		})
	}
	return entries, nil
}

func (s *WaitroomStore) Evict(ctx context.Context, collectionID int64, users []string) error {
	if len(users) == 0 {
		return nil
	}
	keys := []string{s.collectionKey(collectionID), s.indexKey()}
	argv := make([]any, 0, len(users)+1)
	argv = append(argv, collectionID)
	for _, u := range users {
		argv = append(argv, u)
	}
	if err := s.evictScript.Run(ctx, s.client, keys, argv...).Err(); err != nil {
		return fmt.Errorf("redisstore: waitroom evict: %w", err)
	}
	return nil
}

func (s *WaitroomStore) EvictStale(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := s.Collections(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	total := 0
	for _, id := range ids {
		keys := []string{s.collectionKey(id), s.indexKey()}
		removed, err := s.staleScript.Run(ctx, s.client, keys, cutoff, id).Int()
		if err != nil {
			return total, fmt.Errorf("redisstore: waitroom stale sweep: %w", err)
		}
		total += removed
	}
	return total, nil
}
