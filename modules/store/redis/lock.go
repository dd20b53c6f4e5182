package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tutorlab/roomd/internal/lock"
)

const (
	lockPollInterval = 20 * time.Millisecond
	waiterLiveness   = time.Second
)

// LockService implements fair, bounded-wait locks on Redis. Waiters enqueue
// in a sorted set scored by arrival time; the head of the queue is the only
// waiter allowed to take the lock, so acquisition is first-come
// first-served across all roomd instances. Each waiter maintains a liveness
// key with a short TTL; waiters that die mid-queue are skipped.
//
// The lock key itself carries a PX expiry equal to the hold timeout, so a
// crashed holder releases automatically.
type LockService struct {
	client *redis.Client
	prefix string

	acquireScript *redis.Script
	releaseScript *redis.Script
}

var _ lock.Service = (*LockService)(nil)

// KEYS[1]: lock key, KEYS[2]: queue zset
// ARGV[1]: my token, ARGV[2]: hold ms, ARGV[3]: liveness key prefix
//
// Dead waiters ahead of us are dropped; we acquire only as queue head.
var lockAcquireScript = `
while true do
    local head = redis.call('ZRANGE', KEYS[2], 0, 0)
    if #head == 0 then
        return 0
    end
    if head[1] == ARGV[1] then
        break
    end
    if redis.call('EXISTS', ARGV[3] .. head[1]) == 1 then
        return 0
    end
    redis.call('ZREM', KEYS[2], head[1])
end
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
    redis.call('ZREM', KEYS[2], ARGV[1])
    return 1
end
return 0
`

// KEYS[1]: lock key
// ARGV[1]: my token
var lockReleaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// NewLockService creates a Redis-backed lock service.
func NewLockService(client *redis.Client, prefix string) *LockService {
	return &LockService{
		client:        client,
		prefix:        prefix,
		acquireScript: redis.NewScript(lockAcquireScript),
		releaseScript: redis.NewScript(lockReleaseScript),
	}
}

func (s *LockService) lockKey(name string) string {
	return s.prefix + "lock:" + name
}

func (s *LockService) queueKey(name string) string {
	return s.prefix + "lockq:" + name
}

func (s *LockService) livenessPrefix(name string) string {
	return s.prefix + "lockw:" + name + ":"
}

// Acquire implements lock.Service.
func (s *LockService) Acquire(ctx context.Context, name string, maxWait, hold time.Duration) (*lock.Guard, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("redisstore: lock token: %w", err)
	}

	queueKey := s.queueKey(name)
	livenessKey := s.livenessPrefix(name) + token

	enqueue := s.client.TxPipeline()
	enqueue.ZAddNX(ctx, queueKey, redis.Z{Score: float64(time.Now().UnixNano()), Member: token})
	enqueue.Set(ctx, livenessKey, "1", waiterLiveness)
	if _, err := enqueue.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redisstore: lock enqueue: %w", err)
	}

	deadline := time.Now().Add(maxWait)
	keys := []string{s.lockKey(name), queueKey}
	for {
		acquired, err := s.acquireScript.Run(ctx, s.client, keys,
			token,
			hold.Milliseconds(),
			s.livenessPrefix(name),
		).Int()
		if err != nil {
			s.abandon(name, token)
			return nil, fmt.Errorf("redisstore: lock acquire: %w", err)
		}
		if acquired == 1 {
			return lock.NewGuard(func() { s.release(name, token) }), nil
		}

		if time.Now().After(deadline) {
			s.abandon(name, token)
			return nil, fmt.Errorf("%w: %s", lock.ErrTimeout, name)
		}

		select {
		case <-ctx.Done():
			s.abandon(name, token)
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}

		// Keep our queue slot alive while we wait.
		if err := s.client.Expire(ctx, livenessKey, waiterLiveness).Err(); err != nil && !errors.Is(err, redis.Nil) {
			s.abandon(name, token)
			return nil, fmt.Errorf("redisstore: lock liveness: %w", err)
		}
	}
}

// abandon removes our queue slot; best effort, dead waiters are skipped by
// other acquirers anyway.
func (s *LockService) abandon(name, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.queueKey(name), token)
	pipe.Del(ctx, s.livenessPrefix(name)+token)
	_, _ = pipe.Exec(ctx)
}

// release deletes the lock only if we still hold it; a lock that already
// expired and was re-acquired by someone else is left alone.
func (s *LockService) release(name, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.releaseScript.Run(ctx, s.client, []string{s.lockKey(name)}, token).Err()
	_ = s.client.Del(ctx, s.livenessPrefix(name)+token).Err()
}

func generateToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
