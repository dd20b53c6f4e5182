package redisstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tutorlab/roomd/internal/lock"
	"github.com/tutorlab/roomd/internal/session"
)

// newTestClient connects to the Redis named by ROOMD_REDIS_ADDR, skipping
// the test when no server is available. Each test gets its own key prefix
// so parallel runs do not collide.
func newTestClient(t *testing.T) (*redis.Client, string) {
	t.Helper()
	addr := os.Getenv("ROOMD_REDIS_ADDR")
	if addr == "" {
		t.Skip("ROOMD_REDIS_ADDR not set, skipping Redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis at %s not reachable: %v", addr, err)
	}
	prefix := fmt.Sprintf("roomd-test:%s:%d:", t.Name(), time.Now().UnixNano())
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		iter := client.Scan(cleanupCtx, 0, prefix+"*", 100).Iterator()
		for iter.Next(cleanupCtx) {
			client.Del(cleanupCtx, iter.Val())
		}
		client.Close()
	})
	return client, prefix
}

func TestWaitroomStore_AddOrderEvict(t *testing.T) {
	t.Parallel()

	client, prefix := newTestClient(t)
	store := NewWaitroomStore(client, prefix)
	ctx := context.Background()

	for _, u := range []string{"u0", "u1", "u2"} {
		if err := store.Add(ctx, u, 7); err != nil {
			t.Fatalf("add %s: %v", u, err)
		}
		time.Sleep(2 * time.Millisecond) // distinct join times
	}
	// Re-adding keeps the original join position.
	if err := store.Add(ctx, "u0", 7); err != nil {
		t.Fatal(err)
	}

	entries, err := store.Waiting(ctx, 7)
	if err != nil {
		t.Fatalf("waiting: %v", err)
	}
	if len(entries) != 3 || entries[0].User != "u0" || entries[2].User != "u2" {
		t.Fatalf("entries = %+v, want u0..u2 in join order", entries)
	}

	ids, err := store.Collections(ctx)
	if err != nil || len(ids) != 1 || ids[0] != 7 {
		t.Fatalf("collections = %v (%v)", ids, err)
	}

	if err := store.Evict(ctx, 7, []string{"u0", "u1", "u2"}); err != nil {
		t.Fatalf("evict: %v", err)
	}
	ids, _ = store.Collections(ctx)
	if len(ids) != 0 {
		t.Fatalf("emptied collection still indexed: %v", ids)
	}
}

func TestWaitroomStore_EvictStale(t *testing.T) {
	t.Parallel()

	client, prefix := newTestClient(t)
	store := NewWaitroomStore(client, prefix)
	ctx := context.Background()

	if err := store.Add(ctx, "old", 7); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := store.Add(ctx, "fresh", 7); err != nil {
		t.Fatal(err)
	}

	n, err := store.EvictStale(ctx, 15*time.Millisecond)
	if err != nil {
		t.Fatalf("evict stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	entries, _ := store.Waiting(ctx, 7)
	if len(entries) != 1 || entries[0].User != "fresh" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestSessionStore_SaveLoadPurge(t *testing.T) {
	t.Parallel()

	client, prefix := newTestClient(t)
	store := NewSessionStore(client, prefix, session.Resolver{})
	ctx := context.Background()

	s := session.NewState("r1")
	s.ExerciseIndex = 2
	s.Participants.SetCurrent("alice")
	s.Deadline = time.Now().Add(-time.Hour)
	s.Scratch["draft"] = "x"
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load(ctx, "r1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ExerciseIndex != 2 || got.Participants.Current != "alice" {
		t.Fatalf("loaded = %+v", got)
	}
	if len(got.Scratch) != 0 {
		t.Fatalf("scratch survived persistence: %v", got.Scratch)
	}

	purged, err := store.PurgeExpired(ctx, time.Minute)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged %d, want 1", purged)
	}
	if _, err := store.Load(ctx, "r1"); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestSessionStore_DeleteAll(t *testing.T) {
	t.Parallel()

	client, prefix := newTestClient(t)
	store := NewSessionStore(client, prefix, session.Resolver{})
	ctx := context.Background()

	for _, room := range []string{"r1", "r2"} {
		s := session.NewState(room)
		s.Deadline = time.Now().Add(time.Hour)
		if err := store.Save(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	n, err := store.DeleteAll(ctx)
	if err != nil || n != 2 {
		t.Fatalf("deleted %d (%v), want 2", n, err)
	}
}

func TestLockService_MutualExclusion(t *testing.T) {
	t.Parallel()

	client, prefix := newTestClient(t)
	svc := NewLockService(client, prefix)
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guard, err := svc.Acquire(ctx, "room:r1", 5*time.Second, 2*time.Second)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			guard.Release()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("max holders = %d, want 1", maxInside)
	}
}

func TestLockService_Timeout(t *testing.T) {
	t.Parallel()

	client, prefix := newTestClient(t)
	svc := NewLockService(client, prefix)
	ctx := context.Background()

	guard, err := svc.Acquire(ctx, "room:r1", time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer guard.Release()

	if _, err := svc.Acquire(ctx, "room:r1", 100*time.Millisecond, time.Second); !errors.Is(err, lock.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestLockService_HoldExpiryFreesLock(t *testing.T) {
	t.Parallel()

	client, prefix := newTestClient(t)
	svc := NewLockService(client, prefix)
	ctx := context.Background()

	// First holder never releases; the PX expiry must free the lock.
	if _, err := svc.Acquire(ctx, "room:r1", time.Second, 100*time.Millisecond); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	guard, err := svc.Acquire(ctx, "room:r1", 2*time.Second, time.Second)
	if err != nil {
		t.Fatalf("second acquire after expiry: %v", err)
	}
	guard.Release()
}
