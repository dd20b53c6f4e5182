package waitroom

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_AddIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	s.SetNow(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	ctx := context.Background()
	if err := s.Add(ctx, "ana", 7); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, "ana", 7); err != nil {
		t.Fatal(err)
	}

	waiting, err := s.Waiting(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(waiting) != 1 {
		t.Fatalf("got %d entries, want 1", len(waiting))
	}
	if !waiting[0].JoinedAt.Equal(base.Add(1 * time.Second)) {
		t.Error("re-add must keep the original join time")
	}
}

func TestMemoryStore_WaitingOrderedByJoinTime(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	s.SetNow(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	})

	ctx := context.Background()
	// Insert out of lexical order; join time must win.
	for _, u := range []string{"zoe", "ana", "mia"} {
		if err := s.Add(ctx, u, 1); err != nil {
			t.Fatal(err)
		}
	}

	waiting, err := s.Waiting(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"zoe", "ana", "mia"}
	for i, e := range waiting {
		if e.User != want[i] {
			t.Errorf("waiting[%d] = %q, want %q", i, e.User, want[i])
		}
	}
}

func TestMemoryStore_CollectionsOnlyNonEmpty(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Add(ctx, "ana", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, "ben", 2); err != nil {
		t.Fatal(err)
	}
	if err := s.Evict(ctx, 2, []string{"ben"}); err != nil {
		t.Fatal(err)
	}

	ids, err := s.Collections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Errorf("collections = %v, want [1]", ids)
	}
}

func TestMemoryStore_EvictExactUsers(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	for _, u := range []string{"a", "b", "c"} {
		if err := s.Add(ctx, u, 5); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Evict(ctx, 5, []string{"a", "c", "ghost"}); err != nil {
		t.Fatal(err)
	}

	waiting, err := s.Waiting(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(waiting) != 1 || waiting[0].User != "b" {
		t.Errorf("waiting = %v, want only b", waiting)
	}
}

func TestMemoryStore_ConcurrentAddEvict(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		user := fmt.Sprintf("u%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Add(ctx, user, 9)
		}()
		go func() {
			defer wg.Done()
			_ = s.Evict(ctx, 9, []string{user})
		}()
	}
	wg.Wait()

	// Every user is either present or evicted; re-adding and evicting all
	// must leave the collection empty, proving no entry was half-applied.
	for i := range 50 {
		if err := s.Add(ctx, fmt.Sprintf("u%d", i), 9); err != nil {
			t.Fatal(err)
		}
	}
	users := make([]string, 50)
	for i := range users {
		users[i] = fmt.Sprintf("u%d", i)
	}
	if err := s.Evict(ctx, 9, users); err != nil {
		t.Fatal(err)
	}
	waiting, err := s.Waiting(ctx, 9)
	if err != nil {
		t.Fatal(err)
	}
	if len(waiting) != 0 {
		t.Errorf("waiting = %v, want empty", waiting)
	}
}

func TestMemoryStore_EvictStale(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current := base
	s.SetNow(func() time.Time { return current })

	ctx := context.Background()
	if err := s.Add(ctx, "old", 1); err != nil {
		t.Fatal(err)
	}
	current = base.Add(10 * time.Minute)
	if err := s.Add(ctx, "fresh", 1); err != nil {
		t.Fatal(err)
	}

	removed, err := s.EvictStale(ctx, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	waiting, err := s.Waiting(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(waiting) != 1 || waiting[0].User != "fresh" {
		t.Errorf("waiting = %v, want only fresh", waiting)
	}
}
