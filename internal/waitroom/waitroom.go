// Package waitroom holds the pending-join queue: users who asked to join a
// collection and are waiting for the matchmaker to place them in a room.
// Uniqueness is (user, collection); entries are ordered by join time so
// grouping is first-come first-served.
package waitroom

import (
	"context"
	"time"
)

// Entry is one pending join registration.
type Entry struct {
	User         string
	CollectionID int64
	JoinedAt     time.Time
}

// Store is the waitroom contract. Implementations must make Evict atomic
// with respect to concurrent Adds for the same collection: a racing add is
// either fully present after the evict or fully absent, never half-applied.
type Store interface {
	// Add registers the user's intent to join the collection. Adding an
	// already-waiting (user, collection) pair is a no-op that keeps the
	// original join time.
	Add(ctx context.Context, user string, collectionID int64) error

	// Collections returns the distinct collection IDs that currently have
	// at least one pending entry.
	Collections(ctx context.Context) ([]int64, error)

	// Waiting returns the pending entries for a collection ordered by join
	// time, oldest first.
	Waiting(ctx context.Context, collectionID int64) ([]Entry, error)

	// Evict removes exactly the given users' entries for the collection.
	// Users without an entry are skipped silently.
	Evict(ctx context.Context, collectionID int64, users []string) error

	// EvictStale removes entries that have been waiting longer than maxAge
	// and returns how many were removed.
	EvictStale(ctx context.Context, maxAge time.Duration) (int, error)
}
