// Package lock provides named, fair, bounded-wait mutual exclusion. Waiters
// are served in arrival order; acquisition waits at most maxWait and a held
// lock is force-released after the hold timeout so a crashed holder cannot
// wedge a room forever.
//
// Two namespaces are in use: room locks protect session create/read/mutate,
// user locks protect the join-waitroom race for a single user.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned when the lock could not be acquired within maxWait.
// Callers decide whether to proceed best-effort (join flow) or abort
// (session mutation flows).
var ErrTimeout = errors.New("lock: acquire timed out")

// RoomName returns the lock name protecting a room's session state.
func RoomName(roomID string) string {
	return "room:" + roomID
}

// UserName returns the lock name protecting a user's join subscription.
func UserName(user string) string {
	return "user-sub:" + user
}

// Service is the distributed lock contract.
type Service interface {
	// Acquire blocks up to maxWait for the named lock and holds it for at
	// most hold. On success the returned Guard must be released on every
	// exit path; on failure it returns ErrTimeout (or the context error).
	Acquire(ctx context.Context, name string, maxWait, hold time.Duration) (*Guard, error)
}

// Guard represents a held lock. Release is idempotent and safe to call on a
// nil Guard, so callers can `defer guard.Release()` before checking the
// acquisition error.
type Guard struct {
	once    sync.Once
	release func()
}

// NewGuard wraps a release function in a Guard. Used by Service
// implementations.
func NewGuard(release func()) *Guard {
	return &Guard{release: release}
}

// Release releases the lock. Safe to call multiple times and on nil.
func (g *Guard) Release() {
	if g == nil || g.release == nil {
		return
	}
	g.once.Do(g.release)
}
