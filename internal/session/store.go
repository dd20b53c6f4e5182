package session

import (
	"context"
	"errors"
	"time"
)

// ErrNoSession is returned by Store.Load when no session exists for the
// room. Callers treat it as "room not yet started", not as a failure.
var ErrNoSession = errors.New("session: no session for room")

// Store persists session state keyed by room identifier.
type Store interface {
	// Save flattens and persists the state under its room identifier,
	// replacing any previous record.
	Save(ctx context.Context, s *State) error

	// Load returns the rehydrated state for the room, or ErrNoSession.
	// The returned state always has an empty scratch map.
	Load(ctx context.Context, roomID string) (*State, error)

	// Delete removes the room's session. Deleting an absent session is
	// not an error.
	Delete(ctx context.Context, roomID string) error

	// DeleteAll removes every stored session and returns how many were
	// removed.
	DeleteAll(ctx context.Context) (int, error)

	// PurgeExpired removes sessions whose deadline passed more than
	// grace ago and returns how many were removed.
	PurgeExpired(ctx context.Context, grace time.Duration) (int, error)
}

// Engine is the conversational collaborator driving a room's dialogue.
// Implementations talk to an external service; both methods mutate the
// state's message log in place and leave persistence to the caller.
type Engine interface {
	// SeedOpening appends the opening messages of a freshly created
	// session, introducing the exercise to the room.
	SeedOpening(ctx context.Context, s *State) error

	// Respond processes one participant message that has already been
	// appended to the log and appends the engine's replies.
	Respond(ctx context.Context, msg Message, s *State) error
}
