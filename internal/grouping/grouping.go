// Package grouping turns an ordered waiting queue into room assignments
// according to a per-collection strategy. Grouping is pure policy: given the
// same ordered user list and strategy it always produces the same chunking,
// so the matchmaker's behaviour is reproducible in tests. Only the generated
// room identifiers differ between runs.
package grouping

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tutorlab/roomd/internal/collab"
)

// ErrUnknownStrategy reports a grouping strategy that is not part of the
// closed strategy set. This is a configuration error: callers surface it,
// never swallow it.
var ErrUnknownStrategy = errors.New("grouping: unknown strategy")

// ErrInvalidGroupSize reports a fixed-size strategy configured with a
// non-positive group size.
var ErrInvalidGroupSize = errors.New("grouping: group size must be positive")

// Assignment is one formed group: a fresh room identifier, the member users
// in join order, and the group's position within the batch.
type Assignment struct {
	RoomID     string
	Collection string
	Users      []string
	Index      int
}

// Maker partitions waiting users into groups. The room ID generator is
// injectable for deterministic tests.
type Maker struct {
	newRoomID func() (string, error)
}

// NewMaker creates a Maker using crypto/rand room identifiers.
func NewMaker() *Maker {
	return &Maker{newRoomID: generateRoomID}
}

// MakeGroups partitions users (ordered oldest-join first) into groups per
// the strategy. The trailing chunk smaller than the group size is not
// emitted — those users keep waiting. Join order is the only tie-break.
func (m *Maker) MakeGroups(strategy string, size int, collection string, users []string) ([]Assignment, error) {
	groupSize, err := resolveSize(strategy, size)
	if err != nil {
		return nil, err
	}

	var groups []Assignment
	for start := 0; start+groupSize <= len(users); start += groupSize {
		roomID, err := m.newRoomID()
		if err != nil {
			return nil, err
		}
		members := make([]string, groupSize)
		copy(members, users[start:start+groupSize])
		groups = append(groups, Assignment{
			RoomID:     roomID,
			Collection: collection,
			Users:      members,
			Index:      len(groups),
		})
	}
	return groups, nil
}

func resolveSize(strategy string, size int) (int, error) {
	switch strategy {
	case collab.StrategyIndividual:
		return 1, nil
	case collab.StrategyPair:
		return 2, nil
	case collab.StrategyGroup:
		if size <= 0 {
			return 0, fmt.Errorf("%w: got %d", ErrInvalidGroupSize, size)
		}
		return size, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// generateRoomID produces a 32-character hex string from 16 random bytes.
// Hex is URL-safe and collision-resistant at this length.
// Returns an error if the OS entropy source is unavailable.
func generateRoomID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("grouping: crypto/rand unavailable: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
