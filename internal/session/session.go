// Package session models the mutable state of one room's exercise progress
// and its persistence. A State holds live handles to externally-owned
// records (collection, realized problem) only while resident in memory;
// persistence flattens them to identifiers through an explicit codec so the
// round-trip behaviour is independently testable.
package session

import (
	"time"

	"github.com/tutorlab/roomd/internal/collab"
)

// Message roles in the room's conversation log.
const (
	RoleSystem      = "system"
	RoleParticipant = "participant"
	RoleAssistant   = "assistant"
)

// Message is one entry in the room's conversation log.
type Message struct {
	Role   string    `json:"role"`
	Sender string    `json:"sender,omitempty"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Participant is one tracked member of the room. A participant who times
// out mid-conversation is flagged, never removed.
type Participant struct {
	User     string `json:"user"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Participants is an ordered set of participants with one current speaker.
type Participants struct {
	Members []Participant `json:"members"`
	Current string        `json:"current,omitempty"`
}

// Has reports whether the user is a tracked participant.
func (p *Participants) Has(user string) bool {
	for _, m := range p.Members {
		if m.User == user {
			return true
		}
	}
	return false
}

// Add appends the user to the ordered set. Adding an existing participant
// is a no-op.
func (p *Participants) Add(user string) {
	if p.Has(user) {
		return
	}
	p.Members = append(p.Members, Participant{User: user})
}

// SetCurrent marks the user as the current speaker, adding them first if
// they are not yet tracked.
func (p *Participants) SetCurrent(user string) {
	p.Add(user)
	p.Current = user
}

// MarkTimedOut flags the user as timed out. Unknown users are ignored.
func (p *Participants) MarkTimedOut(user string) {
	for i := range p.Members {
		if p.Members[i].User == user {
			p.Members[i].TimedOut = true
			return
		}
	}
}

// Users returns the participant usernames in join order.
func (p *Participants) Users() []string {
	users := make([]string, len(p.Members))
	for i, m := range p.Members {
		users[i] = m.User
	}
	return users
}

// State is the session record of one active room.
//
// Collection and Realized are live handles owned by external collaborators;
// only their identifiers survive persistence. Scratch is request-scoped
// working storage and is never durable: it is empty immediately after every
// load regardless of its value before the last save.
type State struct {
	RoomID        string
	CollectionID  int64
	ExerciseIndex int
	Problem       collab.ProblemView
	Participants  Participants
	Deadline      time.Time
	Locale        string
	Messages      []Message
	TimedOut      bool
	SkipProblem   bool

	Collection *collab.Collection
	Realized   *collab.RealizedProblem
	RealizedID int64

	Scratch map[string]any
}

// NewState creates an empty session for a room with an initialized scratch
// map.
func NewState(roomID string) *State {
	return &State{
		RoomID:  roomID,
		Scratch: make(map[string]any),
	}
}
