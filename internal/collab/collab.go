// Package collab defines the domain types and collaborator contracts the
// room coordination core depends on: collection lookup, problem adaptation,
// realized-problem persistence, room membership, and report persistence.
// Implementations live in modules (sqlite-backed by default); the core never
// assumes a concrete backend.
package collab

import (
	"context"
	"time"
)

// Grouping strategy selectors, configured per collection.
const (
	StrategyIndividual = "individual"
	StrategyPair       = "pair"
	StrategyGroup      = "group"
)

// Selection modes. In user-driven mode participants decide when to move on;
// otherwise the next exercise starts once every participant has reported.
const (
	SelectionUser = "user"
	SelectionAuto = "auto"
)

// Collection is a named, ordered sequence of exercises with grouping
// settings. Read-only to the coordination core.
type Collection struct {
	ID       int64
	Name     string
	Settings CollectionSettings
	Problems []Problem // ordered by Sequence, ascending
}

// ProblemAt returns the problem at the given sequence position, or false
// if the collection has no exercise at that index.
func (c *Collection) ProblemAt(sequence int) (Problem, bool) {
	for _, p := range c.Problems {
		if p.Sequence == sequence {
			return p, true
		}
	}
	return Problem{}, false
}

// CollectionSettings holds the per-collection policy knobs.
type CollectionSettings struct {
	GroupStrategy string
	GroupSize     int
	SelectionMode string
	HelpLevel     int
	Locale        string
}

// Problem is one exercise inside a collection.
type Problem struct {
	ID            int64
	Sequence      int
	Statement     string
	MaxResolution time.Duration
}

// ProblemView is a problem adapted for presentation to a specific user at a
// specific help level. It carries the maximum resolution duration used to
// compute the room deadline.
type ProblemView struct {
	ProblemID     int64
	Sequence      int
	Statement     string
	HelpLevel     int
	MaxResolution time.Duration
}

// RealizedProblem is the record of one concrete attempt at an exercise
// within a room.
type RealizedProblem struct {
	ID              int64
	ProblemID       int64
	CreatedAt       time.Time
	FinishedByTimer bool
}

// RoomMembership links a user to an assigned room.
type RoomMembership struct {
	User         string
	RoomID       string
	CollectionID int64
}

// Report is a participant's submitted result for one exercise in a room.
type Report struct {
	ID                int64
	RoomID            string
	User              string
	RealizedProblemID int64
	ExerciseIndex     int
	Kind              string
	Results           string
	CreatedAt         time.Time
}

// CollectionService resolves collections. Get returns ErrNotFound for an
// unknown ID; GetForUser additionally returns ErrNotFound when the user may
// not access the collection.
type CollectionService interface {
	Get(ctx context.Context, id int64) (*Collection, error)
	GetForUser(ctx context.Context, id int64, user string) (*Collection, error)
}

// ProblemAdapter turns a stored problem into a user-facing view at the
// requested help level.
type ProblemAdapter interface {
	Adapt(ctx context.Context, user string, p Problem, helpLevel int) (ProblemView, error)
}

// RealizedProblemService persists realized-problem instances. Save assigns
// the ID on first persistence and returns the stored record.
type RealizedProblemService interface {
	Save(ctx context.Context, rp RealizedProblem) (RealizedProblem, error)
	Get(ctx context.Context, id int64) (RealizedProblem, error)
}

// MembershipService tracks which users belong to which room. Assign is
// called once per group when the matchmaker forms a room; everything else
// is read-only to the core.
type MembershipService interface {
	Assign(ctx context.Context, roomID string, collectionID int64, users []string) error
	ExistsRoom(ctx context.Context, roomID string) (bool, error)
	RoomForUser(ctx context.Context, user string) (*RoomMembership, error)
	RoomFor(ctx context.Context, user string, collectionID int64) (*RoomMembership, error)
	Members(ctx context.Context, roomID string) ([]string, error)
	CountParticipants(ctx context.Context, roomID string) (int, error)
	DeleteAll(ctx context.Context) error
}

// ReportService persists reports and answers the counting queries the
// room controller needs to decide when to advance an exercise.
type ReportService interface {
	Save(ctx context.Context, r Report) (Report, error)
	CountForExercise(ctx context.Context, roomID string, exerciseIndex int) (int, error)
	DeleteAll(ctx context.Context) error
}
