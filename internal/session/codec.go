package session

import (
	"context"
	"fmt"
	"time"

	"github.com/tutorlab/roomd/internal/collab"
)

// Record is the durable shape of a State. Live handles are flattened to
// their identifiers and the scratch map is dropped entirely.
type Record struct {
	RoomID        string             `json:"room_id"`
	CollectionID  int64              `json:"collection_id"`
	ExerciseIndex int                `json:"exercise_index"`
	Problem       collab.ProblemView `json:"problem"`
	Participants  Participants       `json:"participants"`
	Deadline      int64              `json:"deadline_unix_ms"`
	Locale        string             `json:"locale,omitempty"`
	Messages      []Message          `json:"messages"`
	TimedOut      bool               `json:"timed_out,omitempty"`
	SkipProblem   bool               `json:"skip_problem,omitempty"`
	RealizedID    int64              `json:"realized_problem_id,omitempty"`
}

// Flatten converts a State to its durable record. The live Collection and
// Realized handles are reduced to CollectionID and RealizedID; when a handle
// is set it wins over a stale identifier field.
func Flatten(s *State) Record {
	rec := Record{
		RoomID:        s.RoomID,
		CollectionID:  s.CollectionID,
		ExerciseIndex: s.ExerciseIndex,
		Problem:       s.Problem,
		Participants:  s.Participants,
		Locale:        s.Locale,
		Messages:      s.Messages,
		TimedOut:      s.TimedOut,
		SkipProblem:   s.SkipProblem,
		RealizedID:    s.RealizedID,
	}
	if !s.Deadline.IsZero() {
		rec.Deadline = s.Deadline.UnixMilli()
	}
	if s.Collection != nil {
		rec.CollectionID = s.Collection.ID
	}
	if s.Realized != nil {
		rec.RealizedID = s.Realized.ID
	}
	return rec
}

// Expand converts a durable record back to a State. Reference handles stay
// nil until Rehydrate resolves them; the scratch map starts empty.
func Expand(rec Record) *State {
	s := &State{
		RoomID:        rec.RoomID,
		CollectionID:  rec.CollectionID,
		ExerciseIndex: rec.ExerciseIndex,
		Problem:       rec.Problem,
		Participants:  rec.Participants,
		Locale:        rec.Locale,
		Messages:      rec.Messages,
		TimedOut:      rec.TimedOut,
		SkipProblem:   rec.SkipProblem,
		RealizedID:    rec.RealizedID,
		Scratch:       make(map[string]any),
	}
	if rec.Deadline != 0 {
		s.Deadline = time.UnixMilli(rec.Deadline)
	}
	return s
}

// Resolver re-attaches the live handles a Record cannot carry. Every store
// implementation runs loaded states through it before handing them out.
type Resolver struct {
	Collections collab.CollectionService
	Realized    collab.RealizedProblemService
}

// Rehydrate resolves CollectionID and RealizedID back into live handles.
// A zero RealizedID means no realized problem has been recorded yet and is
// left nil.
func (r Resolver) Rehydrate(ctx context.Context, s *State) error {
	if s.CollectionID != 0 && r.Collections != nil {
		col, err := r.Collections.Get(ctx, s.CollectionID)
		if err != nil {
			return fmt.Errorf("session: resolve collection %d: %w", s.CollectionID, err)
		}
		s.Collection = col
	}
	if s.RealizedID != 0 && r.Realized != nil {
		rp, err := r.Realized.Get(ctx, s.RealizedID)
		if err != nil {
			return fmt.Errorf("session: resolve realized problem %d: %w", s.RealizedID, err)
		}
		s.Realized = &rp
	}
	return nil
}
