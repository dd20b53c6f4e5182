// Package room implements the room session controller: joining the
// waitroom, starting and advancing exercise sessions, applying participant
// messages and reports. All session mutation happens under the room's lock
// so concurrent requests from group members serialize cleanly.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tutorlab/roomd/internal/collab"
	"github.com/tutorlab/roomd/internal/lock"
	"github.com/tutorlab/roomd/internal/notify"
	"github.com/tutorlab/roomd/internal/session"
	"github.com/tutorlab/roomd/internal/waitroom"
)

// ErrNotMember reports a request for a room the user was never assigned to.
var ErrNotMember = errors.New("room: user is not a member of this room")

// ErrNoExercise reports an exercise index past the end of the collection.
var ErrNoExercise = errors.New("room: collection has no exercise at this index")

// ErrBusy reports that the room's lock could not be acquired in time. The
// request is aborted without touching session state; clients retry.
var ErrBusy = errors.New("room: room is busy, try again")

// JoinResult tells the caller whether they were queued or already placed.
type JoinResult struct {
	RoomID  string // set when the user already has a room for the collection
	Waiting bool   // true when the user was (re-)queued in the waitroom
}

// Incoming is one participant message as received from the outside.
// TimedOut and SkipProblem are explicit signals: a timed-out participant is
// flagged and kept, never removed from the session.
type Incoming struct {
	Text        string
	TimedOut    bool
	SkipProblem bool
}

// Controller coordinates the full room session lifecycle.
type Controller struct {
	sessions    session.Store
	engine      session.Engine
	locks       lock.Service
	waitroom    waitroom.Store
	collections collab.CollectionService
	adapter     collab.ProblemAdapter
	realized    collab.RealizedProblemService
	membership  collab.MembershipService
	reports     collab.ReportService
	publisher   notify.Publisher
	logger      *slog.Logger

	lockWait      time.Duration
	lockHold      time.Duration
	deadlineGrace time.Duration

	now func() time.Time
}

// ControllerDeps bundles the collaborators a Controller needs.
type ControllerDeps struct {
	Sessions    session.Store
	Engine      session.Engine
	Locks       lock.Service
	Waitroom    waitroom.Store
	Collections collab.CollectionService
	Adapter     collab.ProblemAdapter
	Realized    collab.RealizedProblemService
	Membership  collab.MembershipService
	Reports     collab.ReportService
	Publisher   notify.Publisher
	Logger      *slog.Logger

	LockWait      time.Duration // default 3s
	LockHold      time.Duration // default 2s
	DeadlineGrace time.Duration // default 1s
}

// NewController creates a Controller. Zero-valued timings get defaults.
func NewController(deps ControllerDeps) *Controller {
	if deps.LockWait <= 0 {
		deps.LockWait = 3 * time.Second
	}
	if deps.LockHold <= 0 {
		deps.LockHold = 2 * time.Second
	}
	if deps.DeadlineGrace <= 0 {
		deps.DeadlineGrace = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Controller{
		sessions:      deps.Sessions,
		engine:        deps.Engine,
		locks:         deps.Locks,
		waitroom:      deps.Waitroom,
		collections:   deps.Collections,
		adapter:       deps.Adapter,
		realized:      deps.Realized,
		membership:    deps.Membership,
		reports:       deps.Reports,
		publisher:     deps.Publisher,
		logger:        deps.Logger,
		lockWait:      deps.LockWait,
		lockHold:      deps.LockHold,
		deadlineGrace: deps.DeadlineGrace,
		now:           time.Now,
	}
}

// SetNow overrides the controller clock. Test hook.
func (c *Controller) SetNow(now func() time.Time) { c.now = now }

// Join queues the user for matchmaking on a collection, unless they are
// already assigned to a room for it. The per-user lock closes the race
// between a double-click join and a concurrent matchmaker pass; if the lock
// cannot be taken in time the join proceeds best-effort, since the waitroom
// add is idempotent anyway.
func (c *Controller) Join(ctx context.Context, user string, collectionID int64) (JoinResult, error) {
	if _, err := c.collections.GetForUser(ctx, collectionID, user); err != nil {
		return JoinResult{}, fmt.Errorf("room: join collection %d: %w", collectionID, err)
	}

	guard, err := c.locks.Acquire(ctx, lock.UserName(user), c.lockWait, c.lockHold)
	if err != nil && !errors.Is(err, lock.ErrTimeout) {
		return JoinResult{}, fmt.Errorf("room: join lock: %w", err)
	}
	if err != nil {
		c.logger.Warn("join proceeding without user lock", "user", user)
	}
	defer guard.Release()

	membership, err := c.membership.RoomFor(ctx, user, collectionID)
	switch {
	case err == nil:
		return JoinResult{RoomID: membership.RoomID}, nil
	case errors.Is(err, collab.ErrNotFound):
		// Not placed yet, fall through to the waitroom.
	default:
		return JoinResult{}, fmt.Errorf("room: membership lookup: %w", err)
	}

	if err := c.waitroom.Add(ctx, user, collectionID); err != nil {
		return JoinResult{}, fmt.Errorf("room: enter waitroom: %w", err)
	}
	return JoinResult{Waiting: true}, nil
}

// AssignedRoom returns the room the user currently belongs to. Clients that
// missed their assignment notification poll this instead of re-joining.
func (c *Controller) AssignedRoom(ctx context.Context, user string) (string, error) {
	membership, err := c.membership.RoomForUser(ctx, user)
	if err != nil {
		return "", fmt.Errorf("room: assigned room for %s: %w", user, err)
	}
	return membership.RoomID, nil
}

// EnsureSession returns the room's session, creating it on first access.
// Creation and read happen under the room lock so concurrent first-readers
// agree on a single session.
func (c *Controller) EnsureSession(ctx context.Context, user, roomID string, collectionID int64, exerciseIndex int) (*session.State, error) {
	if err := c.requireMember(ctx, user, roomID); err != nil {
		return nil, err
	}

	guard, err := c.acquireRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	s, err := c.sessions.Load(ctx, roomID)
	switch {
	case err == nil:
		return s, nil
	case errors.Is(err, session.ErrNoSession):
		return c.createSession(ctx, user, roomID, collectionID, exerciseIndex)
	default:
		return nil, fmt.Errorf("room: load session %s: %w", roomID, err)
	}
}

// createSession builds the initial session state for a room. Caller holds
// the room lock.
func (c *Controller) createSession(ctx context.Context, user, roomID string, collectionID int64, exerciseIndex int) (*session.State, error) {
	collection, err := c.collections.GetForUser(ctx, collectionID, user)
	if err != nil {
		return nil, fmt.Errorf("room: resolve collection %d: %w", collectionID, err)
	}

	s, err := c.buildExerciseState(ctx, user, roomID, collection, exerciseIndex)
	if err != nil {
		return nil, err
	}

	members, err := c.membership.Members(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("room: list members of %s: %w", roomID, err)
	}
	for _, member := range members {
		s.Participants.Add(member)
	}

	if err := c.engine.SeedOpening(ctx, s); err != nil {
		return nil, fmt.Errorf("room: seed opening for %s: %w", roomID, err)
	}
	if err := c.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("room: save new session %s: %w", roomID, err)
	}

	c.publishRoom(roomID, notify.KindSessionStarted, sessionSummary(s))
	c.logger.Info("session started",
		"room_id", roomID,
		"collection_id", collectionID,
		"exercise", exerciseIndex,
	)
	return s, nil
}

// buildExerciseState assembles a fresh session state for one exercise:
// adapted problem view, deadline, and the realized-problem record.
func (c *Controller) buildExerciseState(ctx context.Context, user, roomID string, collection *collab.Collection, exerciseIndex int) (*session.State, error) {
	problem, ok := collection.ProblemAt(exerciseIndex)
	if !ok {
		return nil, fmt.Errorf("%w: collection %d index %d", ErrNoExercise, collection.ID, exerciseIndex)
	}

	view, err := c.adapter.Adapt(ctx, user, problem, collection.Settings.HelpLevel)
	if err != nil {
		return nil, fmt.Errorf("room: adapt problem %d: %w", problem.ID, err)
	}

	rp, err := c.realized.Save(ctx, collab.RealizedProblem{
		ProblemID: problem.ID,
		CreatedAt: c.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("room: record realized problem: %w", err)
	}

	s := session.NewState(roomID)
	s.CollectionID = collection.ID
	s.Collection = collection
	s.ExerciseIndex = exerciseIndex
	s.Problem = view
	s.Locale = collection.Settings.Locale
	s.Realized = &rp
	s.RealizedID = rp.ID
	// The grace period keeps a session answerable briefly after its own
	// deadline, so in-flight messages do not race the sweep.
	s.Deadline = c.now().Add(view.MaxResolution).Add(c.deadlineGrace)
	return s, nil
}

// ApplyMessage appends a participant message, lets the engine respond, and
// persists the result, all under the room lock.
func (c *Controller) ApplyMessage(ctx context.Context, user, roomID string, in Incoming) (*session.State, error) {
	if err := c.requireMember(ctx, user, roomID); err != nil {
		return nil, err
	}

	guard, err := c.acquireRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	s, err := c.sessions.Load(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("room: load session %s: %w", roomID, err)
	}

	s.Participants.SetCurrent(user)
	if in.TimedOut {
		s.Participants.MarkTimedOut(user)
		s.TimedOut = true
	}
	if in.SkipProblem {
		s.SkipProblem = true
	}

	msg := session.Message{
		Role:   session.RoleParticipant,
		Sender: user,
		Text:   in.Text,
		SentAt: c.now(),
	}
	s.Messages = append(s.Messages, msg)

	if err := c.engine.Respond(ctx, msg, s); err != nil {
		return nil, fmt.Errorf("room: engine respond in %s: %w", roomID, err)
	}
	if err := c.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("room: save session %s: %w", roomID, err)
	}

	c.publishRoom(roomID, notify.KindSessionUpdated, sessionSummary(s))
	return s, nil
}

// RecordReport stores a participant's exercise report. Once every
// participant of the room has reported the current exercise (and the
// collection is not user-driven), the session advances to the next
// exercise; the last exercise simply completes.
func (c *Controller) RecordReport(ctx context.Context, user, roomID string, kind, results string) (*session.State, error) {
	if err := c.requireMember(ctx, user, roomID); err != nil {
		return nil, err
	}

	guard, err := c.acquireRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	s, err := c.sessions.Load(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("room: load session %s: %w", roomID, err)
	}

	if _, err := c.reports.Save(ctx, collab.Report{
		RoomID:            roomID,
		User:              user,
		RealizedProblemID: s.RealizedID,
		ExerciseIndex:     s.ExerciseIndex,
		Kind:              kind,
		Results:           results,
		CreatedAt:         c.now(),
	}); err != nil {
		return nil, fmt.Errorf("room: save report: %w", err)
	}

	if s.Collection == nil || s.Collection.Settings.SelectionMode == collab.SelectionUser {
		return s, nil
	}

	reported, err := c.reports.CountForExercise(ctx, roomID, s.ExerciseIndex)
	if err != nil {
		return nil, fmt.Errorf("room: count reports: %w", err)
	}
	participants, err := c.membership.CountParticipants(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("room: count participants: %w", err)
	}
	if reported < participants {
		return s, nil
	}

	return c.advance(ctx, user, s)
}

// advance replaces the session with one for the next exercise. Caller
// holds the room lock. When the collection is exhausted the current state
// is returned unchanged.
func (c *Controller) advance(ctx context.Context, user string, s *session.State) (*session.State, error) {
	nextIndex := s.ExerciseIndex + 1
	if _, ok := s.Collection.ProblemAt(nextIndex); !ok {
		c.logger.Info("collection finished", "room_id", s.RoomID, "exercises", nextIndex)
		return s, nil
	}

	next, err := c.buildExerciseState(ctx, user, s.RoomID, s.Collection, nextIndex)
	if err != nil {
		return nil, err
	}
	next.Participants = s.Participants

	if err := c.engine.SeedOpening(ctx, next); err != nil {
		return nil, fmt.Errorf("room: seed opening for %s: %w", s.RoomID, err)
	}
	if err := c.sessions.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("room: save advanced session %s: %w", s.RoomID, err)
	}

	c.publishRoom(s.RoomID, notify.KindSessionStarted, sessionSummary(next))
	c.logger.Info("session advanced",
		"room_id", s.RoomID,
		"exercise", nextIndex,
	)
	return next, nil
}

// PurgeAll wipes all coordination state: sessions, memberships, and
// reports. Safe to call repeatedly.
func (c *Controller) PurgeAll(ctx context.Context) error {
	n, err := c.sessions.DeleteAll(ctx)
	if err != nil {
		return fmt.Errorf("room: purge sessions: %w", err)
	}
	if err := c.membership.DeleteAll(ctx); err != nil {
		return fmt.Errorf("room: purge memberships: %w", err)
	}
	if err := c.reports.DeleteAll(ctx); err != nil {
		return fmt.Errorf("room: purge reports: %w", err)
	}
	c.logger.Info("purged all coordination state", "sessions", n)
	return nil
}

func (c *Controller) requireMember(ctx context.Context, user, roomID string) error {
	ok, err := c.membership.ExistsRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("room: check room %s: %w", roomID, err)
	}
	if !ok {
		return fmt.Errorf("%w: room %s", collab.ErrNotFound, roomID)
	}
	membership, err := c.membership.RoomForUser(ctx, user)
	if err != nil || membership.RoomID != roomID {
		return fmt.Errorf("%w: user %s, room %s", ErrNotMember, user, roomID)
	}
	return nil
}

func (c *Controller) acquireRoom(ctx context.Context, roomID string) (*lock.Guard, error) {
	guard, err := c.locks.Acquire(ctx, lock.RoomName(roomID), c.lockWait, c.lockHold)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrBusy, roomID)
		}
		return nil, fmt.Errorf("room: lock %s: %w", roomID, err)
	}
	return guard, nil
}

// summary is the notification payload for session events. It deliberately
// excludes the message log; clients fetch the full session over HTTP.
type summary struct {
	RoomID         string    `json:"room_id"`
	ExerciseIndex  int       `json:"exercise_index"`
	Deadline       time.Time `json:"deadline"`
	CurrentSpeaker string    `json:"current_speaker,omitempty"`
	MessageCount   int       `json:"message_count"`
}

func sessionSummary(s *session.State) summary {
	return summary{
		RoomID:         s.RoomID,
		ExerciseIndex:  s.ExerciseIndex,
		Deadline:       s.Deadline,
		CurrentSpeaker: s.Participants.Current,
		MessageCount:   len(s.Messages),
	}
}

func (c *Controller) publishRoom(roomID, kind string, payload any) {
	ev, err := notify.NewEvent(notify.RoomTopic(roomID), kind, payload)
	if err != nil {
		c.logger.Error("build room event failed", "room_id", roomID, "error", err)
		return
	}
	// Fire and forget: room updates are advisory, the HTTP response is the
	// source of truth for the sender.
	c.publisher.PublishAsync(ev)
}
