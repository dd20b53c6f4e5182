// Package matchmaker periodically drains the waitroom into newly formed
// rooms. A short-lived leader lock keeps concurrent instances from forming
// duplicate groups; an instance that cannot take the lock skips the tick.
package matchmaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tutorlab/roomd/internal/collab"
	"github.com/tutorlab/roomd/internal/core"
	"github.com/tutorlab/roomd/internal/grouping"
	"github.com/tutorlab/roomd/internal/lock"
	"github.com/tutorlab/roomd/internal/notify"
	"github.com/tutorlab/roomd/internal/waitroom"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

const leaderLockName = "matchmaker-leader"

// Config holds YAML configuration for the matchmaker module.
type Config struct {
	Interval   string `yaml:"interval"`
	LockWait   string `yaml:"lock_wait"`
	LockHold   string `yaml:"lock_hold"`
	NotifyWait string `yaml:"notify_wait"`
}

func (c *Config) defaults() {
	if c.Interval == "" {
		c.Interval = "200ms"
	}
	if c.LockWait == "" {
		c.LockWait = "50ms"
	}
	if c.LockHold == "" {
		c.LockHold = "5s"
	}
	if c.NotifyWait == "" {
		c.NotifyWait = "3s"
	}
}

// assignment is the payload of the room_assigned event sent to each matched
// user.
type assignedPayload struct {
	RoomID       string `json:"room_id"`
	CollectionID int64  `json:"collection_id"`
}

// Module is the matchmaking scheduler.
type Module struct {
	config     Config
	appCtx     *core.AppContext
	logger     *slog.Logger
	interval   time.Duration
	lockWait   time.Duration
	lockHold   time.Duration
	notifyWait time.Duration

	waitroom    waitroom.Store
	collections collab.CollectionService
	membership  collab.MembershipService
	locks       lock.Service
	publisher   notify.Publisher
	maker       *grouping.Maker

	cancel context.CancelFunc
	done   chan struct{}
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "matchmaker",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if node != nil {
		if err := node.Decode(&m.config); err != nil {
			return err
		}
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	m.maker = grouping.NewMaker()

	var err error
	if m.interval, err = time.ParseDuration(m.config.Interval); err != nil {
		return fmt.Errorf("matchmaker: invalid interval %q: %w", m.config.Interval, err)
	}
	if m.lockWait, err = time.ParseDuration(m.config.LockWait); err != nil {
		return fmt.Errorf("matchmaker: invalid lock_wait %q: %w", m.config.LockWait, err)
	}
	if m.lockHold, err = time.ParseDuration(m.config.LockHold); err != nil {
		return fmt.Errorf("matchmaker: invalid lock_hold %q: %w", m.config.LockHold, err)
	}
	if m.notifyWait, err = time.ParseDuration(m.config.NotifyWait); err != nil {
		return fmt.Errorf("matchmaker: invalid notify_wait %q: %w", m.config.NotifyWait, err)
	}

	// The leader lock is held across the notification barrier, so the hold
	// must outlive notify_wait or another instance could start a tick while
	// this one is still announcing assignments.
	if m.lockHold <= m.notifyWait {
		m.lockHold = m.notifyWait + time.Second
	}

	m.appCtx = ctx
	return nil
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding, so registration order between modules does not
// matter) and launches the tick loop.
func (m *Module) Start() error {
	if svc, ok := m.appCtx.Service("waitroom.store"); ok {
		m.waitroom, _ = svc.(waitroom.Store)
	}
	if svc, ok := m.appCtx.Service("collection.service"); ok {
		m.collections, _ = svc.(collab.CollectionService)
	}
	if svc, ok := m.appCtx.Service("membership.service"); ok {
		m.membership, _ = svc.(collab.MembershipService)
	}
	if svc, ok := m.appCtx.Service("lock.service"); ok {
		m.locks, _ = svc.(lock.Service)
	}
	if svc, ok := m.appCtx.Service("notify.publisher"); ok {
		m.publisher, _ = svc.(notify.Publisher)
	}
	switch {
	case m.waitroom == nil:
		return errors.New("matchmaker: waitroom.store service not registered")
	case m.collections == nil:
		return errors.New("matchmaker: collection.service service not registered")
	case m.membership == nil:
		return errors.New("matchmaker: membership.service service not registered")
	case m.locks == nil:
		return errors.New("matchmaker: lock.service service not registered")
	case m.publisher == nil:
		return errors.New("matchmaker: notify.publisher service not registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(ctx)

	m.logger.Info("matchmaker started", "interval", m.interval)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		select {
		case <-m.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.logger.Info("matchmaker stopped")
	return nil
}

func (m *Module) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs one matchmaking pass under the leader lock. Losing the lock
// race means another instance is already matching; the tick is skipped.
func (m *Module) tick(ctx context.Context) {
	guard, err := m.locks.Acquire(ctx, leaderLockName, m.lockWait, m.lockHold)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) || errors.Is(err, context.Canceled) {
			return
		}
		m.logger.Error("leader lock acquire failed", "error", err)
		return
	}
	defer guard.Release()

	collections, err := m.waitroom.Collections(ctx)
	if err != nil {
		m.logger.Error("list waiting collections failed", "error", err)
		return
	}

	for _, collectionID := range collections {
		if ctx.Err() != nil {
			return
		}
		if err := m.matchCollection(ctx, collectionID); err != nil {
			// One broken collection must not starve the others.
			m.logger.Error("matchmaking pass failed",
				"collection_id", collectionID,
				"error", err,
			)
			ticksFailed.Inc()
		}
	}
}

// matchCollection forms as many full groups as the collection's waitroom
// allows, persists memberships, evicts matched users, and notifies them.
func (m *Module) matchCollection(ctx context.Context, collectionID int64) error {
	collection, err := m.collections.Get(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("resolve collection: %w", err)
	}

	entries, err := m.waitroom.Waiting(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("list waiting users: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	users := make([]string, len(entries))
	for i, e := range entries {
		users[i] = e.User
	}

	assignments, err := m.maker.MakeGroups(
		collection.Settings.GroupStrategy,
		collection.Settings.GroupSize,
		collection.Name,
		users,
	)
	if err != nil {
		return fmt.Errorf("form groups: %w", err)
	}

	for _, a := range assignments {
		if err := m.placeGroup(ctx, collectionID, a); err != nil {
			return err
		}
		groupsFormed.Inc()
		usersMatched.Add(float64(len(a.Users)))
	}
	return nil
}

// placeGroup commits one formed group: membership first, then eviction, so
// a crash between the two leaves users matched rather than lost.
func (m *Module) placeGroup(ctx context.Context, collectionID int64, a grouping.Assignment) error {
	if err := m.membership.Assign(ctx, a.RoomID, collectionID, a.Users); err != nil {
		return fmt.Errorf("assign room %s: %w", a.RoomID, err)
	}
	if err := m.waitroom.Evict(ctx, collectionID, a.Users); err != nil {
		return fmt.Errorf("evict matched users from room %s: %w", a.RoomID, err)
	}

	m.logger.Info("room formed",
		"room_id", a.RoomID,
		"collection_id", collectionID,
		"users", len(a.Users),
	)

	m.notifyGroup(ctx, collectionID, a)
	return nil
}

// notifyGroup tells every member about their assignment concurrently and
// waits for all deliveries before returning, so the next tick never
// overtakes the announcements of this one.
func (m *Module) notifyGroup(ctx context.Context, collectionID int64, a grouping.Assignment) {
	payload, err := json.Marshal(assignedPayload{RoomID: a.RoomID, CollectionID: collectionID})
	if err != nil {
		m.logger.Error("marshal assignment payload failed", "error", err)
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, m.notifyWait)
	defer cancel()

	var wg sync.WaitGroup
	for _, user := range a.Users {
		ev := notify.Event{
			Topic:   notify.UserTopic(user),
			Kind:    notify.KindRoomAssigned,
			Payload: payload,
			SentAt:  time.Now(),
		}
		d := m.publisher.PublishAsync(ev)
		wg.Add(1)
		go func(user string, d *notify.Delivery) {
			defer wg.Done()
			if err := d.Join(joinCtx); err != nil {
				m.logger.Warn("assignment notification incomplete",
					"user", user,
					"room_id", a.RoomID,
					"error", err,
				)
			}
		}(user, d)
	}
	wg.Wait()
}
