package cron

import (
	"context"
	"log/slog"
	"time"
)

// WaitroomSweeper is the subset of waitroom.Store needed by the sweep job.
// Defined here to avoid a circular dependency.
type WaitroomSweeper interface {
	EvictStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// SessionPurger is the subset of session.Store needed by the sweep job.
type SessionPurger interface {
	PurgeExpired(ctx context.Context, grace time.Duration) (int, error)
}

// WaitroomSweepJob evicts users who have been waiting longer than MaxAge
// without being matched. Their join attempt is considered abandoned; a live
// client simply joins again.
type WaitroomSweepJob struct {
	Store        WaitroomSweeper
	MaxAge       time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "* * * * *"
}

// Compile-time interface check.
var _ Job = (*WaitroomSweepJob)(nil)

// Name implements Job.
func (j *WaitroomSweepJob) Name() string { return "waitroom_sweep" }

// Schedule implements Job.
func (j *WaitroomSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "* * * * *"
}

// Run evicts entries older than MaxAge.
func (j *WaitroomSweepJob) Run(ctx context.Context) error {
	evicted, err := j.Store.EvictStale(ctx, j.MaxAge)
	if err != nil {
		return err
	}
	if evicted > 0 {
		j.Logger.Info("cron: evicted stale waitroom entries", "count", evicted, "max_age", j.MaxAge)
	}
	return nil
}

// StaleSessionSweepJob deletes sessions whose deadline passed more than
// Grace ago. The grace keeps just-expired rooms readable long enough for
// participants to see the final state.
type StaleSessionSweepJob struct {
	Store        SessionPurger
	Grace        time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Compile-time interface check.
var _ Job = (*StaleSessionSweepJob)(nil)

// Name implements Job.
func (j *StaleSessionSweepJob) Name() string { return "stale_session_sweep" }

// Schedule implements Job.
func (j *StaleSessionSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run purges sessions past deadline plus grace.
func (j *StaleSessionSweepJob) Run(ctx context.Context) error {
	purged, err := j.Store.PurgeExpired(ctx, j.Grace)
	if err != nil {
		return err
	}
	if purged > 0 {
		j.Logger.Info("cron: purged expired sessions", "count", purged, "grace", j.Grace)
	}
	return nil
}
