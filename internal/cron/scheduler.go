package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler drives the registered housekeeping jobs on their cron
// schedules. A job whose previous run is still in flight is skipped for
// that tick rather than stacked: the sweeps are idempotent, so a missed
// tick only delays cleanup until the next one.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	jobs     []Job
	inflight map[string]*sync.Mutex
	logger   *slog.Logger
	cancel   context.CancelFunc
}

// NewScheduler returns an empty scheduler. Sweep jobs are registered
// during module start, once the backing stores are known.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		inflight: make(map[string]*sync.Mutex),
		logger:   logger,
	}
}

// RegisterJob queues a job for scheduling. Job names must be unique;
// the name keys the per-job overlap guard and the log lines.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, dup := s.inflight[name]; dup {
		return fmt.Errorf("cron: duplicate job name %q", name)
	}
	s.inflight[name] = &sync.Mutex{}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start compiles each job's schedule and begins ticking. Schedules are
// standard 5-field cron expressions; an invalid one aborts startup.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))

	for _, j := range s.jobs {
		if err := s.schedule(ctx, j); err != nil {
			cancel()
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("cron: housekeeping scheduler started", "jobs", len(s.jobs))
	return nil
}

func (s *Scheduler) schedule(ctx context.Context, j Job) error {
	guard := s.inflight[j.Name()]
	_, err := s.cron.AddFunc(j.Schedule(), func() {
		// TryLock keeps a slow sweep from overlapping with its own
		// next tick.
		if !guard.TryLock() {
			s.logger.Warn("cron: sweep overran its interval, skipping tick",
				"job", j.Name(),
			)
			return
		}
		defer guard.Unlock()

		s.logger.Debug("cron: sweep started", "job", j.Name())
		if err := j.Run(ctx); err != nil {
			s.logger.Error("cron: sweep failed",
				"job", j.Name(),
				"error", err,
			)
			return
		}
		s.logger.Debug("cron: sweep finished", "job", j.Name())
	})
	if err != nil {
		return fmt.Errorf("cron: invalid schedule for job %q: %w", j.Name(), err)
	}
	return nil
}

// Stop halts ticking and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.logger.Info("cron: housekeeping scheduler stopped")
	}
	return nil
}
