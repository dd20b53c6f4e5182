package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tutorlab/roomd/internal/core"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// ModuleConfig holds YAML configuration for the housekeeping module.
type ModuleConfig struct {
	WaitroomMaxAge   string `yaml:"waitroom_max_age"`
	WaitroomSchedule string `yaml:"waitroom_schedule"`
	SessionGrace     string `yaml:"session_grace"`
	SessionSchedule  string `yaml:"session_schedule"`
}

func (c *ModuleConfig) defaults() {
	if c.WaitroomMaxAge == "" {
		c.WaitroomMaxAge = "30m"
	}
	if c.SessionGrace == "" {
		c.SessionGrace = "1m"
	}
}

// Module runs the periodic sweeps over the waitroom and the session store.
type Module struct {
	config    ModuleConfig
	appCtx    *core.AppContext
	scheduler *Scheduler

	waitroomMaxAge time.Duration
	sessionGrace   time.Duration
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "cron",
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
	m.appCtx = ctx
	m.scheduler = NewScheduler(ctx.Logger)

	var err error
	if m.waitroomMaxAge, err = time.ParseDuration(m.config.WaitroomMaxAge); err != nil {
		return fmt.Errorf("cron: invalid waitroom_max_age %q: %w", m.config.WaitroomMaxAge, err)
	}
	if m.sessionGrace, err = time.ParseDuration(m.config.SessionGrace); err != nil {
		return fmt.Errorf("cron: invalid session_grace %q: %w", m.config.SessionGrace, err)
	}
	return nil
}

// Start implements core.Starter. It binds the sweep jobs to the stores
// registered by the backend modules and starts the scheduler.
func (m *Module) Start() error {
	var sweeper WaitroomSweeper
	if svc, ok := m.appCtx.Service("waitroom.store"); ok {
		sweeper, _ = svc.(WaitroomSweeper)
	}
	if sweeper == nil {
		return errors.New("cron: waitroom.store service not registered")
	}

	var purger SessionPurger
	if svc, ok := m.appCtx.Service("session.store"); ok {
		purger, _ = svc.(SessionPurger)
	}
	if purger == nil {
		return errors.New("cron: session.store service not registered")
	}

	jobs := []Job{
		&WaitroomSweepJob{
			Store:        sweeper,
			MaxAge:       m.waitroomMaxAge,
			Logger:       m.appCtx.Logger,
			ScheduleExpr: m.config.WaitroomSchedule,
		},
		&StaleSessionSweepJob{
			Store:        purger,
			Grace:        m.sessionGrace,
			Logger:       m.appCtx.Logger,
			ScheduleExpr: m.config.SessionSchedule,
		},
	}
	for _, j := range jobs {
		if err := m.scheduler.RegisterJob(j); err != nil {
			return err
		}
	}
	return m.scheduler.Start()
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	return m.scheduler.Stop(ctx)
}
