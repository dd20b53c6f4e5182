package room

import (
	"errors"
	"fmt"
	"time"

	"github.com/tutorlab/roomd/internal/collab"
	"github.com/tutorlab/roomd/internal/core"
	"github.com/tutorlab/roomd/internal/lock"
	"github.com/tutorlab/roomd/internal/notify"
	"github.com/tutorlab/roomd/internal/session"
	"github.com/tutorlab/roomd/internal/waitroom"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Config holds YAML configuration for the room controller module.
type Config struct {
	LockWait      string `yaml:"lock_wait"`
	LockHold      string `yaml:"lock_hold"`
	DeadlineGrace string `yaml:"deadline_grace"`
}

func (c *Config) defaults() {
	if c.LockWait == "" {
		c.LockWait = "3s"
	}
	if c.LockHold == "" {
		c.LockHold = "2s"
	}
	if c.DeadlineGrace == "" {
		c.DeadlineGrace = "1s"
	}
}

// Module wires the Controller into the app and registers it as the
// "room.controller" service.
type Module struct {
	config Config
	appCtx *core.AppContext
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "room",
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
	return nil
}

// Start implements core.Starter. It resolves all collaborators from the
// service registry and publishes the assembled controller. The module load
// order guarantees backends started first.
func (m *Module) Start() error {
	lockWait, err := time.ParseDuration(m.config.LockWait)
	if err != nil {
		return fmt.Errorf("room: invalid lock_wait %q: %w", m.config.LockWait, err)
	}
	lockHold, err := time.ParseDuration(m.config.LockHold)
	if err != nil {
		return fmt.Errorf("room: invalid lock_hold %q: %w", m.config.LockHold, err)
	}
	grace, err := time.ParseDuration(m.config.DeadlineGrace)
	if err != nil {
		return fmt.Errorf("room: invalid deadline_grace %q: %w", m.config.DeadlineGrace, err)
	}

	deps := ControllerDeps{
		Logger:        m.appCtx.Logger,
		LockWait:      lockWait,
		LockHold:      lockHold,
		DeadlineGrace: grace,
	}
	if svc, ok := m.appCtx.Service("session.store"); ok {
		deps.Sessions, _ = svc.(session.Store)
	}
	if svc, ok := m.appCtx.Service("session.engine"); ok {
		deps.Engine, _ = svc.(session.Engine)
	}
	if svc, ok := m.appCtx.Service("lock.service"); ok {
		deps.Locks, _ = svc.(lock.Service)
	}
	if svc, ok := m.appCtx.Service("waitroom.store"); ok {
		deps.Waitroom, _ = svc.(waitroom.Store)
	}
	if svc, ok := m.appCtx.Service("collection.service"); ok {
		deps.Collections, _ = svc.(collab.CollectionService)
	}
	if svc, ok := m.appCtx.Service("problem.adapter"); ok {
		deps.Adapter, _ = svc.(collab.ProblemAdapter)
	}
	if svc, ok := m.appCtx.Service("realized.service"); ok {
		deps.Realized, _ = svc.(collab.RealizedProblemService)
	}
	if svc, ok := m.appCtx.Service("membership.service"); ok {
		deps.Membership, _ = svc.(collab.MembershipService)
	}
	if svc, ok := m.appCtx.Service("report.service"); ok {
		deps.Reports, _ = svc.(collab.ReportService)
	}
	if svc, ok := m.appCtx.Service("notify.publisher"); ok {
		deps.Publisher, _ = svc.(notify.Publisher)
	}

	missing := map[string]bool{
		"session.store":      deps.Sessions == nil,
		"session.engine":     deps.Engine == nil,
		"lock.service":       deps.Locks == nil,
		"waitroom.store":     deps.Waitroom == nil,
		"collection.service": deps.Collections == nil,
		"problem.adapter":    deps.Adapter == nil,
		"realized.service":   deps.Realized == nil,
		"membership.service": deps.Membership == nil,
		"report.service":     deps.Reports == nil,
		"notify.publisher":   deps.Publisher == nil,
	}
	for name, absent := range missing {
		if absent {
			return errors.New("room: required service not registered: " + name)
		}
	}

	m.appCtx.RegisterService("room.controller", NewController(deps))
	m.appCtx.Logger.Info("room controller ready",
		"lock_wait", lockWait,
		"lock_hold", lockHold,
	)
	return nil
}
