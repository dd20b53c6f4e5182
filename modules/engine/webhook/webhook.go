// Package webhook implements the conversational engine over a REST bot
// endpoint: participant messages are posted to the bot and its replies are
// appended to the session log. The opening system message is composed
// locally from the current problem view.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tutorlab/roomd/internal/core"
	"github.com/tutorlab/roomd/internal/session"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ session.Engine    = (*Engine)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
)

// openings are the locale-aware session opening templates. The statement of
// the first problem view is interpolated.
var openings = map[string]string{
	"en": "Welcome! Work on this together: %s",
	"de": "Willkommen! Bearbeitet diese Aufgabe gemeinsam: %s",
	"fr": "Bienvenue ! Travaillez ensemble sur cet exercice : %s",
}

const fallbackLocale = "en"

// Module wires the webhook engine into the app.
type Module struct {
	config Config
	engine *Engine
	logger *slog.Logger
}

// Engine implements session.Engine against a REST bot endpoint.
type Engine struct {
	url     string
	botName string
	client  *http.Client
	logger  *slog.Logger

	now func() time.Time
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "engine.webhook",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("engine.webhook: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	m.engine = &Engine{
		url:     m.config.URL,
		botName: m.config.BotName,
		client:  &http.Client{Timeout: m.config.parsedTimeout()},
		logger:  ctx.Logger,
		now:     time.Now,
	}

	ctx.RegisterService("session.engine", m.engine)

	m.logger.Info("webhook engine provisioned", "url", m.config.URL)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// SeedOpening implements session.Engine. It prepends the locale-aware
// opening system message for the session's current problem.
func (e *Engine) SeedOpening(_ context.Context, s *session.State) error {
	tmpl, ok := openings[s.Locale]
	if !ok {
		tmpl = openings[fallbackLocale]
	}

	s.Messages = append(s.Messages, session.Message{
		Role:   session.RoleSystem,
		Sender: "system",
		Text:   fmt.Sprintf(tmpl, s.Problem.Statement),
		SentAt: e.now(),
	})
	return nil
}

// Respond implements session.Engine. The incoming participant message is
// posted to the bot keyed by room, and each reply is appended to the
// session log as an assistant message.
func (e *Engine) Respond(ctx context.Context, msg session.Message, s *session.State) error {
	replies, err := e.send(ctx, s.RoomID, msg.Text)
	if err != nil {
		return err
	}

	for _, r := range replies {
		if r.Text == "" {
			continue
		}
		s.Messages = append(s.Messages, session.Message{
			Role:   session.RoleAssistant,
			Sender: e.botName,
			Text:   r.Text,
			SentAt: e.now(),
		})
	}
	return nil
}
