package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tutorlab/roomd/internal/session"
)

func newTestEngine(url string) *Engine {
	return &Engine{
		url:     url,
		botName: "tutor",
		client:  &http.Client{Timeout: time.Second},
		now:     func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestSeedOpening_LocaleAware(t *testing.T) {
	t.Parallel()

	e := newTestEngine("http://unused")

	s := session.NewState("r1")
	s.Locale = "de"
	s.Problem.Statement = "simplify 4/8"
	if err := e.SeedOpening(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if len(s.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(s.Messages))
	}
	msg := s.Messages[0]
	if msg.Role != session.RoleSystem || msg.Sender != "system" {
		t.Fatalf("message = %+v", msg)
	}
	if !strings.HasPrefix(msg.Text, "Willkommen!") || !strings.Contains(msg.Text, "simplify 4/8") {
		t.Fatalf("text = %q", msg.Text)
	}
}

func TestSeedOpening_UnknownLocaleFallsBack(t *testing.T) {
	t.Parallel()

	e := newTestEngine("http://unused")

	s := session.NewState("r1")
	s.Locale = "xx"
	s.Problem.Statement = "add 1/3 + 1/6"
	if err := e.SeedOpening(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(s.Messages[0].Text, "Welcome!") {
		t.Fatalf("text = %q", s.Messages[0].Text)
	}
}

func TestRespond_AppendsBotReplies(t *testing.T) {
	t.Parallel()

	var got botRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode([]botReply{
			{RecipientID: got.Sender, Text: "good start"},
			{RecipientID: got.Sender, Text: ""},
			{RecipientID: got.Sender, Text: "now divide both sides"},
		})
	}))
	defer srv.Close()

	e := newTestEngine(srv.URL)
	s := session.NewState("r1")
	msg := session.Message{Role: session.RoleParticipant, Sender: "alice", Text: "is it 1/2?"}

	if err := e.Respond(context.Background(), msg, s); err != nil {
		t.Fatal(err)
	}

	if got.Sender != "r1" || got.Message != "is it 1/2?" {
		t.Fatalf("bot request = %+v", got)
	}
	// Empty reply lines are dropped.
	if len(s.Messages) != 2 {
		t.Fatalf("messages = %+v, want 2 bot replies", s.Messages)
	}
	for _, m := range s.Messages {
		if m.Role != session.RoleAssistant || m.Sender != "tutor" {
			t.Fatalf("reply = %+v", m)
		}
	}
	if s.Messages[1].Text != "now divide both sides" {
		t.Fatalf("second reply = %q", s.Messages[1].Text)
	}
}

func TestRespond_BotErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := newTestEngine(srv.URL)
	s := session.NewState("r1")
	err := e.Respond(context.Background(), session.Message{Text: "hi"}, s)
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Fatalf("err = %v, want status 503 error", err)
	}
	if len(s.Messages) != 0 {
		t.Fatalf("messages appended on error: %+v", s.Messages)
	}
}

func TestRespond_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect and
		// cancels the request context; otherwise Close deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	e := newTestEngine(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := e.Respond(ctx, session.Message{Text: "hi"}, session.NewState("r1")); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	c := Config{}
	c.defaults()
	if err := c.validate(); err == nil {
		t.Fatal("missing url accepted")
	}

	c.URL = "http://bot:5005/webhooks/rest/webhook"
	if err := c.validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	c.Timeout = "soon"
	if err := c.validate(); err == nil {
		t.Fatal("invalid timeout accepted")
	}
}
