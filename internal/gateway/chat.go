package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tutorlab/roomd/internal/collab"
	"github.com/tutorlab/roomd/internal/room"
	"github.com/tutorlab/roomd/internal/session"
)

// JoinResponse is the JSON response for POST /chat/join/{collectionID}.
type JoinResponse struct {
	RoomID  string `json:"room_id,omitempty"`
	Waiting bool   `json:"waiting"`
}

// RoomIDResponse is the JSON response for GET /chat/room-id.
type RoomIDResponse struct {
	RoomID string `json:"room_id"`
}

// MessageRequest is the JSON body of PUT /chat/{roomID}.
type MessageRequest struct {
	Text        string `json:"text"`
	TimedOut    bool   `json:"timed_out,omitempty"`
	SkipProblem bool   `json:"skip_problem,omitempty"`
}

// ReportRequest is the JSON body of POST /chat/{roomID}/reports.
type ReportRequest struct {
	Kind    string          `json:"kind"`
	Results json.RawMessage `json:"results,omitempty"`
}

// SessionView is the wire shape of a room session.
type SessionView struct {
	RoomID         string        `json:"room_id"`
	CollectionID   int64         `json:"collection_id"`
	ExerciseIndex  int           `json:"exercise_index"`
	Statement      string        `json:"statement"`
	HelpLevel      int           `json:"help_level"`
	Deadline       time.Time     `json:"deadline"`
	Locale         string        `json:"locale,omitempty"`
	Participants   []Participant `json:"participants"`
	CurrentSpeaker string        `json:"current_speaker,omitempty"`
	Messages       []Message     `json:"messages"`
	TimedOut       bool          `json:"timed_out,omitempty"`
	SkipProblem    bool          `json:"skip_problem,omitempty"`
}

// Participant is the wire shape of one session participant.
type Participant struct {
	User     string `json:"user"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Message is the wire shape of one conversation message.
type Message struct {
	Role   string    `json:"role"`
	Sender string    `json:"sender,omitempty"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

func sessionView(s *session.State) SessionView {
	view := SessionView{
		RoomID:         s.RoomID,
		CollectionID:   s.CollectionID,
		ExerciseIndex:  s.ExerciseIndex,
		Statement:      s.Problem.Statement,
		HelpLevel:      s.Problem.HelpLevel,
		Deadline:       s.Deadline,
		Locale:         s.Locale,
		CurrentSpeaker: s.Participants.Current,
		TimedOut:       s.TimedOut,
		SkipProblem:    s.SkipProblem,
		Participants:   make([]Participant, 0, len(s.Participants.Members)),
		Messages:       make([]Message, 0, len(s.Messages)),
	}
	for _, p := range s.Participants.Members {
		view.Participants = append(view.Participants, Participant{User: p.User, TimedOut: p.TimedOut})
	}
	for _, m := range s.Messages {
		view.Messages = append(view.Messages, Message{Role: m.Role, Sender: m.Sender, Text: m.Text, SentAt: m.SentAt})
	}
	return view
}

// handleJoin queues the caller for matchmaking on a collection.
func (g *Gateway) handleJoin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collectionID, err := strconv.ParseInt(chi.URLParam(r, "collectionID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid collection id", http.StatusBadRequest)
			return
		}

		res, err := g.controller.Join(r.Context(), requestUser(r), collectionID)
		if err != nil {
			g.writeError(w, err)
			return
		}
		g.metrics.RecordJoin()
		writeJSON(w, http.StatusOK, JoinResponse{RoomID: res.RoomID, Waiting: res.Waiting})
	}
}

// handleRoomID answers clients that missed their assignment notification.
func (g *Gateway) handleRoomID() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := g.controller.AssignedRoom(r.Context(), requestUser(r))
		if err != nil {
			g.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, RoomIDResponse{RoomID: roomID})
	}
}

// handleGetSession returns the room session, creating it on first access.
func (g *Gateway) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collectionID, err := strconv.ParseInt(r.URL.Query().Get("collection"), 10, 64)
		if err != nil {
			http.Error(w, "missing or invalid collection parameter", http.StatusBadRequest)
			return
		}
		exercise := 0
		if raw := r.URL.Query().Get("exercise"); raw != "" {
			if exercise, err = strconv.Atoi(raw); err != nil || exercise < 0 {
				http.Error(w, "invalid exercise parameter", http.StatusBadRequest)
				return
			}
		}

		s, err := g.controller.EnsureSession(r.Context(), requestUser(r), chi.URLParam(r, "roomID"), collectionID, exercise)
		if err != nil {
			g.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionView(s))
	}
}

// handlePutMessage applies one participant message to the room session.
func (g *Gateway) handlePutMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid message body", http.StatusBadRequest)
			return
		}

		s, err := g.controller.ApplyMessage(r.Context(), requestUser(r), chi.URLParam(r, "roomID"), room.Incoming{
			Text:        req.Text,
			TimedOut:    req.TimedOut,
			SkipProblem: req.SkipProblem,
		})
		if err != nil {
			g.writeError(w, err)
			return
		}
		g.metrics.RecordMessage()
		writeJSON(w, http.StatusOK, sessionView(s))
	}
}

// handlePostReport records the caller's exercise report.
func (g *Gateway) handlePostReport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid report body", http.StatusBadRequest)
			return
		}
		if req.Kind == "" {
			http.Error(w, "report kind is required", http.StatusBadRequest)
			return
		}

		s, err := g.controller.RecordReport(r.Context(), requestUser(r), chi.URLParam(r, "roomID"), req.Kind, string(req.Results))
		if err != nil {
			g.writeError(w, err)
			return
		}
		g.metrics.RecordReport()
		writeJSON(w, http.StatusOK, sessionView(s))
	}
}

// handlePurgeAll wipes all coordination state. Admin only.
func (g *Gateway) handlePurgeAll() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.controller.PurgeAll(r.Context()); err != nil {
			g.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	g.metrics.RecordError()
	switch {
	case errors.Is(err, collab.ErrNotFound), errors.Is(err, room.ErrNoExercise), errors.Is(err, session.ErrNoSession):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, room.ErrNotMember):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, room.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		g.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
