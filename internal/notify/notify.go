// Package notify delivers room coordination events to connected clients
// over WebSocket. Topics follow two namespaces: one per user for personal
// events (room assignment) and one per room for shared events (session
// updates).
package notify

import (
	"context"
	"encoding/json"
	"time"
)

// Event kinds published by the coordination core.
const (
	KindRoomAssigned   = "room_assigned"
	KindSessionStarted = "session_started"
	KindSessionUpdated = "session_updated"
)

// UserTopic returns the personal topic for a user.
func UserTopic(user string) string { return "user-" + user }

// RoomTopic returns the shared topic for a room.
func RoomTopic(roomID string) string { return "room-" + roomID }

// Event is one notification addressed to a topic.
type Event struct {
	Topic   string          `json:"topic"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

// NewEvent builds an event with a marshaled payload. A nil payload is
// allowed for kinds that carry no body.
func NewEvent(topic, kind string, payload any) (Event, error) {
	ev := Event{Topic: topic, Kind: kind, SentAt: time.Now()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		ev.Payload = data
	}
	return ev, nil
}

// Publisher fans events out to every subscriber of a topic. Publishing to
// a topic with no subscribers succeeds and delivers nothing.
type Publisher interface {
	// Publish delivers the event before returning.
	Publish(ctx context.Context, ev Event) error

	// PublishAsync delivers the event on a background goroutine and
	// returns a handle the caller can join on when it needs the
	// delivery to have completed.
	PublishAsync(ev Event) *Delivery
}

// Delivery is the joinable handle of one asynchronous publish.
type Delivery struct {
	done chan struct{}
	err  error
}

func newDelivery() *Delivery {
	return &Delivery{done: make(chan struct{})}
}

// CompletedDelivery returns an already-finished delivery carrying err.
// Useful for Publisher implementations that deliver synchronously.
func CompletedDelivery(err error) *Delivery {
	d := newDelivery()
	d.finish(err)
	return d
}

func (d *Delivery) finish(err error) {
	d.err = err
	close(d.done)
}

// Join blocks until the delivery completed or the context is done, and
// returns the delivery error if any.
func (d *Delivery) Join(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
