package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tutorlab/roomd/internal/core"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Hub{})
}

const defaultSendBuffer = 32

// HubConfig holds YAML configuration for the notification hub module.
type HubConfig struct {
	SendBuffer   int    `yaml:"send_buffer"`
	WriteTimeout string `yaml:"write_timeout"`
}

func (c *HubConfig) defaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = "5s"
	}
}

// Hub is the WebSocket notification module. It keeps a topic subscription
// registry, exposes the /ws handler as a service, and implements Publisher
// for the coordination core.
type Hub struct {
	config       HubConfig
	logger       *slog.Logger
	writeTimeout time.Duration

	mu     sync.RWMutex
	topics map[string]map[*client]struct{}

	wg sync.WaitGroup
}

// client is one connected WebSocket subscriber.
type client struct {
	user string
	send chan []byte
}

// ModuleInfo implements core.Module.
func (h *Hub) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "notify.hub",
		New: func() core.Module { return &Hub{} },
	}
}

// Configure implements core.Configurable.
func (h *Hub) Configure(node *yaml.Node) error {
	if node != nil {
		if err := node.Decode(&h.config); err != nil {
			return err
		}
	}
	h.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (h *Hub) Provision(ctx *core.AppContext) error {
	h.config.defaults()
	h.logger = ctx.Logger
	h.topics = make(map[string]map[*client]struct{})

	var err error
	h.writeTimeout, err = time.ParseDuration(h.config.WriteTimeout)
	if err != nil {
		return fmt.Errorf("notify: invalid write_timeout %q: %w", h.config.WriteTimeout, err)
	}

	ctx.RegisterService("notify.publisher", Publisher(h))
	ctx.RegisterService("notify.handler", http.HandlerFunc(h.handleWebSocket))
	return nil
}

// Stop implements core.Stopper. It waits for in-flight asynchronous
// deliveries before returning.
func (h *Hub) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.Lock()
	for _, subs := range h.topics {
		for c := range subs {
			close(c.send)
		}
	}
	h.topics = make(map[string]map[*client]struct{})
	h.mu.Unlock()
	return nil
}

// Publish implements Publisher. Slow subscribers whose send buffer is full
// are skipped rather than blocking the publisher.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	if ev.Topic == "" {
		return errors.New("notify: event without topic")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.topics[ev.Topic] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("subscriber buffer full, dropping event",
				"topic", ev.Topic,
				"kind", ev.Kind,
				"user", c.user,
			)
		}
	}
	return nil
}

// PublishAsync implements Publisher.
func (h *Hub) PublishAsync(ev Event) *Delivery {
	d := newDelivery()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		d.finish(h.Publish(context.Background(), ev))
	}()
	return d
}

// subscribe adds the client to a topic.
func (h *Hub) subscribe(c *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*client]struct{})
	}
	h.topics[topic][c] = struct{}{}
}

// unsubscribe removes the client from a topic, dropping empty topics.
func (h *Hub) unsubscribe(c *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// drop removes the client from every topic.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, subs := range h.topics {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// subscriberCount reports how many clients follow a topic.
func (h *Hub) subscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// subscribeRequest is the only message clients send on the socket.
type subscribeRequest struct {
	Type  string `json:"type"` // "subscribe" or "unsubscribe"
	Topic string `json:"topic"`
}

// handleWebSocket runs one client connection. The connecting user is
// auto-subscribed to their personal topic; room topics are joined on
// request.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get("X-User-ID")
	if user == "" {
		user = r.URL.Query().Get("user")
	}
	if user == "" {
		http.Error(w, "missing user identity", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusInternalError, "unexpected close")
	}()

	c := &client{user: user, send: make(chan []byte, h.config.SendBuffer)}
	h.subscribe(c, UserTopic(user))
	defer h.drop(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.writeLoop(ctx, conn, c)

	h.logger.Info("subscriber connected", "user", user)
	h.readLoop(ctx, conn, c)
	h.logger.Info("subscriber disconnected", "user", user)
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.logger.Warn("invalid subscribe message", "user", c.user, "error", err)
			continue
		}
		switch req.Type {
		case "subscribe":
			h.subscribe(c, req.Topic)
		case "unsubscribe":
			h.unsubscribe(c, req.Topic)
		default:
			h.logger.Warn("unexpected message type", "user", c.user, "type", req.Type)
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Warn("write to subscriber failed", "user", c.user, "error", err)
				return
			}
		}
	}
}
