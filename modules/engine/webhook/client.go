package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseSize is the maximum response body size (1 MB). Protects
// against OOM from malformed or huge responses.
const maxResponseSize = 1 * 1024 * 1024

// botRequest is the message posted to the bot endpoint. Sender carries the
// room ID so the bot keeps one conversation per room.
type botRequest struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// botReply is one reply line from the bot.
type botReply struct {
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
}

// send posts one message to the bot and returns its replies in order.
func (e *Engine) send(ctx context.Context, sender, message string) ([]botReply, error) {
	body, err := json.Marshal(botRequest{Sender: sender, Message: message})
	if err != nil {
		return nil, fmt.Errorf("engine.webhook: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("engine.webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine.webhook: post to bot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("engine.webhook: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("engine.webhook: bot returned status %d: %s", resp.StatusCode, raw)
	}

	var replies []botReply
	if err := json.Unmarshal(raw, &replies); err != nil {
		return nil, fmt.Errorf("engine.webhook: unmarshal response: %w", err)
	}
	return replies, nil
}
