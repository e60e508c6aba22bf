// Package hub posts lifecycle event callbacks to the Hub orchestrator.
// Delivery is best-effort: attempted once, synchronously, at the point the
// triggering event occurred.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Event types Hub understands.
const (
	EventClientReplied        = "client.replied"
	EventStatusChanged        = "message.status_changed"
	EventConversationTimedOut = "conversation.timed_out"
	EventContactOptedOut      = "contact.opted_out"
)

const notifyTimeout = 10 * time.Second

// Notifier sends typed event envelopes to the Hub webhook endpoint with a
// shared-secret header. Failures are logged and swallowed; callers never
// block on retries.
type Notifier struct {
	webhookURL    string
	webhookSecret string
	client        *http.Client
	logger        *slog.Logger
}

func NewNotifier(webhookURL, webhookSecret string, logger *slog.Logger) *Notifier {
	return &Notifier{
		webhookURL:    webhookURL,
		webhookSecret: webhookSecret,
		client:        &http.Client{Timeout: notifyTimeout},
		logger:        logger,
	}
}

type envelope struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

// Notify posts one event to Hub. Returns true when Hub acknowledged with a
// 2xx; false is informational only, never an error for the caller.
func (n *Notifier) Notify(ctx context.Context, eventType string, payload map[string]any) bool {
	if n.webhookURL == "" {
		n.logger.Warn("hub webhook url not configured, skipping callback", "event", eventType)
		return false
	}

	body, err := json.Marshal(envelope{EventType: eventType, Payload: payload})
	if err != nil {
		n.logger.Error("hub callback marshal failed", "event", eventType, "err", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("hub callback request build failed", "event", eventType, "err", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", n.webhookSecret)

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("hub callback failed", "event", eventType, "err", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.logger.Error("hub callback rejected", "event", eventType, "status", resp.StatusCode)
		return false
	}

	n.logger.Info("hub callback sent", "event", eventType, "status", resp.StatusCode)
	return true
}

// ClientReplied notifies Hub that a contact replied in a conversation.
func (n *Notifier) ClientReplied(ctx context.Context, conversationID, contactID, replyText, contextType, contextID string) bool {
	return n.Notify(ctx, EventClientReplied, map[string]any{
		"conversation_id": conversationID,
		"contact_id":      contactID,
		"reply_text":      replyText,
		"context_type":    contextType,
		"context_id":      contextID,
	})
}

// StatusChanged notifies Hub of a message delivery status change.
func (n *Notifier) StatusChanged(ctx context.Context, messageID, status string) bool {
	return n.Notify(ctx, EventStatusChanged, map[string]any{
		"message_id": messageID,
		"status":     status,
	})
}

// ConversationTimedOut notifies Hub that a conversation expired unanswered.
func (n *Notifier) ConversationTimedOut(ctx context.Context, conversationID, contactID, contextType, contextID string) bool {
	return n.Notify(ctx, EventConversationTimedOut, map[string]any{
		"conversation_id": conversationID,
		"contact_id":      contactID,
		"context_type":    contextType,
		"context_id":      contextID,
	})
}

// OptedOut notifies Hub that a contact sent an opt-out keyword.
func (n *Notifier) OptedOut(ctx context.Context, contactID, phone string) bool {
	return n.Notify(ctx, EventContactOptedOut, map[string]any{
		"contact_id": contactID,
		"phone":      phone,
	})
}
