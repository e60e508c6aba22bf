// Package inbound normalizes provider webhook payloads into canonical
// events and routes them: opt-out handling, reply routing into the live
// conversation, and delivery status reconciliation.
package inbound

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"courier/internal/domain"
	"courier/internal/flow"
	"courier/internal/hub"
	"courier/internal/metrics"
)

// optOutKeywords match the entire trimmed, upper-cased body.
var optOutKeywords = map[string]bool{
	"STOP":        true,
	"UNSUBSCRIBE": true,
	"CANCEL":      true,
}

// telegramOptOutKeywords extends the base set with the bot-command variant.
var telegramOptOutKeywords = map[string]bool{
	"STOP":        true,
	"UNSUBSCRIBE": true,
	"CANCEL":      true,
	"/STOP":       true,
}

// providerStatusMap translates provider delivery-status tags to internal
// message statuses. Both providers happen to use the same tags for the
// states we track.
var providerStatusMap = map[string]domain.MessageStatus{
	"sent":      domain.MessageSent,
	"delivered": domain.MessageDelivered,
	"read":      domain.MessageRead,
	"failed":    domain.MessageFailed,
}

// Processor handles normalized inbound events. Each webhook delivery is an
// independent unit of work; the processor holds no per-request state.
type Processor struct {
	store    domain.Store
	engine   *flow.Engine
	notifier *hub.Notifier
	logger   *slog.Logger
}

func NewProcessor(store domain.Store, engine *flow.Engine, notifier *hub.Notifier, logger *slog.Logger) *Processor {
	return &Processor{store: store, engine: engine, notifier: notifier, logger: logger}
}

// resolveContact finds the sending contact by channel-native address.
func (p *Processor) resolveContact(ctx context.Context, ev domain.InboundEvent) (*domain.Contact, error) {
	if ev.Channel == domain.ChannelTelegram {
		return p.store.FindContactByTelegramChatID(ctx, ev.FromAddress)
	}
	return p.store.FindContactByPhone(ctx, ev.FromAddress)
}

func isOptOut(channel, body string) bool {
	keyword := strings.ToUpper(strings.TrimSpace(body))
	if channel == domain.ChannelTelegram {
		return telegramOptOutKeywords[keyword]
	}
	return optOutKeywords[keyword]
}

// HandleEvent runs the full inbound pipeline for one normalized event:
// contact resolution, opt-out detection, message persistence, reply routing
// through the state machine, and the Hub callback. Unknown senders and
// events without a live conversation are logged and dropped, never errors.
func (p *Processor) HandleEvent(ctx context.Context, ev domain.InboundEvent) error {
	metrics.InboundEvents.Inc()

	contact, err := p.resolveContact(ctx, ev)
	if err != nil {
		if err == domain.ErrNotFound {
			p.logger.Warn("inbound message from unknown sender",
				"channel", ev.Channel, "from", ev.FromAddress)
			return nil
		}
		return err
	}

	if isOptOut(ev.Channel, ev.Text) {
		return p.handleOptOut(ctx, contact)
	}

	msg := domain.Message{
		ID:               uuid.NewString(),
		Direction:        domain.DirectionInbound,
		Body:             ev.Text,
		ChannelMessageID: ev.ChannelMessageID,
		Status:           domain.MessageReceived,
		CreatedAt:        time.Now().UTC(),
	}
	if err := p.store.CreateMessage(ctx, msg); err != nil {
		return err
	}

	conv, err := p.store.FindLiveConversation(ctx, contact.ID)
	if err != nil && err != domain.ErrNotFound {
		return err
	}
	if conv == nil {
		p.logger.Info("inbound message without live conversation",
			"contact", contact.ID, "channel", ev.Channel)
		return nil
	}

	if err := p.store.AttachMessageToConversation(ctx, msg.ID, conv.ID); err != nil {
		return err
	}

	// A rejected transition is fine: a duplicate or late reply after the
	// state already advanced must not fail the webhook.
	p.engine.Transition(ctx, conv, flow.EventReply)

	if !p.notifier.ClientReplied(ctx, conv.ID, contact.ID, ev.Text, conv.ContextType, conv.ContextID) {
		metrics.HubCallbackFailures.Inc()
	}

	p.logger.Info("inbound message processed",
		"conversation", conv.ID, "contact", contact.ID, "kind", ev.Kind)
	return nil
}

// handleOptOut deactivates the contact and notifies Hub. No message record
// is created and no state transition runs for opt-out events.
func (p *Processor) handleOptOut(ctx context.Context, contact *domain.Contact) error {
	if err := p.store.DeactivateContact(ctx, contact.ID); err != nil {
		return err
	}
	contact.Active = false
	metrics.OptOuts.Inc()

	if !p.notifier.OptedOut(ctx, contact.ID, contact.PhoneE164) {
		metrics.HubCallbackFailures.Inc()
	}

	p.logger.Info("contact opted out", "contact", contact.ID)
	return nil
}

// HandleStatus applies a delivery/read/failure receipt. Unknown correlation
// ids and unknown provider statuses are logged and dropped. Timestamps are
// only set when absent so replayed receipts stay idempotent, but Hub is
// notified on every accepted update, duplicates included.
func (p *Processor) HandleStatus(ctx context.Context, ev domain.StatusEvent) error {
	mapped, ok := providerStatusMap[ev.ProviderStatus]
	if !ok {
		p.logger.Debug("ignoring unmapped provider status",
			"channel", ev.Channel, "status", ev.ProviderStatus)
		return nil
	}

	msg, err := p.store.FindMessageByChannelID(ctx, ev.ChannelMessageID)
	if err != nil {
		if err == domain.ErrNotFound {
			p.logger.Warn("status update for unknown message",
				"channel_message_id", ev.ChannelMessageID)
			return nil
		}
		return err
	}

	errorDetail := ""
	if mapped == domain.MessageFailed {
		errorDetail = ev.ErrorDetail
		if errorDetail == "" {
			errorDetail = "unknown error"
		}
	}

	if err := p.store.UpdateMessageStatus(ctx, msg.ID, mapped, errorDetail, time.Now().UTC()); err != nil {
		return err
	}
	metrics.StatusUpdates.Inc()

	if !p.notifier.StatusChanged(ctx, msg.ID, string(mapped)) {
		metrics.HubCallbackFailures.Inc()
	}

	p.logger.Info("message status updated",
		"message", msg.ID, "channel_message_id", ev.ChannelMessageID, "status", mapped)
	return nil
}
