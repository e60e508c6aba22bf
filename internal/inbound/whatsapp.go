package inbound

import (
	"context"
	"strings"

	"courier/internal/channel"
	"courier/internal/domain"
)

// NormalizeWhatsAppMessage maps one Graph webhook message into the canonical
// event shape. ok is false for message kinds the service does not process
// (media, reactions, location and the like).
func NormalizeWhatsAppMessage(msg channel.WhatsAppMessage) (domain.InboundEvent, bool) {
	from := strings.TrimSpace(msg.From)
	if from != "" && !strings.HasPrefix(from, "+") {
		from = "+" + from
	}

	ev := domain.InboundEvent{
		Channel:          domain.ChannelWhatsApp,
		FromAddress:      from,
		ChannelMessageID: msg.ID,
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return ev, false
		}
		ev.Kind = domain.EventText
		ev.Text = msg.Text.Body
	case "button":
		if msg.Button == nil {
			return ev, false
		}
		ev.Kind = domain.EventButton
		ev.Text = msg.Button.Text
	case "interactive":
		if msg.Interactive == nil || msg.Interactive.Type != "button_reply" || msg.Interactive.ButtonReply == nil {
			return ev, false
		}
		ev.Kind = domain.EventInteractive
		ev.Text = msg.Interactive.ButtonReply.Title
	default:
		return ev, false
	}

	return ev, true
}

// ProcessWhatsAppPayload walks a webhook delivery: status receipts first,
// then inbound messages. Individual event failures are logged and do not
// abort the remaining events in the batch.
func (p *Processor) ProcessWhatsAppPayload(ctx context.Context, payload channel.WhatsAppWebhookPayload) {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, status := range change.Value.Statuses {
				ev := domain.StatusEvent{
					Channel:          domain.ChannelWhatsApp,
					ChannelMessageID: status.ID,
					ProviderStatus:   status.Status,
				}
				if len(status.Errors) > 0 {
					ev.ErrorDetail = status.Errors[0].Message
				}
				if err := p.HandleStatus(ctx, ev); err != nil {
					p.logger.Error("whatsapp status update failed",
						"channel_message_id", status.ID, "err", err)
				}
			}

			for _, msg := range change.Value.Messages {
				ev, ok := NormalizeWhatsAppMessage(msg)
				if !ok {
					p.logger.Debug("ignoring whatsapp message", "type", msg.Type, "id", msg.ID)
					continue
				}
				if err := p.HandleEvent(ctx, ev); err != nil {
					p.logger.Error("whatsapp inbound processing failed",
						"channel_message_id", msg.ID, "err", err)
				}
			}
		}
	}
}
