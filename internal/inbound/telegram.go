package inbound

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"courier/internal/channel"
	"courier/internal/domain"
)

// ProcessTelegramUpdate handles one Bot API webhook update. The adapter is
// used to acknowledge callback queries and may be nil in tests.
func (p *Processor) ProcessTelegramUpdate(ctx context.Context, update tgbotapi.Update, adapter *channel.Telegram) {
	switch {
	case update.Message != nil:
		p.processTelegramMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		p.processTelegramCallback(ctx, update.CallbackQuery, adapter)
	default:
		p.logger.Debug("ignoring telegram update", "update_id", update.UpdateID)
	}
}

func (p *Processor) processTelegramMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	text := msg.Text

	// /start is an onboarding handshake, not a conversation event. Log the
	// chat id so the operator can wire up the contact.
	if strings.HasPrefix(strings.TrimSpace(text), "/start") {
		p.logger.Info("telegram /start received",
			"chat_id", chatID, "username", msg.Chat.UserName)
		return
	}

	ev := domain.InboundEvent{
		Channel:          domain.ChannelTelegram,
		FromAddress:      chatID,
		ChannelMessageID: strconv.Itoa(msg.MessageID),
		Kind:             domain.EventText,
		Text:             text,
	}
	if err := p.HandleEvent(ctx, ev); err != nil {
		p.logger.Error("telegram inbound processing failed", "chat_id", chatID, "err", err)
	}
}

// processTelegramCallback treats an inline keyboard press as a reply whose
// text is the button's callback data.
func (p *Processor) processTelegramCallback(ctx context.Context, cq *tgbotapi.CallbackQuery, adapter *channel.Telegram) {
	if adapter != nil && cq.ID != "" {
		// Dismiss the client-side loading spinner.
		adapter.AnswerCallback(cq.ID)
	}

	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	chatIDNum := cq.Message.Chat.ID
	chatID := strconv.FormatInt(chatIDNum, 10)

	// Echo the selection so the user sees what was registered.
	if adapter != nil && cq.Data != "" {
		adapter.SendText(ctx, chatID, fmt.Sprintf("You selected: %s", cq.Data))
	}

	ev := domain.InboundEvent{
		Channel:          domain.ChannelTelegram,
		FromAddress:      chatID,
		ChannelMessageID: cq.ID,
		Kind:             domain.EventButton,
		Text:             cq.Data,
	}
	if err := p.HandleEvent(ctx, ev); err != nil {
		p.logger.Error("telegram callback processing failed", "chat_id", chatID, "err", err)
	}
}
