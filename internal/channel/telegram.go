package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig carries the Bot API credentials.
type TelegramConfig struct {
	Token         string
	WebhookSecret string // secret_token registered with setWebhook
}

// Telegram implements Adapter over the Telegram Bot API using the bot-api
// client library. The underlying client is created on first use so the
// adapter can be constructed without network access.
type Telegram struct {
	cfg      TelegramConfig
	endpoint string
	logger   *slog.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

func NewTelegram(cfg TelegramConfig, logger *slog.Logger) *Telegram {
	return &Telegram{cfg: cfg, endpoint: tgbotapi.APIEndpoint, logger: logger}
}

// NewTelegramWithEndpoint points the adapter at a non-default Bot API
// endpoint. The endpoint is a format string with slots for token and method,
// e.g. "http://127.0.0.1:8081/bot%s/%s".
func NewTelegramWithEndpoint(cfg TelegramConfig, endpoint string, logger *slog.Logger) *Telegram {
	return &Telegram{cfg: cfg, endpoint: endpoint, logger: logger}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Configured() bool { return t.cfg.Token != "" }

// WebhookSecret returns the secret token expected on webhook deliveries.
func (t *Telegram) WebhookSecret() string { return t.cfg.WebhookSecret }

func (t *Telegram) ensureBot() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot != nil {
		return t.bot, nil
	}
	if t.cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.cfg.Token, t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	return bot, nil
}

func (t *Telegram) SendText(ctx context.Context, recipient, body string) DeliveryResult {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return failure(fmt.Sprintf("invalid telegram chat id %q", recipient), 0)
	}

	msg := tgbotapi.NewMessage(chatID, body)
	msg.ParseMode = tgbotapi.ModeHTML
	return t.deliver(msg)
}

func (t *Telegram) SendInteractive(ctx context.Context, recipient, body string, buttons []Button) DeliveryResult {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return failure(fmt.Sprintf("invalid telegram chat id %q", recipient), 0)
	}

	// One button per row, order preserved. Telegram has no 3-button cap but
	// the dispatch contract does, so the caller already limited the slice.
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, btn := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btn.Title, btn.ID),
		))
	}

	msg := tgbotapi.NewMessage(chatID, body)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
	return t.deliver(msg)
}

// SendTemplate is not a Telegram concept; only WhatsApp requires templates.
func (t *Telegram) SendTemplate(ctx context.Context, recipient, templateName string, params map[string]any) DeliveryResult {
	return failure("telegram does not support template messages", 0)
}

func (t *Telegram) deliver(msg tgbotapi.MessageConfig) DeliveryResult {
	bot, err := t.ensureBot()
	if err != nil {
		t.logger.Warn("telegram adapter unavailable", "err", err)
		return failure(err.Error(), 0)
	}

	sent, err := bot.Send(msg)
	if err != nil {
		t.logger.Error("telegram send failed", "chat_id", msg.ChatID, "err", err)
		return failure(err.Error(), 0)
	}

	t.logger.Info("telegram message sent", "chat_id", msg.ChatID, "message_id", sent.MessageID)
	return DeliveryResult{OK: true, ProviderMessageID: strconv.Itoa(sent.MessageID)}
}

// AnswerCallback acknowledges an inline keyboard press so the client stops
// showing a loading spinner. Failures are logged and swallowed.
func (t *Telegram) AnswerCallback(callbackID string) {
	bot, err := t.ensureBot()
	if err != nil {
		return
	}
	if _, err := bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		t.logger.Warn("telegram answerCallbackQuery failed", "id", callbackID, "err", err)
	}
}

// SetWebhook registers a webhook URL with Telegram, including the secret
// token echoed back on every delivery.
func (t *Telegram) SetWebhook(url string) error {
	bot, err := t.ensureBot()
	if err != nil {
		return err
	}
	params := tgbotapi.Params{
		"url":             url,
		"allowed_updates": `["message","callback_query"]`,
	}
	params.AddNonEmpty("secret_token", t.cfg.WebhookSecret)
	if _, err := bot.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	return nil
}

// DeleteWebhook removes the registered webhook.
func (t *Telegram) DeleteWebhook() error {
	bot, err := t.ensureBot()
	if err != nil {
		return err
	}
	if _, err := bot.MakeRequest("deleteWebhook", tgbotapi.Params{}); err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}
	return nil
}

// GetMe verifies the bot token and returns the bot username.
func (t *Telegram) GetMe() (string, error) {
	bot, err := t.ensureBot()
	if err != nil {
		return "", err
	}
	return bot.Self.UserName, nil
}
