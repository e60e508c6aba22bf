package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	whatsappAPIBase   = "https://graph.facebook.com/v21.0"
	whatsappTimeout   = 15 * time.Second
	maxButtons        = 3
	maxButtonTitleLen = 20
)

// WhatsAppConfig carries the Business Cloud API credentials.
type WhatsAppConfig struct {
	PhoneNumberID string
	AccessToken   string
	AppSecret     string // HMAC secret for inbound signature verification
	VerifyToken   string // webhook registration handshake token
}

// WhatsApp implements Adapter over the WhatsApp Business Cloud API
// (Meta Graph API v21.0).
type WhatsApp struct {
	cfg     WhatsAppConfig
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewWhatsApp(cfg WhatsAppConfig, logger *slog.Logger) *WhatsApp {
	return &WhatsApp{
		cfg:     cfg,
		baseURL: whatsappAPIBase,
		client:  &http.Client{Timeout: whatsappTimeout},
		logger:  logger,
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) Configured() bool {
	return w.cfg.PhoneNumberID != "" && w.cfg.AccessToken != ""
}

func (w *WhatsApp) SendText(ctx context.Context, recipient, body string) DeliveryResult {
	return w.send(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                strings.TrimPrefix(recipient, "+"),
		"type":              "text",
		"text":              map[string]string{"body": body},
	})
}

func (w *WhatsApp) SendInteractive(ctx context.Context, recipient, body string, buttons []Button) DeliveryResult {
	if len(buttons) > maxButtons {
		buttons = buttons[:maxButtons]
	}
	buttonList := make([]map[string]any, 0, len(buttons))
	for _, btn := range buttons {
		title := btn.Title
		// The 20-char provider limit counts characters, not bytes.
		if r := []rune(title); len(r) > maxButtonTitleLen {
			title = string(r[:maxButtonTitleLen])
		}
		buttonList = append(buttonList, map[string]any{
			"type":  "reply",
			"reply": map[string]string{"id": btn.ID, "title": title},
		})
	}

	return w.send(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                strings.TrimPrefix(recipient, "+"),
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": body},
			"action": map[string]any{"buttons": buttonList},
		},
	})
}

// SendTemplate sends a pre-approved template message. Templates are required
// by Meta for business-initiated conversations outside the 24h window.
func (w *WhatsApp) SendTemplate(ctx context.Context, recipient, templateName string, params map[string]any) DeliveryResult {
	template := map[string]any{
		"name":     templateName,
		"language": map[string]string{"code": "en_US"},
	}
	if bodyParams, ok := params["body_params"].([]string); ok && len(bodyParams) > 0 {
		parameters := make([]map[string]string, 0, len(bodyParams))
		for _, p := range bodyParams {
			parameters = append(parameters, map[string]string{"type": "text", "text": p})
		}
		template["components"] = []map[string]any{
			{"type": "body", "parameters": parameters},
		}
	}

	return w.send(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                strings.TrimPrefix(recipient, "+"),
		"type":              "template",
		"template":          template,
	})
}

type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (w *WhatsApp) send(ctx context.Context, payload map[string]any) DeliveryResult {
	if !w.Configured() {
		w.logger.Warn("whatsapp credentials not configured")
		return failure("whatsapp not configured", 0)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return failure(fmt.Sprintf("marshal payload: %v", err), 0)
	}

	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return failure(fmt.Sprintf("build request: %v", err), 0)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Error("whatsapp API call failed", "err", err)
		return failure(fmt.Sprintf("whatsapp request failed: %v", err), 0)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var parsed waSendResponse
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail := strings.TrimSpace(string(respBody))
		if parsed.Error != nil {
			detail = parsed.Error.Message
		}
		w.logger.Error("whatsapp API error", "status", resp.StatusCode, "detail", detail)
		return failure(detail, resp.StatusCode)
	}

	var providerID string
	if len(parsed.Messages) > 0 {
		providerID = parsed.Messages[0].ID
	}
	w.logger.Info("whatsapp message sent", "provider_message_id", providerID)
	return DeliveryResult{OK: true, ProviderMessageID: providerID, StatusCode: resp.StatusCode}
}

// VerifySignature checks the X-Hub-Signature-256 header Meta sends with
// webhook deliveries. Verification is skipped (passes) when no app secret is
// configured; that is the operator's call.
func (w *WhatsApp) VerifySignature(body []byte, signature string) bool {
	if w.cfg.AppSecret == "" {
		w.logger.Warn("whatsapp app secret not configured, skipping signature verification")
		return true
	}
	mac := hmac.New(sha256.New, []byte(w.cfg.AppSecret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyToken returns the configured webhook handshake token.
func (w *WhatsApp) VerifyToken() string { return w.cfg.VerifyToken }

// --- Webhook payload types (Meta Graph webhook format) ---

type WhatsAppWebhookPayload struct {
	Object string          `json:"object"`
	Entry  []WhatsAppEntry `json:"entry"`
}

type WhatsAppEntry struct {
	ID      string           `json:"id"`
	Changes []WhatsAppChange `json:"changes"`
}

type WhatsAppChange struct {
	Field string        `json:"field"`
	Value WhatsAppValue `json:"value"`
}

type WhatsAppValue struct {
	MessagingProduct string                  `json:"messaging_product"`
	Metadata         map[string]any          `json:"metadata"`
	Messages         []WhatsAppMessage       `json:"messages"`
	Statuses         []WhatsAppStatusUpdate  `json:"statuses"`
}

type WhatsAppMessage struct {
	From        string               `json:"from"`
	ID          string               `json:"id"`
	Type        string               `json:"type"`
	Text        *WhatsAppText        `json:"text,omitempty"`
	Button      *WhatsAppButtonClick `json:"button,omitempty"`
	Interactive *WhatsAppInteractive `json:"interactive,omitempty"`
}

type WhatsAppText struct {
	Body string `json:"body"`
}

type WhatsAppButtonClick struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

type WhatsAppInteractive struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply,omitempty"`
}

type WhatsAppStatusUpdate struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}
