package server

import (
	"encoding/json"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"courier/internal/channel"
)

// handleWhatsAppVerify answers the Graph API subscription handshake. Meta
// sends hub.mode, hub.verify_token and hub.challenge as query parameters and
// expects the raw challenge echoed back on success.
func (s *Server) handleWhatsAppVerify(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && s.whatsapp != nil && token == s.whatsapp.VerifyToken() && s.whatsapp.VerifyToken() != "" {
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte(challenge))
		return
	}

	s.logger.Warn("whatsapp webhook verification rejected", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

func (s *Server) handleWhatsAppWebhook(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if s.whatsapp == nil || !s.whatsapp.VerifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		s.logger.Warn("whatsapp webhook signature rejected")
		http.Error(rw, "Invalid signature", http.StatusForbidden)
		return
	}

	var payload channel.WhatsAppWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	// Per-event failures are logged inside the processor; the provider only
	// needs a 200 so it stops retrying the batch.
	s.processor.ProcessWhatsAppPayload(r.Context(), payload)

	writeJSON(rw, http.StatusOK, map[string]string{"status": "received"})
}

func (s *Server) handleTelegramWebhook(rw http.ResponseWriter, r *http.Request) {
	if s.cfg.TelegramWebhookSecret != "" {
		if r.Header.Get("X-Telegram-Bot-Api-Secret-Token") != s.cfg.TelegramWebhookSecret {
			s.logger.Warn("telegram webhook secret rejected")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	s.processor.ProcessTelegramUpdate(r.Context(), update, s.telegram)

	writeJSON(rw, http.StatusOK, map[string]string{"status": "received"})
}
