// Package server exposes the HTTP surface: provider webhooks, the
// orchestrator API and the metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"courier/internal/channel"
	"courier/internal/dispatch"
	"courier/internal/domain"
	"courier/internal/inbound"
	"courier/internal/metrics"
)

const maxBodySize = 1 << 20 // 1MB

type Config struct {
	Host                  string
	Port                  int
	APIKey                string
	TelegramWebhookSecret string
	MetricsEnabled        bool
	MetricsEndpoint       string
}

// Server wires the webhook and API handlers onto one listener.
type Server struct {
	cfg        Config
	store      domain.Store
	dispatcher *dispatch.Dispatcher
	processor  *inbound.Processor
	whatsapp   *channel.WhatsApp
	telegram   *channel.Telegram
	logger     *slog.Logger
	httpServer *http.Server
}

func New(cfg Config, store domain.Store, dispatcher *dispatch.Dispatcher, processor *inbound.Processor,
	whatsapp *channel.WhatsApp, telegram *channel.Telegram, logger *slog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		processor:  processor,
		whatsapp:   whatsapp,
		telegram:   telegram,
		logger:     logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", s.handlePing)

	mux.HandleFunc("GET /webhooks/whatsapp", s.handleWhatsAppVerify)
	mux.HandleFunc("POST /webhooks/whatsapp", s.handleWhatsAppWebhook)
	mux.HandleFunc("POST /webhooks/telegram", s.handleTelegramWebhook)

	mux.HandleFunc("POST /api/messages/send", s.auth(s.handleSendMessage))
	mux.HandleFunc("POST /api/conversations/start", s.auth(s.handleStartConversation))
	mux.HandleFunc("GET /api/conversations/{id}", s.auth(s.handleGetConversation))
	mux.HandleFunc("POST /api/contacts", s.auth(s.handleUpsertContact))
	mux.HandleFunc("POST /api/consent", s.auth(s.handleRecordConsent))

	if s.cfg.MetricsEnabled {
		endpoint := s.cfg.MetricsEndpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		mux.HandleFunc("GET "+endpoint, s.handleMetrics)
	}

	return mux
}

// Start runs the listener until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("http server starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// auth enforces the "Api-Key <key>" Authorization scheme on API routes.
// When no key is configured the API is open; webhooks are never gated by it.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Api-Key ") ||
				strings.TrimPrefix(header, "Api-Key ") != s.cfg.APIKey {
				writeJSON(rw, http.StatusUnauthorized, map[string]string{"error": "invalid or missing API key"})
				return
			}
		}
		next(rw, r)
	}
}

func (s *Server) handlePing(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{"status": "pong"})
}

func (s *Server) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	metrics.Collector.Handler()(rw, r)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

// writeError maps domain errors onto HTTP statuses. Provider details stay in
// the logs; the API caller only learns that the send failed.
func (s *Server) writeError(rw http.ResponseWriter, err error) {
	var validation *domain.ValidationError
	var configuration *domain.ConfigurationError
	var rateLimited *domain.RateLimitedError
	var provider *domain.ProviderError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.As(err, &validation):
		writeJSON(rw, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validation.Fields,
		})
	case errors.As(err, &configuration):
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": configuration.Detail})
	case errors.As(err, &rateLimited):
		writeJSON(rw, http.StatusTooManyRequests, map[string]string{"error": rateLimited.Error()})
	case errors.As(err, &provider):
		s.logger.Error("provider failure", "channel", provider.Channel, "detail", provider.Detail)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "message delivery failed"})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
