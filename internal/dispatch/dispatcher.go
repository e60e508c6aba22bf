// Package dispatch orchestrates outbound sends: contact resolution, rate
// limiting, adapter calls and the persistence that ties them together.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"courier/internal/channel"
	"courier/internal/domain"
	"courier/internal/flow"
	"courier/internal/metrics"
	"courier/internal/ratelimit"
)

const defaultTimeoutMinutes = 1440 // 24h

// Dispatcher executes single outbound sends and conversation starts. Safe
// for concurrent use; all per-request state is local.
type Dispatcher struct {
	store    domain.Store
	limiter  *ratelimit.Limiter
	engine   *flow.Engine
	adapters map[string]channel.Adapter
	logger   *slog.Logger
}

func New(store domain.Store, limiter *ratelimit.Limiter, engine *flow.Engine, adapters map[string]channel.Adapter, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		limiter:  limiter,
		engine:   engine,
		adapters: adapters,
		logger:   logger,
	}
}

// ContactRef identifies a contact either by our UUID or by Hub identifiers.
type ContactRef struct {
	ContactID   string `json:"contact_id,omitempty"`
	TeamID      string `json:"hub_team_id,omitempty"`
	ClientID    string `json:"hub_client_id,omitempty"`
	ContactType string `json:"contact_type,omitempty"`
}

// SendRequest is a standalone outbound send (no conversation).
type SendRequest struct {
	ContactRef
	Body           string         `json:"body,omitempty"`
	TemplateName   string         `json:"template_name,omitempty"`
	TemplateParams map[string]any `json:"template_params,omitempty"`
}

// SendResult reports a completed standalone send.
type SendResult struct {
	MessageID        string `json:"message_id"`
	Status           string `json:"status"`
	ChannelMessageID string `json:"channel_message_id"`
}

// StartRequest opens a new conversation with an initial outbound message.
type StartRequest struct {
	ContactRef
	ContextType    string           `json:"context_type"`
	ContextID      string           `json:"context_id"`
	ContextData    map[string]any   `json:"context_data,omitempty"`
	TimeoutMinutes int              `json:"timeout_minutes,omitempty"`
	InitialMessage string           `json:"initial_message"`
	Buttons        []channel.Button `json:"buttons,omitempty"`
}

// StartResult reports a started conversation.
type StartResult struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	CurrentState   string `json:"current_state"`
	MessageID      string `json:"message_id"`
}

// resolveContact looks a contact up by UUID first, Hub ids second.
func (d *Dispatcher) resolveContact(ctx context.Context, ref ContactRef) (*domain.Contact, error) {
	if ref.ContactID != "" {
		return d.store.GetContact(ctx, ref.ContactID)
	}
	if ref.TeamID != "" {
		contactType := ref.ContactType
		if contactType == "" {
			contactType = "client"
		}
		return d.store.FindContactByHubIDs(ctx, ref.TeamID, ref.ClientID, contactType)
	}
	return nil, &domain.ValidationError{Fields: map[string]string{
		"contact_id": "contact_id or hub_team_id is required",
	}}
}

// resolveRoute picks the adapter and recipient address for the contact's
// preferred channel, failing with a configuration error when either is
// missing. Nothing is persisted before this point.
func (d *Dispatcher) resolveRoute(contact *domain.Contact) (channel.Adapter, string, error) {
	name := contact.PreferredChannel
	if name == "" {
		name = domain.ChannelWhatsApp
	}
	adapter, ok := d.adapters[name]
	if !ok || !adapter.Configured() {
		return nil, "", &domain.ConfigurationError{Detail: name + " channel is not configured"}
	}
	recipient := contact.Address(name)
	if recipient == "" {
		return nil, "", &domain.ConfigurationError{Detail: "contact has no " + name + " address configured"}
	}
	return adapter, recipient, nil
}

func (d *Dispatcher) checkLimit(contact *domain.Contact) error {
	allowed, reason := d.limiter.Check(contact.ID)
	if !allowed {
		metrics.RateLimited.Inc()
		return &domain.RateLimitedError{Reason: reason}
	}
	return nil
}

// Send performs a standalone outbound send. Partial failure always leaves a
// durable failed Message rather than a silently lost attempt.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.Body == "" && req.TemplateName == "" {
		return nil, &domain.ValidationError{Fields: map[string]string{
			"body": "body or template_name is required",
		}}
	}

	contact, err := d.resolveContact(ctx, req.ContactRef)
	if err != nil {
		return nil, err
	}
	adapter, recipient, err := d.resolveRoute(contact)
	if err != nil {
		return nil, err
	}
	if err := d.checkLimit(contact); err != nil {
		return nil, err
	}

	msg := domain.Message{
		ID:           uuid.NewString(),
		Direction:    domain.DirectionOutbound,
		Body:         req.Body,
		TemplateName: req.TemplateName,
		Status:       domain.MessageQueued,
		CreatedAt:    time.Now().UTC(),
	}
	if err := d.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	result := d.callAdapter(ctx, adapter, recipient, req.Body, req.TemplateName, req.TemplateParams, nil)
	if !result.OK {
		d.failMessage(ctx, msg.ID, result.Error)
		return nil, &domain.ProviderError{Channel: adapter.Name(), Detail: result.Error, StatusCode: result.StatusCode}
	}

	if err := d.store.MarkMessageSent(ctx, msg.ID, result.ProviderMessageID, time.Now().UTC()); err != nil {
		return nil, err
	}
	d.limiter.Record(contact.ID)
	metrics.MessagesSent.Inc()

	d.logger.Info("message sent",
		"message", msg.ID, "contact", contact.ID, "channel", adapter.Name())
	return &SendResult{
		MessageID:        msg.ID,
		Status:           string(domain.MessageSent),
		ChannelMessageID: result.ProviderMessageID,
	}, nil
}

// StartConversation opens a conversation, sends the initial message and runs
// the first on_send transition. On adapter failure both the message and the
// conversation are marked failed.
func (d *Dispatcher) StartConversation(ctx context.Context, req StartRequest) (*StartResult, error) {
	fields := map[string]string{}
	if req.InitialMessage == "" {
		fields["initial_message"] = "initial_message is required"
	}
	if req.ContextType == "" {
		fields["context_type"] = "context_type is required"
	} else if !d.engine.Table().Has(req.ContextType) {
		fields["context_type"] = "unknown flow: " + req.ContextType
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Fields: fields}
	}

	contact, err := d.resolveContact(ctx, req.ContactRef)
	if err != nil {
		return nil, err
	}
	adapter, recipient, err := d.resolveRoute(contact)
	if err != nil {
		return nil, err
	}
	if err := d.checkLimit(contact); err != nil {
		return nil, err
	}

	timeout := req.TimeoutMinutes
	if timeout <= 0 {
		timeout = defaultTimeoutMinutes
	}

	now := time.Now().UTC()
	conv := domain.Conversation{
		ID:             uuid.NewString(),
		ContactID:      contact.ID,
		Channel:        adapter.Name(),
		Status:         domain.StatusActive,
		CurrentState:   flow.InitialState,
		ContextType:    req.ContextType,
		ContextID:      req.ContextID,
		ContextData:    req.ContextData,
		TimeoutMinutes: timeout,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	if err := d.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	msg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Direction:      domain.DirectionOutbound,
		Body:           req.InitialMessage,
		Status:         domain.MessageQueued,
		CreatedAt:      now,
	}
	if err := d.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	result := d.callAdapter(ctx, adapter, recipient, req.InitialMessage, "", nil, req.Buttons)
	if !result.OK {
		d.failMessage(ctx, msg.ID, result.Error)
		if err := d.store.SetConversationStatus(ctx, conv.ID, domain.StatusFailed); err != nil {
			d.logger.Error("mark conversation failed", "conversation", conv.ID, "err", err)
		}
		return nil, &domain.ProviderError{Channel: adapter.Name(), Detail: result.Error, StatusCode: result.StatusCode}
	}

	if err := d.store.MarkMessageSent(ctx, msg.ID, result.ProviderMessageID, time.Now().UTC()); err != nil {
		return nil, err
	}

	d.engine.Transition(ctx, &conv, flow.EventSend)
	d.limiter.Record(contact.ID)
	metrics.MessagesSent.Inc()

	d.logger.Info("conversation started",
		"conversation", conv.ID, "contact", contact.ID,
		"flow", conv.ContextType, "state", conv.CurrentState)
	return &StartResult{
		ConversationID: conv.ID,
		Status:         string(conv.Status),
		CurrentState:   conv.CurrentState,
		MessageID:      msg.ID,
	}, nil
}

// callAdapter picks the right send capability and times the provider call.
func (d *Dispatcher) callAdapter(ctx context.Context, adapter channel.Adapter, recipient, body, templateName string, templateParams map[string]any, buttons []channel.Button) channel.DeliveryResult {
	start := time.Now()
	var result channel.DeliveryResult
	switch {
	case templateName != "":
		result = adapter.SendTemplate(ctx, recipient, templateName, templateParams)
	case len(buttons) > 0:
		result = adapter.SendInteractive(ctx, recipient, body, buttons)
	default:
		result = adapter.SendText(ctx, recipient, body)
	}
	metrics.SendLatency.Observe(time.Since(start).Seconds())
	return result
}

func (d *Dispatcher) failMessage(ctx context.Context, messageID, detail string) {
	metrics.MessagesFailed.Inc()
	if err := d.store.MarkMessageFailed(ctx, messageID, detail); err != nil {
		d.logger.Error("mark message failed", "message", messageID, "err", err)
	}
}
