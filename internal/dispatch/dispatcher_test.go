package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"courier/internal/channel"
	"courier/internal/domain"
	"courier/internal/flow"
	"courier/internal/ratelimit"
	"courier/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeAdapter records sends and returns a scripted result.
type fakeAdapter struct {
	name       string
	configured bool
	result     channel.DeliveryResult

	sentTo    []string
	bodies    []string
	templates []string
	buttons   [][]channel.Button
}

func (f *fakeAdapter) Name() string     { return f.name }
func (f *fakeAdapter) Configured() bool { return f.configured }

func (f *fakeAdapter) SendText(ctx context.Context, recipient, body string) channel.DeliveryResult {
	f.sentTo = append(f.sentTo, recipient)
	f.bodies = append(f.bodies, body)
	return f.result
}

func (f *fakeAdapter) SendInteractive(ctx context.Context, recipient, body string, buttons []channel.Button) channel.DeliveryResult {
	f.sentTo = append(f.sentTo, recipient)
	f.bodies = append(f.bodies, body)
	f.buttons = append(f.buttons, buttons)
	return f.result
}

func (f *fakeAdapter) SendTemplate(ctx context.Context, recipient, templateName string, params map[string]any) channel.DeliveryResult {
	f.sentTo = append(f.sentTo, recipient)
	f.templates = append(f.templates, templateName)
	return f.result
}

type fixture struct {
	store      *store.SQLiteStore
	dispatcher *Dispatcher
	whatsapp   *fakeAdapter
	telegram   *fakeAdapter
	limiter    *ratelimit.Limiter
}

func newFixture(t *testing.T, maxPerHour, maxPerDay int) *fixture {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "courier.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	wa := &fakeAdapter{
		name:       domain.ChannelWhatsApp,
		configured: true,
		result:     channel.DeliveryResult{OK: true, ProviderMessageID: "wamid.OK"},
	}
	tg := &fakeAdapter{
		name:       domain.ChannelTelegram,
		configured: true,
		result:     channel.DeliveryResult{OK: true, ProviderMessageID: "42"},
	}

	engine := flow.NewEngine(flow.Builtin(), st, testLogger())
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), maxPerHour, maxPerDay)

	adapters := map[string]channel.Adapter{
		domain.ChannelWhatsApp: wa,
		domain.ChannelTelegram: tg,
	}
	return &fixture{
		store:      st,
		dispatcher: New(st, limiter, engine, adapters, testLogger()),
		whatsapp:   wa,
		telegram:   tg,
		limiter:    limiter,
	}
}

func (f *fixture) seedContact(t *testing.T, preferred string) domain.Contact {
	t.Helper()
	c := domain.Contact{
		ID:               uuid.NewString(),
		TeamID:           "team-1",
		ClientID:         "client-1",
		ContactType:      "client",
		PhoneE164:        "+15615551234",
		TelegramChatID:   "900111",
		PreferredChannel: preferred,
		Active:           true,
	}
	if err := f.store.CreateContact(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSend_Standalone(t *testing.T) {
	f := newFixture(t, 10, 30)
	contact := f.seedContact(t, domain.ChannelWhatsApp)

	res, err := f.dispatcher.Send(context.Background(), SendRequest{
		ContactRef: ContactRef{ContactID: contact.ID},
		Body:       "your statement is ready",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ChannelMessageID != "wamid.OK" {
		t.Errorf("unexpected channel message id: %s", res.ChannelMessageID)
	}
	if len(f.whatsapp.sentTo) != 1 || f.whatsapp.sentTo[0] != "+15615551234" {
		t.Errorf("unexpected recipient: %v", f.whatsapp.sentTo)
	}

	msg, err := f.store.GetMessage(context.Background(), res.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != domain.MessageSent || msg.ConversationID != "" {
		t.Errorf("expected sent standalone message, got %+v", msg)
	}
}

func TestSend_ByHubIDs(t *testing.T) {
	f := newFixture(t, 10, 30)
	f.seedContact(t, domain.ChannelWhatsApp)

	_, err := f.dispatcher.Send(context.Background(), SendRequest{
		ContactRef: ContactRef{TeamID: "team-1", ClientID: "client-1"},
		Body:       "hello",
	})
	if err != nil {
		t.Fatalf("hub id resolution failed: %v", err)
	}
}

func TestSend_ValidationErrors(t *testing.T) {
	f := newFixture(t, 10, 30)

	_, err := f.dispatcher.Send(context.Background(), SendRequest{
		ContactRef: ContactRef{ContactID: "some-id"},
	})
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error for empty body, got %v", err)
	}

	_, err = f.dispatcher.Send(context.Background(), SendRequest{Body: "hi"})
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error for missing contact ref, got %v", err)
	}
}

func TestSend_UnknownContact(t *testing.T) {
	f := newFixture(t, 10, 30)
	_, err := f.dispatcher.Send(context.Background(), SendRequest{
		ContactRef: ContactRef{ContactID: uuid.NewString()},
		Body:       "hi",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSend_TelegramPreferred(t *testing.T) {
	f := newFixture(t, 10, 30)
	contact := f.seedContact(t, domain.ChannelTelegram)

	_, err := f.dispatcher.Send(context.Background(), SendRequest{
		ContactRef: ContactRef{ContactID: contact.ID},
		Body:       "ping",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(f.telegram.sentTo) != 1 || f.telegram.sentTo[0] != "900111" {
		t.Errorf("expected telegram chat id recipient, got %v", f.telegram.sentTo)
	}
	if len(f.whatsapp.sentTo) != 0 {
		t.Error("whatsapp adapter must not be touched")
	}
}

func TestSend_MissingAddressIsConfigurationError(t *testing.T) {
	f := newFixture(t, 10, 30)
	c := domain.Contact{
		ID:               uuid.NewString(),
		TeamID:           "team-1",
		ClientID:         "client-2",
		ContactType:      "client",
		PreferredChannel: domain.ChannelWhatsApp, // but no phone on file
		Active:           true,
	}
	if err := f.store.CreateContact(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	_, err := f.dispatcher.Send(context.Background(), SendRequest{
		ContactRef: ContactRef{ContactID: c.ID},
		Body:       "hi",
	})
	var configuration *domain.ConfigurationError
	if !errors.As(err, &configuration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSend_UnconfiguredAdapter(t *testing.T) {
	f := newFixture(t, 10, 30)
	f.whatsapp.configured = false
	contact := f.seedContact(t, domain.ChannelWhatsApp)

	_, err := f.dispatcher.Send(context.Background(), SendRequest{
		ContactRef: ContactRef{ContactID: contact.ID},
		Body:       "hi",
	})
	var configuration *domain.ConfigurationError
	if !errors.As(err, &configuration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if len(f.whatsapp.sentTo) != 0 {
		t.Error("nothing should be sent through an unconfigured adapter")
	}
}

func TestSend_RateLimited(t *testing.T) {
	f := newFixture(t, 1, 30)
	contact := f.seedContact(t, domain.ChannelWhatsApp)
	ctx := context.Background()

	if _, err := f.dispatcher.Send(ctx, SendRequest{
		ContactRef: ContactRef{ContactID: contact.ID}, Body: "first",
	}); err != nil {
		t.Fatal(err)
	}

	_, err := f.dispatcher.Send(ctx, SendRequest{
		ContactRef: ContactRef{ContactID: contact.ID}, Body: "second",
	})
	var limited *domain.RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if len(f.whatsapp.bodies) != 1 {
		t.Error("second send must not reach the adapter")
	}
}

func TestSend_ProviderFailureLeavesFailedMessage(t *testing.T) {
	f := newFixture(t, 10, 30)
	f.whatsapp.result = channel.DeliveryResult{OK: false, Error: "Invalid recipient", StatusCode: 400}
	contact := f.seedContact(t, domain.ChannelWhatsApp)

	_, err := f.dispatcher.Send(context.Background(), SendRequest{
		ContactRef: ContactRef{ContactID: contact.ID},
		Body:       "hi",
	})
	var provider *domain.ProviderError
	if !errors.As(err, &provider) {
		t.Fatalf("expected provider error, got %v", err)
	}

	// A failed send still leaves a durable failed message. The rate counter
	// must not be charged for it.
	if ok, _ := f.limiter.Check(contact.ID); !ok {
		t.Error("failed send must not consume quota")
	}
}

func TestSend_Template(t *testing.T) {
	f := newFixture(t, 10, 30)
	contact := f.seedContact(t, domain.ChannelWhatsApp)

	_, err := f.dispatcher.Send(context.Background(), SendRequest{
		ContactRef:     ContactRef{ContactID: contact.ID},
		TemplateName:   "monthly_digest",
		TemplateParams: map[string]any{"body_params": []string{"March"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(f.whatsapp.templates) != 1 || f.whatsapp.templates[0] != "monthly_digest" {
		t.Errorf("template not used: %v", f.whatsapp.templates)
	}
}

func TestStartConversation_HappyPath(t *testing.T) {
	f := newFixture(t, 10, 30)
	contact := f.seedContact(t, domain.ChannelWhatsApp)
	ctx := context.Background()

	res, err := f.dispatcher.StartConversation(ctx, StartRequest{
		ContactRef:     ContactRef{ContactID: contact.ID},
		ContextType:    "reminder",
		ContextID:      "invoice-77",
		InitialMessage: "your invoice is due friday",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.CurrentState != "notified" {
		t.Errorf("expected notified state after on_send, got %s", res.CurrentState)
	}

	conv, err := f.store.GetConversation(ctx, res.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if conv.TimeoutMinutes != defaultTimeoutMinutes {
		t.Errorf("expected default timeout, got %d", conv.TimeoutMinutes)
	}
	if conv.ContextID != "invoice-77" {
		t.Errorf("context id lost: %s", conv.ContextID)
	}

	msgs, err := f.store.ListConversationMessages(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Status != domain.MessageSent {
		t.Fatalf("expected one sent message, got %+v", msgs)
	}
}

func TestStartConversation_WaitingReplyStatus(t *testing.T) {
	f := newFixture(t, 10, 30)
	contact := f.seedContact(t, domain.ChannelWhatsApp)

	res, err := f.dispatcher.StartConversation(context.Background(), StartRequest{
		ContactRef:     ContactRef{ContactID: contact.ID},
		ContextType:    "clarification",
		ContextID:      "task-1",
		InitialMessage: "which account did you mean?",
		Buttons: []channel.Button{
			{ID: "checking", Title: "Checking"},
			{ID: "savings", Title: "Savings"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.CurrentState != "awaiting_response" {
		t.Errorf("expected awaiting_response, got %s", res.CurrentState)
	}
	if res.Status != string(domain.StatusWaitingReply) {
		t.Errorf("expected waiting_reply status, got %s", res.Status)
	}
	if len(f.whatsapp.buttons) != 1 || len(f.whatsapp.buttons[0]) != 2 {
		t.Errorf("buttons not passed through: %v", f.whatsapp.buttons)
	}
}

func TestStartConversation_UnknownFlow(t *testing.T) {
	f := newFixture(t, 10, 30)
	contact := f.seedContact(t, domain.ChannelWhatsApp)

	_, err := f.dispatcher.StartConversation(context.Background(), StartRequest{
		ContactRef:     ContactRef{ContactID: contact.ID},
		ContextType:    "interrogation",
		InitialMessage: "hello",
	})
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := validation.Fields["context_type"]; !ok {
		t.Errorf("expected context_type field error, got %v", validation.Fields)
	}
}

func TestStartConversation_ProviderFailureMarksConversationFailed(t *testing.T) {
	f := newFixture(t, 10, 30)
	f.whatsapp.result = channel.DeliveryResult{OK: false, Error: "timeout", StatusCode: 0}
	contact := f.seedContact(t, domain.ChannelWhatsApp)
	ctx := context.Background()

	_, err := f.dispatcher.StartConversation(ctx, StartRequest{
		ContactRef:     ContactRef{ContactID: contact.ID},
		ContextType:    "digest",
		InitialMessage: "weekly digest attached",
	})
	var provider *domain.ProviderError
	if !errors.As(err, &provider) {
		t.Fatalf("expected provider error, got %v", err)
	}

	// The conversation exists with failed status; replies will not route
	// into it.
	conv, ferr := f.store.FindLiveConversation(ctx, contact.ID)
	if ferr != domain.ErrNotFound {
		t.Errorf("failed conversation must not be live, got %+v (%v)", conv, ferr)
	}
}

func TestStartConversation_ConfigurationErrorPersistsNothing(t *testing.T) {
	f := newFixture(t, 10, 30)
	f.whatsapp.configured = false
	contact := f.seedContact(t, domain.ChannelWhatsApp)
	ctx := context.Background()

	_, err := f.dispatcher.StartConversation(ctx, StartRequest{
		ContactRef:     ContactRef{ContactID: contact.ID},
		ContextType:    "clarification",
		InitialMessage: "which account?",
	})
	var configuration *domain.ConfigurationError
	if !errors.As(err, &configuration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, ferr := f.store.FindLiveConversation(ctx, contact.ID); ferr != domain.ErrNotFound {
		t.Error("no conversation may be created when routing fails upfront")
	}
}
