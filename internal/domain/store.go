package domain

import (
	"context"
	"time"
)

// Store is the persistence contract the core depends on. Implementations
// only need narrow single-entity writes; no multi-entity transactions are
// assumed. Cross-entity consistency is achieved by issuing writes
// sequentially in the same request.
type Store interface {
	// Contacts. The core only reads contacts and deactivates them on
	// opt-out; creation and updates come from the API layer.
	CreateContact(ctx context.Context, c Contact) error
	UpdateContact(ctx context.Context, c Contact) error
	GetContact(ctx context.Context, id string) (*Contact, error)
	FindContactByHubIDs(ctx context.Context, teamID, clientID, contactType string) (*Contact, error)
	FindContactByPhone(ctx context.Context, phone string) (*Contact, error)
	FindContactByTelegramChatID(ctx context.Context, chatID string) (*Contact, error)
	DeactivateContact(ctx context.Context, id string) error

	// Consent records are append-only audit entries.
	CreateConsent(ctx context.Context, c Consent) error
	// ListContactConsents returns the contact's consent history, newest
	// consented_at first.
	ListContactConsents(ctx context.Context, contactID string) ([]Consent, error)

	// Conversations.
	CreateConversation(ctx context.Context, c Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// UpdateConversationState persists state, status and last-activity in
	// one write.
	UpdateConversationState(ctx context.Context, id, state string, status ConversationStatus, at time.Time) error
	SetConversationStatus(ctx context.Context, id string, status ConversationStatus) error
	// FindLiveConversation returns the most recently created conversation
	// for the contact whose status is active or waiting_reply, or
	// ErrNotFound when none is live.
	FindLiveConversation(ctx context.Context, contactID string) (*Conversation, error)
	// ListTimedOut returns waiting_reply conversations whose
	// last_activity + timeout has elapsed as of now.
	ListTimedOut(ctx context.Context, now time.Time) ([]Conversation, error)
	ListConversationMessages(ctx context.Context, conversationID string) ([]Message, error)

	// Messages.
	CreateMessage(ctx context.Context, m Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	FindMessageByChannelID(ctx context.Context, channelMessageID string) (*Message, error)
	AttachMessageToConversation(ctx context.Context, messageID, conversationID string) error
	MarkMessageSent(ctx context.Context, id, channelMessageID string, at time.Time) error
	MarkMessageFailed(ctx context.Context, id, errorMessage string) error
	// UpdateMessageStatus applies a delivery receipt. Timestamps already
	// set are left untouched so duplicate receipts stay idempotent.
	UpdateMessageStatus(ctx context.Context, id string, status MessageStatus, errorMessage string, at time.Time) error
}
