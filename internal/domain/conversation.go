package domain

import "time"

// ConversationStatus is the coarse lifecycle status, always derived from the
// flow table entry for the current state.
type ConversationStatus string

const (
	StatusActive       ConversationStatus = "active"
	StatusWaitingReply ConversationStatus = "waiting_reply"
	StatusTimedOut     ConversationStatus = "timed_out"
	StatusCompleted    ConversationStatus = "completed"
	StatusFailed       ConversationStatus = "failed"
)

// Conversation is a single interaction thread bound to one contact and one
// channel. It is never deleted, only terminated.
type Conversation struct {
	ID             string
	ContactID      string
	Channel        string
	Status         ConversationStatus
	CurrentState   string
	ContextType    string // flow name: clarification, digest, reminder, ...
	ContextID      string // opaque Hub object reference
	ContextData    map[string]any
	TimeoutMinutes int
	LastActivityAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Live reports whether inbound replies should still route to this
// conversation.
func (c *Conversation) Live() bool {
	return c.Status == StatusActive || c.Status == StatusWaitingReply
}

// Deadline is the instant after which the conversation counts as timed out.
func (c *Conversation) Deadline() time.Time {
	return c.LastActivityAt.Add(time.Duration(c.TimeoutMinutes) * time.Minute)
}
