package domain

import "time"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageStatus is the delivery status of a single message.
type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
	MessageReceived  MessageStatus = "received"
)

// Message is one unit of content in one direction. ConversationID is empty
// for standalone sends and inbound messages without a live conversation.
type Message struct {
	ID               string
	ConversationID   string
	Direction        Direction
	Body             string
	ChannelMessageID string // provider id, correlation key for status webhooks
	TemplateName     string
	Status           MessageStatus
	ErrorMessage     string
	SentAt           *time.Time
	DeliveredAt      *time.Time
	ReadAt           *time.Time
	CreatedAt        time.Time
}
