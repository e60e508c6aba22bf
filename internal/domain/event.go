package domain

// EventKind classifies the content of a normalized inbound event.
type EventKind string

const (
	EventText        EventKind = "text"        // plain text message
	EventButton      EventKind = "button"      // quick-reply button click
	EventInteractive EventKind = "interactive" // interactive button reply
)

// InboundEvent is the canonical shape every provider webhook payload is
// normalized into before any routing decision is made.
type InboundEvent struct {
	Channel          string
	FromAddress      string // E.164 phone or telegram chat id
	ChannelMessageID string
	Kind             EventKind
	Text             string
}

// StatusEvent is a normalized delivery/read/failure receipt.
type StatusEvent struct {
	Channel          string
	ChannelMessageID string
	ProviderStatus   string // provider's own status tag
	ErrorDetail      string // set for failure receipts when the provider includes one
}
