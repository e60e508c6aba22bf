package domain

import "time"

// Channel names as used throughout the service.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelTelegram = "telegram"
)

// Contact is a recipient reachable over one or more channels. It is linked
// to Hub via TeamID/ClientID references, not foreign keys.
type Contact struct {
	ID               string
	TeamID           string
	ClientID         string
	ContactType      string // "client" unless Hub says otherwise
	PhoneE164        string // +15615551234, empty for Telegram-only contacts
	TelegramChatID   string
	DisplayName      string
	PreferredChannel string
	Timezone         string
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Address returns the channel-native recipient address for the given
// channel, or empty when the contact has none configured.
func (c *Contact) Address(channel string) string {
	switch channel {
	case ChannelTelegram:
		return c.TelegramChatID
	default:
		return c.PhoneE164
	}
}
