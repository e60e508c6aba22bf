package domain

import "time"

// Consent type values.
const (
	ConsentOptIn   = "opt_in"
	ConsentOptOut  = "opt_out"
	ConsentRevoked = "revoked"
)

// Consent source values.
const (
	ConsentSourceWebForm       = "web_form"
	ConsentSourceWhatsAppReply = "whatsapp_reply"
	ConsentSourceAPI           = "api"
	ConsentSourceManual        = "manual"
)

// Consent is one TCPA consent event for a contact. Records are append-only;
// the full history is the audit trail, the newest record is the standing.
type Consent struct {
	ID            string
	ContactID     string
	Channel       string
	ConsentType   string
	ConsentSource string
	ConsentedAt   time.Time
	IPAddress     string
	Notes         string
	CreatedAt     time.Time
}

// ValidConsentType reports whether t is one of the accepted consent types.
func ValidConsentType(t string) bool {
	switch t {
	case ConsentOptIn, ConsentOptOut, ConsentRevoked:
		return true
	}
	return false
}

// ValidConsentSource reports whether s is one of the accepted sources.
func ValidConsentSource(s string) bool {
	switch s {
	case ConsentSourceWebForm, ConsentSourceWhatsAppReply, ConsentSourceAPI, ConsentSourceManual:
		return true
	}
	return false
}
