package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a contact, conversation or message does not
// exist. Stores return it directly; callers surface it as a 404.
var ErrNotFound = errors.New("not found")

// ValidationError reports a malformed request with field-level detail.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Fields)
}

// ConfigurationError means the recipient has no address for its channel or
// provider credentials are missing. Distinct from provider failures: nothing
// was attempted.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string { return e.Detail }

// RateLimitedError names which quota window denied the send.
type RateLimitedError struct {
	Reason string
}

func (e *RateLimitedError) Error() string {
	return "rate limit exceeded: " + e.Reason
}

// ProviderError wraps an adapter failure. Detail is logged, not exposed to
// API callers.
type ProviderError struct {
	Channel    string
	Detail     string
	StatusCode int
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider error %d: %s", e.Channel, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s provider error: %s", e.Channel, e.Detail)
}
