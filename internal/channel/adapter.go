// Package channel implements the provider adapters. Each adapter exposes
// the same capability set over a distinct provider API and folds every
// provider failure into a uniform DeliveryResult.
package channel

import "context"

// Button is one quick-reply option on an interactive message.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// DeliveryResult is the uniform outcome of one adapter call. Provider error
// bodies, transport failures and timeouts all end up here; adapters never
// return raw transport errors to the caller.
type DeliveryResult struct {
	OK                bool
	ProviderMessageID string
	Error             string
	StatusCode        int
}

func failure(detail string, statusCode int) DeliveryResult {
	return DeliveryResult{Error: detail, StatusCode: statusCode}
}

// Adapter is the channel-agnostic send surface. Implementations are
// stateless aside from credentials and safe for concurrent use.
type Adapter interface {
	Name() string
	// Configured reports whether credentials are present; unconfigured
	// adapters fail sends with a configuration error before any network
	// call.
	Configured() bool
	SendText(ctx context.Context, recipient, body string) DeliveryResult
	// SendInteractive sends body with up to 3 quick-reply buttons. Excess
	// buttons are dropped and titles truncated per provider limits; button
	// order is preserved.
	SendInteractive(ctx context.Context, recipient, body string, buttons []Button) DeliveryResult
	// SendTemplate sends a pre-approved template where the provider
	// supports it, and fails with a not-supported result where it does not.
	SendTemplate(ctx context.Context, recipient, templateName string, params map[string]any) DeliveryResult
}
