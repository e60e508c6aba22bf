// Package ratelimit enforces per-contact send quotas over fixed windows.
package ratelimit

import (
	"fmt"
	"time"
)

// Default quotas, overridable in config.
const (
	DefaultMaxPerHour = 10
	DefaultMaxPerDay  = 30
)

// CounterStore is the shared counter backend. The in-memory implementation
// below suffices for a single instance; a multi-instance deployment swaps in
// a shared store behind the same interface.
type CounterStore interface {
	// Get returns the current value of a counter, 0 when absent or expired.
	Get(key string) int
	// Increment adds 1 to a counter, creating it with the given TTL when
	// absent. An existing counter keeps its original expiry.
	Increment(key string, ttl time.Duration)
}

// Limiter caps outbound messages per contact with an hourly and a daily
// counter. Check and Record are deliberately separate calls: the limiter is
// advisory, and two concurrent sends for one contact may both pass Check
// before either Records. Callers Check before sending and Record only after
// a confirmed successful send.
type Limiter struct {
	store      CounterStore
	maxPerHour int
	maxPerDay  int
}

func New(store CounterStore, maxPerHour, maxPerDay int) *Limiter {
	if maxPerHour <= 0 {
		maxPerHour = DefaultMaxPerHour
	}
	if maxPerDay <= 0 {
		maxPerDay = DefaultMaxPerDay
	}
	return &Limiter{store: store, maxPerHour: maxPerHour, maxPerDay: maxPerDay}
}

func hourlyKey(contactID string) string { return "msg_rate:" + contactID + ":hourly" }
func dailyKey(contactID string) string  { return "msg_rate:" + contactID + ":daily" }

// Check reports whether the contact may receive a message. The reason names
// the exhausted window when denied.
func (l *Limiter) Check(contactID string) (bool, string) {
	if l.store.Get(hourlyKey(contactID)) >= l.maxPerHour {
		return false, fmt.Sprintf("hourly limit (%d) exceeded", l.maxPerHour)
	}
	if l.store.Get(dailyKey(contactID)) >= l.maxPerDay {
		return false, fmt.Sprintf("daily limit (%d) exceeded", l.maxPerDay)
	}
	return true, ""
}

// Record counts one sent message against both windows.
func (l *Limiter) Record(contactID string) {
	l.store.Increment(hourlyKey(contactID), time.Hour)
	l.store.Increment(dailyKey(contactID), 24*time.Hour)
}
