// Package sweep expires conversations that waited too long for a reply.
// The external scheduler decides when to run it; hourly is the intended
// cadence.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"courier/internal/domain"
	"courier/internal/flow"
	"courier/internal/hub"
	"courier/internal/metrics"
)

// Sweeper drives on_timeout for every waiting_reply conversation whose
// deadline has passed.
type Sweeper struct {
	store    domain.Store
	engine   *flow.Engine
	notifier *hub.Notifier
	logger   *slog.Logger
}

func New(store domain.Store, engine *flow.Engine, notifier *hub.Notifier, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, engine: engine, notifier: notifier, logger: logger}
}

// Run scans for overdue conversations and returns how many were timed out.
// Conversations whose flow has no on_timeout transition in the current
// state are skipped without effect; the sweep and live webhook processing
// may race on the same conversation, and the state machine's invalid
// transition tolerance makes the loser a no-op.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	overdue, err := s.store.ListTimedOut(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range overdue {
		conv := &overdue[i]
		if _, ok := s.engine.Transition(ctx, conv, flow.EventTimeout); !ok {
			continue
		}
		count++
		metrics.ConversationsTimedOut.Inc()

		if !s.notifier.ConversationTimedOut(ctx, conv.ID, conv.ContactID, conv.ContextType, conv.ContextID) {
			metrics.HubCallbackFailures.Inc()
		}
		s.logger.Info("conversation timed out", "conversation", conv.ID)
	}

	s.logger.Info("timeout sweep finished", "checked", len(overdue), "timed_out", count)
	return count, nil
}
