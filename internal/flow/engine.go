package flow

import (
	"context"
	"log/slog"
	"time"

	"courier/internal/domain"
)

// Engine drives conversation state transitions against an immutable flow
// table. It owns its copy of the table; there is no package-level state.
type Engine struct {
	table  Table
	store  domain.Store
	logger *slog.Logger
}

func NewEngine(table Table, store domain.Store, logger *slog.Logger) *Engine {
	return &Engine{table: table, store: store, logger: logger}
}

// Table returns the engine's flow table.
func (e *Engine) Table() Table { return e.table }

// Transition attempts a state transition for the conversation. On success
// the new state, the derived status and a refreshed last-activity timestamp
// are persisted in one write and the conversation is mutated in place. An
// undefined (flow, state, event) combination is not an error: duplicate or
// late events are expected and must be tolerated, so the attempt is only
// logged and ok=false is returned.
func (e *Engine) Transition(ctx context.Context, conv *domain.Conversation, event string) (string, bool) {
	next, ok := e.table.Next(conv.ContextType, conv.CurrentState, event)
	if !ok {
		e.logger.Warn("invalid transition",
			"conversation", conv.ID,
			"flow", conv.ContextType,
			"state", conv.CurrentState,
			"event", event,
		)
		return "", false
	}

	oldState := conv.CurrentState
	status := conv.Status
	if s := e.table.StatusFor(conv.ContextType, next); s != "" {
		status = s
	}

	now := time.Now().UTC()
	if err := e.store.UpdateConversationState(ctx, conv.ID, next, status, now); err != nil {
		e.logger.Error("persist transition failed",
			"conversation", conv.ID, "state", next, "err", err)
		return "", false
	}

	conv.CurrentState = next
	conv.Status = status
	conv.LastActivityAt = now

	e.logger.Info("state transition",
		"conversation", conv.ID,
		"from", oldState,
		"to", next,
		"event", event,
		"status", status,
	)
	return next, true
}

// AvailableEvents exposes the current state's legal event set.
func (e *Engine) AvailableEvents(conv *domain.Conversation) []string {
	return e.table.Events(conv.ContextType, conv.CurrentState)
}
