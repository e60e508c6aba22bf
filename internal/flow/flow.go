// Package flow holds the declarative conversation flow table and the state
// machine that advances conversations through it.
package flow

import (
	"courier/internal/domain"
)

// Event names drawn from the fixed event vocabulary.
const (
	EventSend     = "on_send"
	EventReply    = "on_reply"
	EventTimeout  = "on_timeout"
	EventComplete = "on_complete"
	EventFollowup = "on_followup"
)

// InitialState is the state every conversation starts in.
const InitialState = "initial"

// State describes one node of a flow: its outgoing transitions and the
// conversation status a transition into it implies. An empty Status keeps
// the conversation's current status unchanged.
type State struct {
	Transitions map[string]string         `yaml:"transitions"`
	Status      domain.ConversationStatus `yaml:"status,omitempty"`
}

// Flow is a named template of states. Terminal states have no transitions.
type Flow map[string]State

// Table maps context type → flow definition.
type Table map[string]Flow

// Builtin returns the fixed set of flow templates. The status of each state
// is an explicit table entry rather than being inferred from the state name.
func Builtin() Table {
	return Table{
		"clarification": {
			"initial":           {Transitions: map[string]string{EventSend: "awaiting_response"}},
			"awaiting_response": {Transitions: map[string]string{EventReply: "processing", EventTimeout: "timed_out"}, Status: domain.StatusWaitingReply},
			"processing":        {Transitions: map[string]string{EventComplete: "completed", EventFollowup: "awaiting_response"}},
			"timed_out":         {Status: domain.StatusTimedOut},
			"completed":         {Status: domain.StatusCompleted},
		},
		"digest": {
			"initial":         {Transitions: map[string]string{EventSend: "awaiting_review"}},
			"awaiting_review": {Transitions: map[string]string{EventReply: "processing", EventTimeout: "timed_out"}, Status: domain.StatusWaitingReply},
			"processing":      {Transitions: map[string]string{EventComplete: "completed"}},
			"timed_out":       {Status: domain.StatusTimedOut},
			"completed":       {Status: domain.StatusCompleted},
		},
		"reminder": {
			"initial":      {Transitions: map[string]string{EventSend: "notified"}},
			"notified":     {Transitions: map[string]string{EventReply: "acknowledged"}},
			"acknowledged": {},
		},
		"monthly_call_defer": {
			"initial":  {Transitions: map[string]string{EventSend: "notified"}},
			"notified": {},
		},
		"accountant_digest": {
			"initial":         {Transitions: map[string]string{EventSend: "awaiting_action"}},
			"awaiting_action": {Transitions: map[string]string{EventReply: "processing", EventTimeout: "expired"}, Status: domain.StatusWaitingReply},
			"processing":      {Transitions: map[string]string{EventComplete: "completed"}},
			"expired":         {Status: domain.StatusTimedOut},
			"completed":       {Status: domain.StatusCompleted},
		},
		"weekly_batch": {
			"initial":            {Transitions: map[string]string{EventSend: "awaiting_responses"}},
			"awaiting_responses": {Transitions: map[string]string{EventReply: "processing", EventTimeout: "timed_out"}, Status: domain.StatusWaitingReply},
			"processing":         {Transitions: map[string]string{EventComplete: "completed", EventFollowup: "awaiting_responses"}},
			"timed_out":          {Status: domain.StatusTimedOut},
			"completed":          {Status: domain.StatusCompleted},
		},
	}
}

// Has reports whether the table defines the given context type.
func (t Table) Has(contextType string) bool {
	_, ok := t[contextType]
	return ok
}

// Next resolves a transition. ok is false when the flow, state or event is
// not defined; the caller treats that as a harmless no-op, not an error.
func (t Table) Next(contextType, state, event string) (next string, ok bool) {
	flow, found := t[contextType]
	if !found {
		return "", false
	}
	def, found := flow[state]
	if !found {
		return "", false
	}
	next, ok = def.Transitions[event]
	return next, ok
}

// StatusFor returns the explicit status for a state, or "" when entering the
// state leaves the conversation status unchanged.
func (t Table) StatusFor(contextType, state string) domain.ConversationStatus {
	if flow, ok := t[contextType]; ok {
		if def, ok := flow[state]; ok {
			return def.Status
		}
	}
	return ""
}

// Events returns the legal event set for a state, in no particular order.
func (t Table) Events(contextType, state string) []string {
	flow, ok := t[contextType]
	if !ok {
		return nil
	}
	def, ok := flow[state]
	if !ok {
		return nil
	}
	events := make([]string, 0, len(def.Transitions))
	for ev := range def.Transitions {
		events = append(events, ev)
	}
	return events
}
