// Package routing defines the router's per-turn decision contract.
package routing

import (
	"encoding/json"
	"strings"

	"github.com/Strob0t/Roundtable/internal/domain/roster"
)

// Action is what the router chose to do with the current turn.
type Action string

const (
	ActionDelegate Action = "delegate"
	ActionRespond  Action = "respond"
	ActionStop     Action = "stop"
)

// Decision is the single structured outcome of one router turn.
type Decision struct {
	UserMessage string `json:"user_message"`
	Action      Action `json:"action"`
	TargetAgent string `json:"target_agent,omitempty"`
	Rationale   string `json:"rationale,omitempty"`

	// RoutingError is set when the decision was degraded from the model's
	// raw output. It is engine state, not part of the model contract.
	RoutingError string `json:"-"`
}

// Degraded-decision reason codes, recorded in State.LastRoutingError.
const (
	// FallbackRationale is recorded when the model output could not be used.
	FallbackRationale = "fallback_due_to_invalid_or_unavailable_structured_output"

	// RationaleTargetNotInRoster is recorded when a delegation named an
	// agent the roster cannot resolve.
	RationaleTargetNotInRoster = "target_agent_not_in_roster"
)

// Fallback is the safe decision used when structured output is unusable:
// respond at the router layer, never delegate, and record why.
func Fallback() Decision {
	return Decision{
		UserMessage: "Thanks for sharing that. I do not have enough confidence to delegate yet, " +
			"so I will keep this at the orchestrator layer for now.",
		Action:       ActionRespond,
		Rationale:    FallbackRationale,
		RoutingError: FallbackRationale,
	}
}

// Normalize validates a raw model decision against the roster and returns a
// decision that is always safe to act on. It never returns an error: a
// structurally invalid payload, an empty user message, or an unresolvable
// delegation target all degrade to safer actions.
func Normalize(raw json.RawMessage, r *roster.Roster) Decision {
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return Fallback()
	}

	d.UserMessage = strings.TrimSpace(d.UserMessage)
	if d.UserMessage == "" {
		return Fallback()
	}

	switch d.Action {
	case ActionDelegate, ActionRespond, ActionStop:
	default:
		d.Action = ActionRespond
	}

	if d.Action == ActionDelegate {
		canonical, ok := r.Resolve(d.TargetAgent)
		if !ok {
			// Unknown target: answer directly rather than invoking an
			// arbitrary handler by string name.
			d.Action = ActionRespond
			d.TargetAgent = ""
			d.RoutingError = RationaleTargetNotInRoster
			if d.Rationale == "" {
				d.Rationale = RationaleTargetNotInRoster
			}
			return d
		}
		d.TargetAgent = canonical
		return d
	}

	d.TargetAgent = ""
	return d
}
