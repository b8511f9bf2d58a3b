package run

import "fmt"

// DefaultMaxIterations bounds delegation loops when no explicit limit is set.
const DefaultMaxIterations = 4

// NoopLimit halts the run after this many consecutive delegated turns with no
// observable activity.
const NoopLimit = 2

// Guardrail halt reason codes, recorded in State.LastRoutingError.
const (
	ReasonMaxIterations   = "max_iterations_reached"
	ReasonConsecutiveNoop = "consecutive_noop_guardrail"
)

// Halt describes a guardrail stop: a controlled, user-visible end of the
// delegation loop, not an error.
type Halt struct {
	Reason  string
	Message string
}

// BeginRouterTurn runs the guardrail bookkeeping that precedes every router
// turn. It first settles the noop counter against the cursor recorded at the
// last delegation, then evaluates both limits. A non-nil Halt means the
// router must not act this turn; the halt has already been applied to the
// state (loop_status, next_agent, last_routing_error).
func (s *State) BeginRouterTurn() *Halt {
	if s.PrevTurnDelegated {
		if s.HistoryLen() <= s.HistoryCursorAtLastDelegate {
			s.ConsecutiveNoopCount++
		} else {
			s.ConsecutiveNoopCount = 0
		}
	}

	if halt := s.checkGuardrails(); halt != nil {
		s.LoopStatus = LoopGuardrailStop
		s.NextAgent = ""
		s.LastRoutingError = halt.Reason
		return halt
	}
	return nil
}

// checkGuardrails is a pure computation over the current counters.
func (s *State) checkGuardrails() *Halt {
	if s.IterationCount >= s.MaxIterations {
		return &Halt{
			Reason: ReasonMaxIterations,
			Message: fmt.Sprintf(
				"I have reached the delegation limit for this run (%d turns), so I am pausing here. "+
					"Send another message to continue.", s.MaxIterations),
		}
	}
	limit := s.NoopLimit
	if limit <= 0 {
		limit = NoopLimit
	}
	if s.ConsecutiveNoopCount >= limit {
		return &Halt{
			Reason: ReasonConsecutiveNoop,
			Message: "The last delegated specialists produced no visible activity, so I am stopping " +
				"this run rather than looping. Send another message to continue.",
		}
	}
	return nil
}
