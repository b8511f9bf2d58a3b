// Package specialist defines the external-collaborator port for persona
// workers the router can delegate to.
package specialist

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/Roundtable/internal/domain/changeset"
	"github.com/Strob0t/Roundtable/internal/domain/roster"
	"github.com/Strob0t/Roundtable/internal/domain/run"
)

// ToolCall records one tool invocation of a worker turn, surfaced on the
// external event stream.
type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result string          `json:"result,omitempty"`
}

// Outcome is everything a worker turn produced. Staged edits, when present,
// route control to the change-set builder; that hand-off is a control-flow
// effect of the engine, not of the worker.
type Outcome struct {
	Messages    []string               `json:"messages,omitempty"`
	ToolCalls   []ToolCall             `json:"tool_calls,omitempty"`
	StagedEdits []changeset.StagedEdit `json:"staged_edits,omitempty"`
	Summary     string                 `json:"summary,omitempty"`
	By          string                 `json:"by,omitempty"`
}

// Worker is one delegatable specialist. Run receives the current run state
// read-only; all state mutation happens in the engine from the Outcome.
type Worker interface {
	Specialist() roster.Specialist
	Run(ctx context.Context, st *run.State) (*Outcome, error)
}
