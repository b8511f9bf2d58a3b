// Package checkpoint defines the port for durable run-state checkpoints.
package checkpoint

import (
	"context"

	"github.com/Strob0t/Roundtable/internal/domain/run"
)

// Store persists the engine's run state after every step so a suspended or
// crashed run can resume in a different process. One checkpoint per thread:
// saving overwrites the previous step's snapshot, and the step sequence
// number makes stale overwrites detectable.
type Store interface {
	// Save persists the state as the thread's current checkpoint.
	Save(ctx context.Context, st *run.State) error

	// Load returns the thread's current checkpoint, or domain.ErrNotFound.
	Load(ctx context.Context, threadID string) (*run.State, error)
}
