package http

import (
	"context"
	"time"

	"github.com/Strob0t/Roundtable/internal/adapter/litellm"
	"github.com/Strob0t/Roundtable/internal/domain/changeset"
	"github.com/Strob0t/Roundtable/internal/domain/run"
	"github.com/Strob0t/Roundtable/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// RunEngine starts and resumes runs. Satisfied by service.Engine.
type RunEngine interface {
	Chat(ctx context.Context, threadID, message string) (*run.Run, *service.Stream, error)
	Resume(ctx context.Context, threadID string, payload changeset.DecisionPayload) (*run.Run, *service.Stream, error)
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Engine     RunEngine
	Threads    *service.ThreadService
	ChangeSets *service.ChangeSetService
	LiteLLM    *litellm.Client

	// SSE pacing. Heartbeat inserts keepalives during quiet stretches;
	// StallDeadline ends a silent stream with a run.error frame.
	Heartbeat     time.Duration
	StallDeadline time.Duration
}
