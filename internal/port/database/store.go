// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/Strob0t/Roundtable/internal/domain/changeset"
	"github.com/Strob0t/Roundtable/internal/domain/conversation"
	"github.com/Strob0t/Roundtable/internal/domain/document"
	"github.com/Strob0t/Roundtable/internal/domain/run"
)

// Store is the port interface for the durable domain tables. Writes that the
// engine may retry after a crash (messages, change-sets, status rows) must be
// idempotent: duplicate keys are swallowed, not surfaced.
type Store interface {
	// Threads
	EnsureThread(ctx context.Context, threadID string) error
	ThreadDocsBootstrapped(ctx context.Context, threadID string) (bool, error)
	MarkDocsBootstrapped(ctx context.Context, threadID string) error

	// Messages
	CreateMessage(ctx context.Context, m *conversation.Message) error
	ListMessages(ctx context.Context, threadID string) ([]conversation.Message, error)

	// Documents
	SeedDocuments(ctx context.Context, threadID string, docs []document.Document) error
	ListDocuments(ctx context.Context, threadID string) ([]document.Document, error)
	GetDocument(ctx context.Context, threadID, docID string) (*document.Document, error)
	ListDocumentRevisions(ctx context.Context, threadID, docID string) ([]document.Revision, error)

	// Change-sets
	CreateChangeSet(ctx context.Context, cs *changeset.ChangeSet, changes []changeset.DocChange) error
	SetChangeSetStatus(ctx context.Context, changeSetID string, status changeset.Status, decisionNote string, decided bool) error
	AppendChangeSetReview(ctx context.Context, changeSetID string, review changeset.Review) error
	ListChangeSets(ctx context.Context, threadID string) ([]changeset.Detail, error)
	GetChangeSet(ctx context.Context, threadID, changeSetID string) (*changeset.Detail, error)
	PendingChangeSet(ctx context.Context, threadID string) (*changeset.Detail, error)

	// ApplyChangeSet commits all edits of an approved change-set and flips its
	// status to applied in one transaction. Version bumps only when content
	// changed; absent documents are skipped. Returns the doc ids written.
	ApplyChangeSet(ctx context.Context, threadID string, cs *changeset.ChangeSet) ([]string, error)

	// Runs
	CreateRun(ctx context.Context, r *run.Run) error
	SetRunStatus(ctx context.Context, runID string, status run.Status, errMsg string, completed bool) error
	ListRuns(ctx context.Context, threadID string) ([]run.Run, error)
	AppendAgentStatus(ctx context.Context, ev *run.AgentStatusEvent) error
	LatestAgentStatuses(ctx context.Context, threadID string) ([]run.AgentStatusEvent, error)
}
