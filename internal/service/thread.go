package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/Roundtable/internal/domain"
	"github.com/Strob0t/Roundtable/internal/domain/changeset"
	"github.com/Strob0t/Roundtable/internal/domain/conversation"
	"github.com/Strob0t/Roundtable/internal/domain/document"
	"github.com/Strob0t/Roundtable/internal/domain/run"
	"github.com/Strob0t/Roundtable/internal/port/cache"
	"github.com/Strob0t/Roundtable/internal/port/database"
)

// Snapshot is the full read model of a thread for clients catching up after a
// reload: history, documents, runs, latest agent statuses, and the pending
// change-set if one awaits a decision.
type Snapshot struct {
	ThreadID         string                 `json:"thread_id"`
	Messages         []conversation.Message `json:"messages"`
	Docs             []document.Document    `json:"docs"`
	Runs             []run.Run              `json:"runs"`
	AgentStatuses    []run.AgentStatusEvent `json:"agent_statuses"`
	PendingChangeSet *changeset.Detail      `json:"pending_change_set,omitempty"`
}

// ThreadService manages thread lifecycle and read models. Document reads go
// through the cache; every applied change-set invalidates the thread's entry.
type ThreadService struct {
	store    database.Store
	cache    cache.Cache
	cacheTTL time.Duration
	log      *slog.Logger
}

// NewThreadService creates a ThreadService. cache may be nil to disable
// document caching.
func NewThreadService(store database.Store, c cache.Cache, cacheTTL time.Duration, log *slog.Logger) *ThreadService {
	return &ThreadService{store: store, cache: c, cacheTTL: cacheTTL, log: log}
}

// EnsureReady upserts the thread and seeds its document set on first contact.
// Seeding is idempotent so a crash between seed and mark re-runs safely.
func (s *ThreadService) EnsureReady(ctx context.Context, threadID string) error {
	if err := s.store.EnsureThread(ctx, threadID); err != nil {
		return fmt.Errorf("ensure thread %s: %w", threadID, err)
	}

	done, err := s.store.ThreadDocsBootstrapped(ctx, threadID)
	if err != nil {
		return fmt.Errorf("docs bootstrap check %s: %w", threadID, err)
	}
	if done {
		return nil
	}

	if err := s.store.SeedDocuments(ctx, threadID, document.Bootstrap()); err != nil {
		return fmt.Errorf("seed documents %s: %w", threadID, err)
	}
	if err := s.store.MarkDocsBootstrapped(ctx, threadID); err != nil {
		return fmt.Errorf("mark docs bootstrapped %s: %w", threadID, err)
	}
	s.log.Info("thread documents bootstrapped", "thread_id", threadID)
	return nil
}

func docsCacheKey(threadID string) string {
	return "thread:docs:" + threadID
}

// Documents lists the thread's documents, served from cache when warm.
func (s *ThreadService) Documents(ctx context.Context, threadID string) ([]document.Document, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, docsCacheKey(threadID)); err == nil && ok {
			var docs []document.Document
			if err := json.Unmarshal(data, &docs); err == nil {
				return docs, nil
			}
		}
	}

	docs, err := s.store.ListDocuments(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("list documents %s: %w", threadID, err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(docs); err == nil {
			if err := s.cache.Set(ctx, docsCacheKey(threadID), data, s.cacheTTL); err != nil {
				s.log.Warn("docs cache set failed", "thread_id", threadID, "error", err)
			}
		}
	}
	return docs, nil
}

// DocumentsMap returns the thread's documents keyed by doc_id, the shape the
// run state carries.
func (s *ThreadService) DocumentsMap(ctx context.Context, threadID string) (map[string]document.Document, error) {
	docs, err := s.Documents(ctx, threadID)
	if err != nil {
		return nil, err
	}
	m := make(map[string]document.Document, len(docs))
	for _, d := range docs {
		m[d.DocID] = d
	}
	return m, nil
}

// InvalidateDocs drops the thread's cached document list.
func (s *ThreadService) InvalidateDocs(ctx context.Context, threadID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, docsCacheKey(threadID)); err != nil {
		s.log.Warn("docs cache invalidate failed", "thread_id", threadID, "error", err)
	}
}

// Document returns one document of the thread.
func (s *ThreadService) Document(ctx context.Context, threadID, docID string) (*document.Document, error) {
	return s.store.GetDocument(ctx, threadID, docID)
}

// DocumentRevisions returns the retained version history of a document,
// newest first.
func (s *ThreadService) DocumentRevisions(ctx context.Context, threadID, docID string) ([]document.Revision, error) {
	return s.store.ListDocumentRevisions(ctx, threadID, docID)
}

// Messages returns the thread's full conversation history in order.
func (s *ThreadService) Messages(ctx context.Context, threadID string) ([]conversation.Message, error) {
	return s.store.ListMessages(ctx, threadID)
}

// Runs returns the thread's recent runs, newest first.
func (s *ThreadService) Runs(ctx context.Context, threadID string) ([]run.Run, error) {
	return s.store.ListRuns(ctx, threadID)
}

// AgentStatuses returns the latest persisted status per agent for the thread.
func (s *ThreadService) AgentStatuses(ctx context.Context, threadID string) ([]run.AgentStatusEvent, error) {
	return s.store.LatestAgentStatuses(ctx, threadID)
}

// Snapshot assembles the thread read model in one call.
func (s *ThreadService) Snapshot(ctx context.Context, threadID string) (*Snapshot, error) {
	msgs, err := s.store.ListMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("snapshot messages %s: %w", threadID, err)
	}
	docs, err := s.Documents(ctx, threadID)
	if err != nil {
		return nil, err
	}
	runs, err := s.store.ListRuns(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("snapshot runs %s: %w", threadID, err)
	}
	statuses, err := s.store.LatestAgentStatuses(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("snapshot agent statuses %s: %w", threadID, err)
	}

	snap := &Snapshot{
		ThreadID:      threadID,
		Messages:      msgs,
		Docs:          docs,
		Runs:          runs,
		AgentStatuses: statuses,
	}

	pending, err := s.store.PendingChangeSet(ctx, threadID)
	switch {
	case err == nil:
		snap.PendingChangeSet = pending
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, fmt.Errorf("snapshot pending change-set %s: %w", threadID, err)
	}
	return snap, nil
}
