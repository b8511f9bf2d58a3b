package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/Roundtable/internal/domain"
	"github.com/Strob0t/Roundtable/internal/domain/changeset"
	"github.com/Strob0t/Roundtable/internal/domain/run"
	"github.com/Strob0t/Roundtable/internal/port/database"
	"github.com/Strob0t/Roundtable/internal/port/messagequeue"
)

// ChangeSetService owns the change-set lifecycle: building a pending batch
// from staged edits, recording a human decision, and applying or discarding
// the batch. Lifecycle transitions are fanned out on the message queue for
// passive consumers.
type ChangeSetService struct {
	store   database.Store
	queue   messagequeue.Queue
	threads *ThreadService
	log     *slog.Logger
}

// NewChangeSetService creates a ChangeSetService. queue may be nil in tests.
func NewChangeSetService(store database.Store, queue messagequeue.Queue, threads *ThreadService, log *slog.Logger) *ChangeSetService {
	return &ChangeSetService{store: store, queue: queue, threads: threads, log: log}
}

// Build finalizes the run's staged edits into a pending change-set: last
// write per document wins, a unified diff is computed per document against
// the state's committed content, and the batch is persisted for review.
func (s *ChangeSetService) Build(ctx context.Context, st *run.State) (*changeset.ChangeSet, error) {
	if err := changeset.ValidateEdits(st.StagedEdits, st.KnownDoc); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}

	edits := changeset.Dedupe(st.StagedEdits)

	createdBy := st.StagedBy
	if createdBy == "" {
		createdBy = "agent"
	}

	diffs := make(map[string]string, len(edits))
	changes := make([]changeset.DocChange, 0, len(edits))
	for _, e := range edits {
		before := st.Docs[e.DocID].Content
		diff, err := changeset.UnifiedDiff(e.DocID, before, e.NewContent)
		if err != nil {
			return nil, err
		}
		diffs[e.DocID] = diff
		changes = append(changes, changeset.DocChange{
			DocID:         e.DocID,
			BeforeContent: before,
			AfterContent:  e.NewContent,
			Diff:          diff,
		})
	}

	cs := &changeset.ChangeSet{
		ID:        uuid.NewString(),
		ThreadID:  st.ThreadID,
		RunID:     st.RunID,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
		Summary:   st.StagedSummary,
		Edits:     edits,
		Diffs:     diffs,
		Status:    changeset.StatusPending,
	}

	if err := s.store.CreateChangeSet(ctx, cs, changes); err != nil {
		return nil, fmt.Errorf("create change-set: %w", err)
	}

	s.log.Info("change-set created",
		"thread_id", st.ThreadID,
		"run_id", st.RunID,
		"change_set_id", cs.ID,
		"created_by", createdBy,
		"docs", cs.DocIDs())

	s.publish(ctx, messagequeue.SubjectChangeSetCreated, map[string]any{
		"change_set_id": cs.ID,
		"thread_id":     st.ThreadID,
		"run_id":        st.RunID,
		"created_by":    createdBy,
		"docs":          cs.DocIDs(),
		"summary":       cs.Summary,
		"status":        string(cs.Status),
	})
	return cs, nil
}

// Decide records a human review decision against a pending change-set and
// moves it to the decided status. The transition is checked before any write.
func (s *ChangeSetService) Decide(ctx context.Context, cs *changeset.ChangeSet, decision changeset.Decision, comment, reviewedBy string) error {
	next := decision.StatusFor()
	if !cs.Status.CanTransition(next) {
		return fmt.Errorf("%w: change-set %s is %s, cannot move to %s",
			domain.ErrConflict, cs.ID, cs.Status, next)
	}

	if err := s.store.SetChangeSetStatus(ctx, cs.ID, next, comment, true); err != nil {
		return fmt.Errorf("set change-set status: %w", err)
	}
	if reviewedBy == "" {
		reviewedBy = "user"
	}
	review := changeset.Review{
		Decision:   decision,
		Comment:    comment,
		ReviewedBy: reviewedBy,
		ReviewedAt: time.Now().UTC(),
	}
	if err := s.store.AppendChangeSetReview(ctx, cs.ID, review); err != nil {
		return fmt.Errorf("append change-set review: %w", err)
	}

	cs.Status = next
	cs.DecisionNote = comment

	s.log.Info("change-set decided",
		"thread_id", cs.ThreadID,
		"change_set_id", cs.ID,
		"decision", string(decision),
		"status", string(next))

	s.publish(ctx, messagequeue.SubjectChangeSetDecided, map[string]any{
		"change_set_id": cs.ID,
		"thread_id":     cs.ThreadID,
		"decision":      string(decision),
		"status":        string(next),
	})
	return nil
}

// Apply commits an approved change-set's edits to the thread's documents in
// one transaction and returns the doc ids written. The document cache entry
// for the thread is dropped afterwards.
func (s *ChangeSetService) Apply(ctx context.Context, threadID string, cs *changeset.ChangeSet) ([]string, error) {
	if cs.Status != changeset.StatusApproved {
		return nil, fmt.Errorf("%w: change-set %s is %s, only approved applies",
			domain.ErrConflict, cs.ID, cs.Status)
	}

	applied, err := s.store.ApplyChangeSet(ctx, threadID, cs)
	if err != nil {
		return nil, fmt.Errorf("apply change-set %s: %w", cs.ID, err)
	}
	cs.Status = changeset.StatusApplied

	if s.threads != nil {
		s.threads.InvalidateDocs(ctx, threadID)
	}

	s.log.Info("change-set applied",
		"thread_id", threadID, "change_set_id", cs.ID, "docs", applied)

	s.publish(ctx, messagequeue.SubjectChangeSetApplied, map[string]any{
		"change_set_id": cs.ID,
		"thread_id":     threadID,
		"docs":          applied,
	})
	return applied, nil
}

// Discard announces that a rejected or change-requested batch was dropped
// without touching any document. The decided status was already persisted.
func (s *ChangeSetService) Discard(ctx context.Context, threadID string, cs *changeset.ChangeSet) {
	s.log.Info("change-set discarded",
		"thread_id", threadID, "change_set_id", cs.ID, "status", string(cs.Status))

	s.publish(ctx, messagequeue.SubjectChangeSetDiscarded, map[string]any{
		"change_set_id": cs.ID,
		"thread_id":     threadID,
		"status":        string(cs.Status),
	})
}

// List returns the thread's change-sets, newest first.
func (s *ChangeSetService) List(ctx context.Context, threadID string) ([]changeset.Detail, error) {
	return s.store.ListChangeSets(ctx, threadID)
}

// Get returns one change-set with its per-document changes and reviews.
func (s *ChangeSetService) Get(ctx context.Context, threadID, changeSetID string) (*changeset.Detail, error) {
	return s.store.GetChangeSet(ctx, threadID, changeSetID)
}

// Pending returns the thread's pending change-set, or domain.ErrNotFound.
func (s *ChangeSetService) Pending(ctx context.Context, threadID string) (*changeset.Detail, error) {
	return s.store.PendingChangeSet(ctx, threadID)
}

func (s *ChangeSetService) publish(ctx context.Context, subject string, payload map[string]any) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		s.log.Warn("change-set event publish failed", "subject", subject, "error", err)
	}
}
