package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/Roundtable/internal/domain"
	"github.com/Strob0t/Roundtable/internal/domain/changeset"
)

// CreateChangeSet persists a pending change-set with its per-document
// before/after content and diff. The insert is keyed on the change-set id so
// a retried build after a crash lands on the same record.
func (s *Store) CreateChangeSet(ctx context.Context, cs *changeset.ChangeSet, changes []changeset.DocChange) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create changeset begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO change_sets (change_set_id, thread_id, run_id, created_by, summary, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (change_set_id) DO NOTHING`,
		cs.ID, cs.ThreadID, nullIfEmpty(cs.RunID), cs.CreatedBy, cs.Summary, string(cs.Status))
	if err != nil {
		return fmt.Errorf("insert changeset %s: %w", cs.ID, err)
	}

	for _, c := range changes {
		_, err := tx.Exec(ctx,
			`INSERT INTO change_set_docs (change_set_id, thread_id, doc_id, before_content, after_content, diff)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (change_set_id, doc_id) DO UPDATE SET
			   before_content = EXCLUDED.before_content,
			   after_content = EXCLUDED.after_content,
			   diff = EXCLUDED.diff`,
			cs.ID, cs.ThreadID, c.DocID, c.BeforeContent, c.AfterContent, c.Diff)
		if err != nil {
			return fmt.Errorf("insert changeset doc %s/%s: %w", cs.ID, c.DocID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) SetChangeSetStatus(ctx context.Context, changeSetID string, status changeset.Status, decisionNote string, decided bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE change_sets SET
		   status = $2,
		   decision_note = COALESCE($3, decision_note),
		   decided_at = CASE WHEN $4 THEN NOW() ELSE decided_at END
		 WHERE change_set_id = $1`,
		changeSetID, string(status), nullIfEmpty(decisionNote), decided)
	if err != nil {
		return fmt.Errorf("set changeset %s status %s: %w", changeSetID, status, err)
	}
	return nil
}

func (s *Store) AppendChangeSetReview(ctx context.Context, changeSetID string, review changeset.Review) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO change_set_reviews (change_set_id, decision, comment, reviewed_by)
		 VALUES ($1, $2, $3, $4)`,
		changeSetID, string(review.Decision), nullIfEmpty(review.Comment), review.ReviewedBy)
	if err != nil {
		return fmt.Errorf("append review %s: %w", changeSetID, err)
	}
	return nil
}

const changeSetColumns = `change_set_id, thread_id, COALESCE(run_id::text, ''), created_by, summary, status, created_at, decided_at, COALESCE(decision_note, '')`

func scanChangeSet(scanner interface{ Scan(dest ...any) error }) (changeset.ChangeSet, error) {
	var cs changeset.ChangeSet
	var status string
	err := scanner.Scan(&cs.ID, &cs.ThreadID, &cs.RunID, &cs.CreatedBy, &cs.Summary, &status, &cs.CreatedAt, &cs.DecidedAt, &cs.DecisionNote)
	cs.Status = changeset.Status(status)
	return cs, err
}

// loadDocChanges populates Docs, Diffs, and DocChanges for a change-set.
func (s *Store) loadDocChanges(ctx context.Context, detail *changeset.Detail) error {
	rows, err := s.pool.Query(ctx,
		`SELECT doc_id, before_content, after_content, diff
		 FROM change_set_docs WHERE change_set_id = $1 ORDER BY doc_id ASC`, detail.ID)
	if err != nil {
		return fmt.Errorf("load changeset docs %s: %w", detail.ID, err)
	}
	defer rows.Close()

	detail.Diffs = make(map[string]string)
	for rows.Next() {
		var c changeset.DocChange
		if err := rows.Scan(&c.DocID, &c.BeforeContent, &c.AfterContent, &c.Diff); err != nil {
			return fmt.Errorf("scan changeset doc: %w", err)
		}
		detail.Docs = append(detail.Docs, c.DocID)
		detail.Diffs[c.DocID] = c.Diff
		detail.DocChanges = append(detail.DocChanges, c)
		detail.Edits = append(detail.Edits, changeset.StagedEdit{DocID: c.DocID, NewContent: c.AfterContent})
	}
	return rows.Err()
}

func (s *Store) loadReviews(ctx context.Context, detail *changeset.Detail) error {
	rows, err := s.pool.Query(ctx,
		`SELECT decision, COALESCE(comment, ''), reviewed_by, reviewed_at
		 FROM change_set_reviews WHERE change_set_id = $1 ORDER BY reviewed_at ASC`, detail.ID)
	if err != nil {
		return fmt.Errorf("load reviews %s: %w", detail.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r changeset.Review
		var decision string
		if err := rows.Scan(&decision, &r.Comment, &r.ReviewedBy, &r.ReviewedAt); err != nil {
			return fmt.Errorf("scan review: %w", err)
		}
		r.Decision = changeset.Decision(decision)
		detail.Reviews = append(detail.Reviews, r)
	}
	return rows.Err()
}

func (s *Store) ListChangeSets(ctx context.Context, threadID string) ([]changeset.Detail, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM change_sets WHERE thread_id = $1 ORDER BY created_at ASC`, changeSetColumns), threadID)
	if err != nil {
		return nil, fmt.Errorf("list changesets %s: %w", threadID, err)
	}
	defer rows.Close()

	var details []changeset.Detail
	for rows.Next() {
		cs, err := scanChangeSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan changeset: %w", err)
		}
		details = append(details, changeset.Detail{ChangeSet: cs})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range details {
		if err := s.loadDocChanges(ctx, &details[i]); err != nil {
			return nil, err
		}
	}
	return details, nil
}

func (s *Store) GetChangeSet(ctx context.Context, threadID, changeSetID string) (*changeset.Detail, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM change_sets WHERE thread_id = $1 AND change_set_id = $2`, changeSetColumns),
		threadID, changeSetID)

	cs, err := scanChangeSet(row)
	if err != nil {
		return nil, notFoundWrap(err, "get changeset %s", changeSetID)
	}

	detail := &changeset.Detail{ChangeSet: cs}
	if err := s.loadDocChanges(ctx, detail); err != nil {
		return nil, err
	}
	if err := s.loadReviews(ctx, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

// PendingChangeSet returns the thread's single pending change-set, or
// domain.ErrNotFound. A partial unique index guarantees at most one exists.
func (s *Store) PendingChangeSet(ctx context.Context, threadID string) (*changeset.Detail, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM change_sets WHERE thread_id = $1 AND status = 'pending'`, changeSetColumns), threadID)

	cs, err := scanChangeSet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pending changeset %s: %w", threadID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("pending changeset %s: %w", threadID, err)
	}

	detail := &changeset.Detail{ChangeSet: cs}
	if err := s.loadDocChanges(ctx, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

// ApplyChangeSet commits every edit of an approved change-set in a single
// transaction: per-document content replacement with an optimistic version
// bump (content change only), a retained revision row, and the change-set's
// own flip to applied. Row locks on the selected docs keep two concurrent
// applies from clobbering each other's version counters.
func (s *Store) ApplyChangeSet(ctx context.Context, threadID string, cs *changeset.ChangeSet) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply changeset begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var applied []string
	for _, edit := range changeset.Dedupe(cs.Edits) {
		var oldContent string
		var oldVersion int
		err := tx.QueryRow(ctx,
			`SELECT content, version FROM docs
			 WHERE thread_id = $1 AND doc_id = $2 FOR UPDATE`,
			threadID, edit.DocID).Scan(&oldContent, &oldVersion)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Absent documents are skipped, never fabricated here.
				continue
			}
			return nil, fmt.Errorf("apply lock doc %s: %w", edit.DocID, err)
		}

		contentChanged := oldContent != edit.NewContent
		nextVersion := oldVersion
		if contentChanged {
			nextVersion = oldVersion + 1
		}

		_, err = tx.Exec(ctx,
			`UPDATE docs SET
			   content = $3,
			   description = $4,
			   version = $5,
			   updated_by = $6,
			   updated_at = NOW()
			 WHERE thread_id = $1 AND doc_id = $2 AND version = $7`,
			threadID, edit.DocID, edit.NewContent, cs.Summary, nextVersion, cs.CreatedBy, oldVersion)
		if err != nil {
			return nil, fmt.Errorf("apply update doc %s: %w", edit.DocID, err)
		}

		if contentChanged {
			_, err = tx.Exec(ctx,
				`INSERT INTO doc_versions (thread_id, doc_id, version, content, summary, updated_by, change_set_id)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				threadID, edit.DocID, nextVersion, edit.NewContent, cs.Summary, cs.CreatedBy, cs.ID)
			if err != nil {
				return nil, fmt.Errorf("apply revision %s: %w", edit.DocID, err)
			}
		}
		applied = append(applied, edit.DocID)
	}

	_, err = tx.Exec(ctx,
		`UPDATE change_sets SET status = 'applied', decided_at = COALESCE(decided_at, NOW())
		 WHERE change_set_id = $1`, cs.ID)
	if err != nil {
		return nil, fmt.Errorf("apply flip status %s: %w", cs.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("apply changeset commit: %w", err)
	}
	return applied, nil
}
