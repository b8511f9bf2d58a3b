package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/Roundtable/internal/domain/conversation"
	"github.com/Strob0t/Roundtable/internal/domain/document"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Threads ---

func (s *Store) EnsureThread(ctx context.Context, threadID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO threads (thread_id) VALUES ($1)
		 ON CONFLICT (thread_id) DO NOTHING`, threadID)
	if err != nil {
		return fmt.Errorf("ensure thread %s: %w", threadID, err)
	}
	return nil
}

func (s *Store) ThreadDocsBootstrapped(ctx context.Context, threadID string) (bool, error) {
	var bootstrapped bool
	err := s.pool.QueryRow(ctx,
		`SELECT docs_bootstrapped FROM threads WHERE thread_id = $1`, threadID,
	).Scan(&bootstrapped)
	if err != nil {
		return false, notFoundWrap(err, "thread %s", threadID)
	}
	return bootstrapped, nil
}

func (s *Store) MarkDocsBootstrapped(ctx context.Context, threadID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE threads SET docs_bootstrapped = TRUE WHERE thread_id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("mark docs bootstrapped %s: %w", threadID, err)
	}
	return nil
}

// --- Messages ---

// CreateMessage inserts a conversation message. A duplicate id means the row
// was already persisted by an earlier attempt and is not an error.
func (s *Store) CreateMessage(ctx context.Context, m *conversation.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, thread_id, run_id, role, agent, content, tool_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		m.ID, m.ThreadID, nullIfEmpty(m.RunID), string(m.Role), nullIfEmpty(m.Agent), m.Content, nullIfEmpty(m.ToolName))
	if err != nil {
		return fmt.Errorf("create message %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, threadID string) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, thread_id, COALESCE(run_id, ''), role, COALESCE(agent, ''), content, COALESCE(tool_name, ''), created_at
		 FROM messages WHERE thread_id = $1 ORDER BY created_at ASC, id ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w", threadID, err)
	}
	defer rows.Close()

	var result []conversation.Message
	for rows.Next() {
		var m conversation.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.RunID, &role, &m.Agent, &m.Content, &m.ToolName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = conversation.Role(role)
		result = append(result, m)
	}
	return result, rows.Err()
}

// --- Documents ---

// SeedDocuments inserts the bootstrap documents for a thread. Existing rows
// are left untouched so re-seeding after a crash is safe.
func (s *Store) SeedDocuments(ctx context.Context, threadID string, docs []document.Document) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("seed documents begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, d := range docs {
		_, err := tx.Exec(ctx,
			`INSERT INTO docs (thread_id, doc_id, title, content, description, version)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (thread_id, doc_id) DO NOTHING`,
			threadID, d.DocID, d.Title, d.Content, d.Description, d.Version)
		if err != nil {
			return fmt.Errorf("seed doc %s: %w", d.DocID, err)
		}
	}
	return tx.Commit(ctx)
}

const docColumns = `doc_id, thread_id, title, content, description, version, COALESCE(updated_by, ''), updated_at`

func scanDocument(scanner interface{ Scan(dest ...any) error }) (document.Document, error) {
	var d document.Document
	err := scanner.Scan(&d.DocID, &d.ThreadID, &d.Title, &d.Content, &d.Description, &d.Version, &d.UpdatedBy, &d.UpdatedAt)
	return d, err
}

func (s *Store) ListDocuments(ctx context.Context, threadID string) ([]document.Document, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM docs WHERE thread_id = $1 ORDER BY doc_id ASC`, docColumns), threadID)
	if err != nil {
		return nil, fmt.Errorf("list documents %s: %w", threadID, err)
	}
	defer rows.Close()

	var result []document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) GetDocument(ctx context.Context, threadID, docID string) (*document.Document, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM docs WHERE thread_id = $1 AND doc_id = $2`, docColumns), threadID, docID)

	d, err := scanDocument(row)
	if err != nil {
		return nil, notFoundWrap(err, "get document %s/%s", threadID, docID)
	}
	return &d, nil
}

func (s *Store) ListDocumentRevisions(ctx context.Context, threadID, docID string) ([]document.Revision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT thread_id, doc_id, version, content, summary, COALESCE(updated_by, ''), COALESCE(change_set_id::text, ''), created_at
		 FROM doc_versions WHERE thread_id = $1 AND doc_id = $2 ORDER BY version ASC`, threadID, docID)
	if err != nil {
		return nil, fmt.Errorf("list revisions %s/%s: %w", threadID, docID, err)
	}
	defer rows.Close()

	var result []document.Revision
	for rows.Next() {
		var r document.Revision
		if err := rows.Scan(&r.ThreadID, &r.DocID, &r.Version, &r.Content, &r.Summary, &r.UpdatedBy, &r.ChangeSetID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
