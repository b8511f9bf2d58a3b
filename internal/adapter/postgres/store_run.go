package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/Roundtable/internal/domain/run"
)

// CreateRun records a new engine run. Re-delivered run submissions hit the
// primary key and are ignored.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (run_id, thread_id, trigger_kind, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id) DO NOTHING`,
		r.ID, r.ThreadID, string(r.Trigger), string(r.Status))
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) SetRunStatus(ctx context.Context, runID string, status run.Status, errMsg string, completed bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET
		   status = $2,
		   error = COALESCE($3, error),
		   completed_at = CASE WHEN $4 THEN NOW() ELSE completed_at END
		 WHERE run_id = $1`,
		runID, string(status), nullIfEmpty(errMsg), completed)
	if err != nil {
		return fmt.Errorf("set run %s status %s: %w", runID, status, err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, threadID string) ([]run.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, thread_id, trigger_kind, status, COALESCE(error, ''), started_at, completed_at
		 FROM runs WHERE thread_id = $1
		 ORDER BY started_at DESC LIMIT 100`,
		threadID)
	if err != nil {
		return nil, fmt.Errorf("list runs %s: %w", threadID, err)
	}
	defer rows.Close()

	var runs []run.Run
	for rows.Next() {
		var r run.Run
		var trigger, status string
		if err := rows.Scan(&r.ID, &r.ThreadID, &trigger, &status, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Trigger = run.Trigger(trigger)
		r.Status = run.Status(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// AppendAgentStatus records one agent status transition. Duplicate sequence
// numbers from a replayed step are dropped on the composite key.
func (s *Store) AppendAgentStatus(ctx context.Context, ev *run.AgentStatusEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_status_events (run_id, thread_id, agent, status, note, seq)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (run_id, agent, seq) DO NOTHING`,
		ev.RunID, ev.ThreadID, ev.Agent, string(ev.Status), nullIfEmpty(ev.Note), ev.Seq)
	if err != nil {
		return fmt.Errorf("append agent status %s/%s: %w", ev.RunID, ev.Agent, err)
	}
	return nil
}

// LatestAgentStatuses returns the newest recorded status per agent across
// the thread's runs.
func (s *Store) LatestAgentStatuses(ctx context.Context, threadID string) ([]run.AgentStatusEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (agent) run_id, thread_id, agent, status, COALESCE(note, ''), seq, created_at
		 FROM agent_status_events WHERE thread_id = $1
		 ORDER BY agent, created_at DESC, seq DESC`,
		threadID)
	if err != nil {
		return nil, fmt.Errorf("latest agent statuses %s: %w", threadID, err)
	}
	defer rows.Close()

	var events []run.AgentStatusEvent
	for rows.Next() {
		var ev run.AgentStatusEvent
		var status string
		if err := rows.Scan(&ev.RunID, &ev.ThreadID, &ev.Agent, &status, &ev.Note, &ev.Seq, &ev.At); err != nil {
			return nil, fmt.Errorf("scan agent status: %w", err)
		}
		ev.Status = run.AgentStatus(status)
		events = append(events, ev)
	}
	return events, rows.Err()
}
