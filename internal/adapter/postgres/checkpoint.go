package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/Roundtable/internal/domain/run"
)

// CheckpointStore persists engine state snapshots, one row per thread.
// The step sequence number in the WHERE clause rejects stale writers so a
// resumed run cannot be overwritten by a lagging copy of its predecessor.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

func (c *CheckpointStore) Save(ctx context.Context, st *run.State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", st.ThreadID, err)
	}

	_, err = c.pool.Exec(ctx,
		`INSERT INTO run_checkpoints (thread_id, run_id, step_seq, state, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (thread_id) DO UPDATE SET
		   run_id = EXCLUDED.run_id,
		   step_seq = EXCLUDED.step_seq,
		   state = EXCLUDED.state,
		   updated_at = NOW()
		 WHERE run_checkpoints.run_id <> EXCLUDED.run_id
		    OR run_checkpoints.step_seq < EXCLUDED.step_seq`,
		st.ThreadID, st.RunID, st.StepSeq, payload)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", st.ThreadID, err)
	}
	return nil
}

func (c *CheckpointStore) Load(ctx context.Context, threadID string) (*run.State, error) {
	var payload []byte
	err := c.pool.QueryRow(ctx,
		`SELECT state FROM run_checkpoints WHERE thread_id = $1`, threadID).Scan(&payload)
	if err != nil {
		return nil, notFoundWrap(err, "load checkpoint %s", threadID)
	}

	var st run.State
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint %s: %w", threadID, err)
	}
	return &st, nil
}
