package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tracefold/tracefold/internal/services/provenance/storage"
)

const checkpointKey = "last_indexed_block"

// Checkpoint returns the last fully indexed block position.
func (s *Store) Checkpoint(ctx context.Context) (uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if err := s.ready(); err != nil {
		return 0, false, err
	}

	var position int64
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT position FROM indexer_state WHERE key = ?`, checkpointKey)
	if err := row.Scan(&position); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}
	return uint64(position), true, nil
}

// SetCheckpoint durably advances the indexing cursor. The loop is the only
// writer, so a read-then-write regression check is sufficient.
func (s *Store) SetCheckpoint(ctx context.Context, position uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	current, ok, err := s.Checkpoint(ctx)
	if err != nil {
		return err
	}
	if ok && position < current {
		return fmt.Errorf("set checkpoint %d below %d: %w",
			position, current, storage.ErrCheckpointRegression)
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO indexer_state (key, position, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at`,
		checkpointKey, int64(position), toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}
