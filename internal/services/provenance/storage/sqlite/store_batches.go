package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tracefold/tracefold/internal/chain"
	"github.com/tracefold/tracefold/internal/platform/pagination"
	"github.com/tracefold/tracefold/internal/services/provenance/storage"
)

const batchColumns = `batch_id, product_id, quantity, creator, current_owner,
	created_at, recalled, recall_reason, recalled_by, recalled_at,
	recall_block, recall_log_index, tx_hash, block_number`

// UpsertBatch inserts or replaces a batch by natural id. The recall columns
// are preserved on conflict so a replayed creation cannot clear a recall.
func (s *Store) UpsertBatch(ctx context.Context, batch storage.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if batch.BatchID == 0 {
		return fmt.Errorf("batch id is required")
	}
	if batch.ProductID == 0 {
		return fmt.Errorf("product id is required")
	}
	if batch.Quantity == 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if strings.TrimSpace(batch.Creator) == "" {
		return fmt.Errorf("creator is required")
	}

	owner := batch.CurrentOwner
	if strings.TrimSpace(owner) == "" {
		owner = batch.Creator
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO batches (batch_id, product_id, quantity, creator, current_owner,
		   created_at, tx_hash, block_number)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(batch_id) DO UPDATE SET
		   product_id = excluded.product_id,
		   quantity = excluded.quantity,
		   creator = excluded.creator,
		   created_at = excluded.created_at,
		   tx_hash = excluded.tx_hash,
		   block_number = excluded.block_number`,
		int64(batch.BatchID),
		int64(batch.ProductID),
		int64(batch.Quantity),
		batch.Creator,
		owner,
		toMillis(batch.CreatedAt),
		batch.TxHash,
		int64(batch.BlockNumber),
	)
	if err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	return nil
}

// GetBatch returns one batch by natural id.
func (s *Store) GetBatch(ctx context.Context, batchID uint64) (storage.Batch, error) {
	if err := ctx.Err(); err != nil {
		return storage.Batch{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Batch{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE batch_id = ?`, int64(batchID))
	batch, err := scanBatch(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.Batch{}, storage.ErrNotFound
		}
		return storage.Batch{}, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// ListBatches returns a filtered page of batches ordered by creation time
// descending, plus the total matching count.
func (s *Store) ListBatches(ctx context.Context, filter storage.BatchFilter, page pagination.Page) ([]storage.Batch, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if err := s.ready(); err != nil {
		return nil, 0, err
	}

	where := []string{"1=1"}
	args := []any{}
	if filter.ProductID != 0 {
		where = append(where, "product_id = ?")
		args = append(args, int64(filter.ProductID))
	}
	if owner := strings.TrimSpace(filter.Owner); owner != "" {
		where = append(where, "current_owner = ?")
		args = append(args, owner)
	}
	if filter.Recalled != nil {
		where = append(where, "recalled = ?")
		args = append(args, boolToInt(*filter.Recalled))
	}
	clause := strings.Join(where, " AND ")

	var total int
	row := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches WHERE `+clause, args...)
	if err := row.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}

	query := `SELECT ` + batchColumns + ` FROM batches WHERE ` + clause +
		` ORDER BY created_at DESC, batch_id DESC LIMIT ? OFFSET ?`
	rows, err := s.sqlDB.QueryContext(ctx, query, append(args, page.Limit, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []storage.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, total, nil
}

// SearchBatches returns batches matching a numeric id or whose product name
// contains the query.
func (s *Store) SearchBatches(ctx context.Context, query string, limit int) ([]storage.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+prefixedBatchColumns("b")+` FROM batches b
		 JOIN products p ON p.product_id = b.product_id
		 WHERE CAST(b.batch_id AS TEXT) = ? OR p.name LIKE ? ESCAPE '\'
		 ORDER BY b.created_at DESC LIMIT ?`,
		query, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search batches: %w", err)
	}
	defer rows.Close()

	var batches []storage.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// SetBatchOwner overwrites the derived current owner for a batch.
func (s *Store) SetBatchOwner(ctx context.Context, batchID uint64, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(owner) == "" {
		return fmt.Errorf("owner is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE batches SET current_owner = ? WHERE batch_id = ?`, owner, int64(batchID))
	if err != nil {
		return fmt.Errorf("set batch owner: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set batch owner: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkBatchRecalled applies a recall to a batch. The recalled flag is
// monotonic; when two recalls race under replay, the one earliest in chain
// order keeps its reason.
func (s *Store) MarkBatchRecalled(ctx context.Context, recall storage.Recall) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE batches SET
		   recalled = 1,
		   recall_reason = ?,
		   recalled_by = ?,
		   recalled_at = ?,
		   recall_block = ?,
		   recall_log_index = ?
		 WHERE batch_id = ?
		   AND (recalled = 0
		     OR recall_block > ?
		     OR (recall_block = ? AND recall_log_index > ?))`,
		recall.Reason,
		recall.Initiator,
		toMillis(recall.Timestamp),
		int64(recall.Position.Block),
		int64(recall.Position.LogIndex),
		int64(recall.BatchID),
		int64(recall.Position.Block),
		int64(recall.Position.Block),
		int64(recall.Position.LogIndex),
	)
	if err != nil {
		return fmt.Errorf("mark batch recalled: %w", err)
	}
	if _, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("mark batch recalled: %w", err)
	}
	return nil
}

func prefixedBatchColumns(alias string) string {
	cols := strings.Split(batchColumns, ",")
	for i, col := range cols {
		cols[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}

func scanBatch(row rowScanner) (storage.Batch, error) {
	var (
		batch          storage.Batch
		batchID        int64
		productID      int64
		quantity       int64
		createdAt      int64
		recalled       int
		recalledAt     int64
		recallBlock    int64
		recallLogIndex int64
		block          int64
	)
	err := row.Scan(&batchID, &productID, &quantity, &batch.Creator,
		&batch.CurrentOwner, &createdAt, &recalled, &batch.RecallReason,
		&batch.RecalledBy, &recalledAt, &recallBlock, &recallLogIndex,
		&batch.TxHash, &block)
	if err != nil {
		return storage.Batch{}, err
	}
	batch.BatchID = uint64(batchID)
	batch.ProductID = uint64(productID)
	batch.Quantity = uint64(quantity)
	batch.CreatedAt = fromMillis(createdAt)
	batch.Recalled = recalled != 0
	if batch.Recalled {
		batch.RecalledAt = fromMillis(recalledAt)
		batch.RecallPos = chain.Position{Block: uint64(recallBlock), LogIndex: uint32(recallLogIndex)}
	}
	batch.BlockNumber = uint64(block)
	return batch, nil
}
