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

const transferColumns = `batch_id, from_owner, to_owner, location,
	block_number, log_index, timestamp, tx_hash`

// InsertTransfer appends one custody transfer fact. Re-delivery of the same
// (batch id, position) pair is ignored.
func (s *Store) InsertTransfer(ctx context.Context, transfer storage.Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if transfer.BatchID == 0 {
		return fmt.Errorf("batch id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO transfers (`+transferColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(transfer.BatchID),
		transfer.From,
		transfer.To,
		transfer.Location,
		int64(transfer.Position.Block),
		int64(transfer.Position.LogIndex),
		toMillis(transfer.Timestamp),
		transfer.TxHash,
	)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

// ListTransfersForBatch returns a batch's transfers in chain order.
func (s *Store) ListTransfersForBatch(ctx context.Context, batchID uint64) ([]storage.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE batch_id = ?
		 ORDER BY block_number ASC, log_index ASC`, int64(batchID))
	if err != nil {
		return nil, fmt.Errorf("list transfers for batch: %w", err)
	}
	defer rows.Close()
	return collectTransfers(rows)
}

// LatestTransfer returns the transfer with the greatest chain position for a
// batch, the fact that determines the batch's current owner.
func (s *Store) LatestTransfer(ctx context.Context, batchID uint64) (storage.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return storage.Transfer{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Transfer{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE batch_id = ?
		 ORDER BY block_number DESC, log_index DESC LIMIT 1`, int64(batchID))
	transfer, err := scanTransfer(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.Transfer{}, storage.ErrNotFound
		}
		return storage.Transfer{}, fmt.Errorf("latest transfer: %w", err)
	}
	return transfer, nil
}

// ListTransfers returns a filtered page of transfers ordered by chain
// position descending, plus the total matching count.
func (s *Store) ListTransfers(ctx context.Context, filter storage.TransferFilter, page pagination.Page) ([]storage.Transfer, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if err := s.ready(); err != nil {
		return nil, 0, err
	}

	where := []string{"1=1"}
	args := []any{}
	if filter.BatchID != 0 {
		where = append(where, "batch_id = ?")
		args = append(args, int64(filter.BatchID))
	}
	if from := strings.TrimSpace(filter.From); from != "" {
		where = append(where, "from_owner = ?")
		args = append(args, from)
	}
	if to := strings.TrimSpace(filter.To); to != "" {
		where = append(where, "to_owner = ?")
		args = append(args, to)
	}
	clause := strings.Join(where, " AND ")

	var total int
	row := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM transfers WHERE `+clause, args...)
	if err := row.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transfers: %w", err)
	}

	query := `SELECT ` + transferColumns + ` FROM transfers WHERE ` + clause +
		` ORDER BY block_number DESC, log_index DESC LIMIT ? OFFSET ?`
	rows, err := s.sqlDB.QueryContext(ctx, query, append(args, page.Limit, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	transfers, err := collectTransfers(rows)
	if err != nil {
		return nil, 0, err
	}
	return transfers, total, nil
}

func collectTransfers(rows *sql.Rows) ([]storage.Transfer, error) {
	var transfers []storage.Transfer
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		transfers = append(transfers, transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return transfers, nil
}

func scanTransfer(row rowScanner) (storage.Transfer, error) {
	var (
		transfer  storage.Transfer
		batchID   int64
		block     int64
		logIndex  int64
		timestamp int64
	)
	err := row.Scan(&batchID, &transfer.From, &transfer.To, &transfer.Location,
		&block, &logIndex, &timestamp, &transfer.TxHash)
	if err != nil {
		return storage.Transfer{}, err
	}
	transfer.BatchID = uint64(batchID)
	transfer.Position = chain.Position{Block: uint64(block), LogIndex: uint32(logIndex)}
	transfer.Timestamp = fromMillis(timestamp)
	return transfer, nil
}
