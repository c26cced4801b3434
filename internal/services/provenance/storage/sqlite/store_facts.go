package sqlite

import (
	"context"
	"fmt"

	"github.com/tracefold/tracefold/internal/chain"
	"github.com/tracefold/tracefold/internal/services/provenance/storage"
)

// InsertDocument appends one document attachment fact. Re-delivery of the
// same (batch id, position) pair is ignored.
func (s *Store) InsertDocument(ctx context.Context, document storage.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if document.BatchID == 0 {
		return fmt.Errorf("batch id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents (batch_id, content_cid, document_type,
		   attached_by, block_number, log_index, timestamp, tx_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(document.BatchID),
		document.ContentCID,
		document.DocumentType,
		document.AttachedBy,
		int64(document.Position.Block),
		int64(document.Position.LogIndex),
		toMillis(document.Timestamp),
		document.TxHash,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// ListDocumentsForBatch returns a batch's documents in chain order.
func (s *Store) ListDocumentsForBatch(ctx context.Context, batchID uint64) ([]storage.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT batch_id, content_cid, document_type, attached_by,
		   block_number, log_index, timestamp, tx_hash
		 FROM documents WHERE batch_id = ?
		 ORDER BY block_number ASC, log_index ASC`, int64(batchID))
	if err != nil {
		return nil, fmt.Errorf("list documents for batch: %w", err)
	}
	defer rows.Close()

	var documents []storage.Document
	for rows.Next() {
		var (
			document  storage.Document
			id        int64
			block     int64
			logIndex  int64
			timestamp int64
		)
		err := rows.Scan(&id, &document.ContentCID, &document.DocumentType,
			&document.AttachedBy, &block, &logIndex, &timestamp, &document.TxHash)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		document.BatchID = uint64(id)
		document.Position = chain.Position{Block: uint64(block), LogIndex: uint32(logIndex)}
		document.Timestamp = fromMillis(timestamp)
		documents = append(documents, document)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return documents, nil
}

// InsertSensorReading appends one anchored sensor reading fact. Re-delivery
// of the same (batch id, position) pair is ignored.
func (s *Store) InsertSensorReading(ctx context.Context, reading storage.SensorReading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if reading.BatchID == 0 {
		return fmt.Errorf("batch id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO sensor_readings (batch_id, data_hash, reading_type,
		   temperature, humidity, location, block_number, log_index, timestamp, tx_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(reading.BatchID),
		reading.DataHash,
		reading.ReadingType,
		reading.Temperature,
		int64(reading.Humidity),
		reading.Location,
		int64(reading.Position.Block),
		int64(reading.Position.LogIndex),
		toMillis(reading.Timestamp),
		reading.TxHash,
	)
	if err != nil {
		return fmt.Errorf("insert sensor reading: %w", err)
	}
	return nil
}

// ListSensorReadingsForBatch returns a batch's sensor readings in chain order.
func (s *Store) ListSensorReadingsForBatch(ctx context.Context, batchID uint64) ([]storage.SensorReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT batch_id, data_hash, reading_type, temperature, humidity, location,
		   block_number, log_index, timestamp, tx_hash
		 FROM sensor_readings WHERE batch_id = ?
		 ORDER BY block_number ASC, log_index ASC`, int64(batchID))
	if err != nil {
		return nil, fmt.Errorf("list sensor readings for batch: %w", err)
	}
	defer rows.Close()

	var readings []storage.SensorReading
	for rows.Next() {
		var (
			reading   storage.SensorReading
			id        int64
			humidity  int64
			block     int64
			logIndex  int64
			timestamp int64
		)
		err := rows.Scan(&id, &reading.DataHash, &reading.ReadingType,
			&reading.Temperature, &humidity, &reading.Location, &block,
			&logIndex, &timestamp, &reading.TxHash)
		if err != nil {
			return nil, fmt.Errorf("scan sensor reading: %w", err)
		}
		reading.BatchID = uint64(id)
		reading.Humidity = uint64(humidity)
		reading.Position = chain.Position{Block: uint64(block), LogIndex: uint32(logIndex)}
		reading.Timestamp = fromMillis(timestamp)
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sensor readings: %w", err)
	}
	return readings, nil
}

// Stats aggregates read-model counts and the current checkpoint.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return storage.Stats{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Stats{}, err
	}

	var stats storage.Stats
	counts := []struct {
		table  string
		target *int
	}{
		{"products", &stats.Products},
		{"batches", &stats.Batches},
		{"transfers", &stats.Transfers},
		{"documents", &stats.Documents},
		{"sensor_readings", &stats.SensorReadings},
	}
	for _, c := range counts {
		row := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table)
		if err := row.Scan(c.target); err != nil {
			return storage.Stats{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}

	checkpoint, ok, err := s.Checkpoint(ctx)
	if err != nil {
		return storage.Stats{}, err
	}
	stats.Checkpoint = checkpoint
	stats.HasCheckpoint = ok
	return stats, nil
}
