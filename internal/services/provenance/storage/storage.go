// Package storage defines persistence contracts for the provenance read model.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tracefold/tracefold/internal/chain"
	"github.com/tracefold/tracefold/internal/platform/pagination"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrCheckpointRegression indicates an attempt to move the indexing
	// checkpoint backward. It signals a broken loop invariant and is fatal.
	ErrCheckpointRegression = errors.New("checkpoint moved backward")
)

// Product is a registered item type, immutable after creation except the
// active flag.
type Product struct {
	ProductID    uint64
	Name         string
	Description  string
	Manufacturer string
	MetadataURI  string
	Active       bool
	CreatedAt    time.Time
	TxHash       string
	BlockNumber  uint64
}

// Batch is a tracked lot of goods with a single current custodian.
type Batch struct {
	BatchID      uint64
	ProductID    uint64
	Quantity     uint64
	Creator      string
	CurrentOwner string
	CreatedAt    time.Time
	Recalled     bool
	RecallReason string
	RecalledBy   string
	RecalledAt   time.Time
	RecallPos    chain.Position
	TxHash       string
	BlockNumber  uint64
}

// Transfer is one append-only custody transfer fact.
type Transfer struct {
	BatchID   uint64
	From      string
	To        string
	Location  string
	Position  chain.Position
	Timestamp time.Time
	TxHash    string
}

// Document is one append-only document attachment fact.
type Document struct {
	BatchID      uint64
	ContentCID   string
	DocumentType string
	AttachedBy   string
	Position     chain.Position
	Timestamp    time.Time
	TxHash       string
}

// SensorReading is one append-only anchored sensor reading fact.
type SensorReading struct {
	BatchID     uint64
	DataHash    string
	ReadingType string
	Temperature int64
	Humidity    uint64
	Location    string
	Position    chain.Position
	Timestamp   time.Time
	TxHash      string
}

// Recall describes the recall applied to a batch, ordered by chain position
// so the earliest recall wins under replay.
type Recall struct {
	BatchID   uint64
	Reason    string
	Initiator string
	Position  chain.Position
	Timestamp time.Time
}

// Stats aggregates read-model counts for the stats endpoint.
type Stats struct {
	Products       int
	Batches        int
	Transfers      int
	Documents      int
	SensorReadings int
	Checkpoint     uint64
	HasCheckpoint  bool
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Manufacturer string
	Active       *bool
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ProductID uint64
	Owner     string
	Recalled  *bool
}

// TransferFilter narrows transfer listings.
type TransferFilter struct {
	BatchID uint64
	From    string
	To      string
}

// CheckpointStore is the durable single-slot indexing cursor. The indexing
// loop is its only writer.
type CheckpointStore interface {
	// Checkpoint returns the last fully indexed position. The boolean is
	// false when no range has been indexed yet.
	Checkpoint(ctx context.Context) (uint64, bool, error)
	// SetCheckpoint durably advances the cursor. Positions below the current
	// value return ErrCheckpointRegression.
	SetCheckpoint(ctx context.Context, position uint64) error
}

// ProductStore persists product records.
type ProductStore interface {
	// UpsertProduct inserts or replaces a product by natural id. Re-delivery
	// of the same registration is a no-op, not an error.
	UpsertProduct(ctx context.Context, product Product) error
	GetProduct(ctx context.Context, productID uint64) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter, page pagination.Page) ([]Product, int, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]Product, error)
}

// BatchStore persists batch records.
type BatchStore interface {
	UpsertBatch(ctx context.Context, batch Batch) error
	GetBatch(ctx context.Context, batchID uint64) (Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter, page pagination.Page) ([]Batch, int, error)
	SearchBatches(ctx context.Context, query string, limit int) ([]Batch, error)
	// SetBatchOwner overwrites the derived current owner.
	SetBatchOwner(ctx context.Context, batchID uint64, owner string) error
	// MarkBatchRecalled applies a recall. The flag is monotonic; when the
	// batch is already recalled, the recall earliest in chain order keeps
	// its reason.
	MarkBatchRecalled(ctx context.Context, recall Recall) error
}

// TransferStore persists append-only transfer facts keyed by
// (batch id, position) with insert-or-ignore semantics.
type TransferStore interface {
	InsertTransfer(ctx context.Context, transfer Transfer) error
	// ListTransfersForBatch returns a batch's transfers in chain order.
	ListTransfersForBatch(ctx context.Context, batchID uint64) ([]Transfer, error)
	// LatestTransfer returns the transfer with the greatest position, or
	// ErrNotFound when the batch has none.
	LatestTransfer(ctx context.Context, batchID uint64) (Transfer, error)
	ListTransfers(ctx context.Context, filter TransferFilter, page pagination.Page) ([]Transfer, int, error)
}

// DocumentStore persists append-only document facts.
type DocumentStore interface {
	InsertDocument(ctx context.Context, document Document) error
	ListDocumentsForBatch(ctx context.Context, batchID uint64) ([]Document, error)
}

// SensorStore persists append-only sensor reading facts.
type SensorStore interface {
	InsertSensorReading(ctx context.Context, reading SensorReading) error
	ListSensorReadingsForBatch(ctx context.Context, batchID uint64) ([]SensorReading, error)
}

// StatsStore aggregates counts across the read model.
type StatsStore interface {
	Stats(ctx context.Context) (Stats, error)
}

// Store combines every read-model contract the service uses.
type Store interface {
	CheckpointStore
	ProductStore
	BatchStore
	TransferStore
	DocumentStore
	SensorStore
	StatsStore
}
