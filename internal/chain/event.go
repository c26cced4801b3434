// Package chain defines the ledger event boundary consumed by the indexer.
package chain

import "time"

// Kind identifies the type of a contract event.
type Kind string

// Tracked contract events.
const (
	// KindProductCreated records the registration of a product type.
	KindProductCreated Kind = "product.created"
	// KindBatchCreated records the creation of a batch of goods.
	KindBatchCreated Kind = "batch.created"
	// KindBatchTransferred records a custody transfer of a batch.
	KindBatchTransferred Kind = "batch.transferred"
	// KindDocumentAttached records a document anchored to a batch.
	KindDocumentAttached Kind = "document.attached"
	// KindSensorDataAnchored records a sensor reading anchored to a batch.
	KindSensorDataAnchored Kind = "sensor.anchored"
	// KindBatchRecalled records a batch recall.
	KindBatchRecalled Kind = "batch.recalled"
)

// Kinds lists every tracked event kind in within-range projection order:
// creations before mutations before append-only facts, recalls last.
func Kinds() []Kind {
	return []Kind{
		KindProductCreated,
		KindBatchCreated,
		KindBatchTransferred,
		KindDocumentAttached,
		KindSensorDataAnchored,
		KindBatchRecalled,
	}
}

// Position orders events by source position, independent of arrival order.
type Position struct {
	Block    uint64
	LogIndex uint32
}

// Less reports whether p precedes other in chain order.
func (p Position) Less(other Position) bool {
	if p.Block != other.Block {
		return p.Block < other.Block
	}
	return p.LogIndex < other.LogIndex
}

// Event is one decoded contract event. Exactly one payload field matching
// Kind is set; the rest are nil.
type Event struct {
	Kind     Kind
	Position Position
	TxHash   string
	// Timestamp is the source block time, not the local clock.
	Timestamp time.Time

	ProductCreated     *ProductCreated
	BatchCreated       *BatchCreated
	BatchTransferred   *BatchTransferred
	DocumentAttached   *DocumentAttached
	SensorDataAnchored *SensorDataAnchored
	BatchRecalled      *BatchRecalled
}

// ProductCreated carries the product registration payload, enriched with the
// contract's stored product record at fetch time.
type ProductCreated struct {
	ProductID    uint64
	Name         string
	Description  string
	Manufacturer string
	MetadataURI  string
	Active       bool
	CreatedAt    time.Time
}

// BatchCreated carries the batch creation payload.
type BatchCreated struct {
	BatchID   uint64
	ProductID uint64
	Owner     string
	Quantity  uint64
}

// BatchTransferred carries one custody transfer.
type BatchTransferred struct {
	BatchID  uint64
	From     string
	To       string
	Location string
}

// DocumentAttached carries a content-addressed document pointer.
type DocumentAttached struct {
	BatchID      uint64
	ContentCID   string
	DocumentType string
	AttachedBy   string
}

// SensorDataAnchored carries an anchored sensor reading commitment.
type SensorDataAnchored struct {
	BatchID     uint64
	DataHash    string
	ReadingType string
	Temperature int64
	Humidity    uint64
	Location    string
}

// BatchRecalled carries a recall payload. Recalls are terminal for a batch.
type BatchRecalled struct {
	BatchID   uint64
	Reason    string
	Initiator string
}

// BatchID returns the batch identity an event refers to, or 0 when the event
// is not scoped to a batch.
func (e Event) BatchID() uint64 {
	switch {
	case e.BatchCreated != nil:
		return e.BatchCreated.BatchID
	case e.BatchTransferred != nil:
		return e.BatchTransferred.BatchID
	case e.DocumentAttached != nil:
		return e.DocumentAttached.BatchID
	case e.SensorDataAnchored != nil:
		return e.SensorDataAnchored.BatchID
	case e.BatchRecalled != nil:
		return e.BatchRecalled.BatchID
	}
	return 0
}
