// Package projector folds decoded chain events into the read model.
package projector

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tracefold/tracefold/internal/chain"
	"github.com/tracefold/tracefold/internal/services/provenance/storage"
)

// ErrOrderViolation indicates an event referenced a record that the fixed
// projection order should have created first. It signals a defect, not a
// transient failure, and must not be retried.
var ErrOrderViolation = errors.New("projection order violated")

// Store is the slice of the read model the projector writes. Every method
// must tolerate re-delivery of the same event.
type Store interface {
	UpsertProduct(ctx context.Context, product storage.Product) error
	GetProduct(ctx context.Context, productID uint64) (storage.Product, error)
	UpsertBatch(ctx context.Context, batch storage.Batch) error
	GetBatch(ctx context.Context, batchID uint64) (storage.Batch, error)
	SetBatchOwner(ctx context.Context, batchID uint64, owner string) error
	MarkBatchRecalled(ctx context.Context, recall storage.Recall) error
	InsertTransfer(ctx context.Context, transfer storage.Transfer) error
	LatestTransfer(ctx context.Context, batchID uint64) (storage.Transfer, error)
	InsertDocument(ctx context.Context, document storage.Document) error
	InsertSensorReading(ctx context.Context, reading storage.SensorReading) error
}

// Projector applies fetched event ranges to a Store. Applying the same range
// twice leaves the read model unchanged.
type Projector struct {
	store Store
}

// New returns a projector writing to store.
func New(store Store) *Projector {
	return &Projector{store: store}
}

// ApplyRange projects every event of one fetched range. Events are applied
// grouped by kind, creations before mutations before append-only facts, and
// in chain order within each kind, so references resolve regardless of the
// fetch's arrival order.
func (p *Projector) ApplyRange(ctx context.Context, events []chain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ordered := make([]chain.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position.Less(ordered[j].Position)
	})

	for _, kind := range chain.Kinds() {
		for _, event := range ordered {
			if event.Kind != kind {
				continue
			}
			if err := p.apply(ctx, event); err != nil {
				return fmt.Errorf("apply %s at block %d log %d: %w",
					event.Kind, event.Position.Block, event.Position.LogIndex, err)
			}
		}
	}
	return nil
}

func (p *Projector) apply(ctx context.Context, event chain.Event) error {
	switch event.Kind {
	case chain.KindProductCreated:
		return p.applyProductCreated(ctx, event)
	case chain.KindBatchCreated:
		return p.applyBatchCreated(ctx, event)
	case chain.KindBatchTransferred:
		return p.applyBatchTransferred(ctx, event)
	case chain.KindDocumentAttached:
		return p.applyDocumentAttached(ctx, event)
	case chain.KindSensorDataAnchored:
		return p.applySensorDataAnchored(ctx, event)
	case chain.KindBatchRecalled:
		return p.applyBatchRecalled(ctx, event)
	}
	return fmt.Errorf("unhandled event kind %q", event.Kind)
}

func (p *Projector) applyProductCreated(ctx context.Context, event chain.Event) error {
	payload := event.ProductCreated
	if payload == nil {
		return fmt.Errorf("missing product payload")
	}
	createdAt := payload.CreatedAt
	if createdAt.IsZero() {
		createdAt = event.Timestamp
	}
	return p.store.UpsertProduct(ctx, storage.Product{
		ProductID:    payload.ProductID,
		Name:         payload.Name,
		Description:  payload.Description,
		Manufacturer: payload.Manufacturer,
		MetadataURI:  payload.MetadataURI,
		Active:       payload.Active,
		CreatedAt:    createdAt,
		TxHash:       event.TxHash,
		BlockNumber:  event.Position.Block,
	})
}

func (p *Projector) applyBatchCreated(ctx context.Context, event chain.Event) error {
	payload := event.BatchCreated
	if payload == nil {
		return fmt.Errorf("missing batch payload")
	}
	// Creations are ordered ahead of batch events within a range, so the
	// product must already exist. A miss here means ordering is broken.
	if _, err := p.store.GetProduct(ctx, payload.ProductID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("batch %d references unknown product %d: %w",
				payload.BatchID, payload.ProductID, ErrOrderViolation)
		}
		return err
	}
	return p.store.UpsertBatch(ctx, storage.Batch{
		BatchID:     payload.BatchID,
		ProductID:   payload.ProductID,
		Quantity:    payload.Quantity,
		Creator:     payload.Owner,
		CreatedAt:   event.Timestamp,
		TxHash:      event.TxHash,
		BlockNumber: event.Position.Block,
	})
}

func (p *Projector) applyBatchTransferred(ctx context.Context, event chain.Event) error {
	payload := event.BatchTransferred
	if payload == nil {
		return fmt.Errorf("missing transfer payload")
	}
	err := p.store.InsertTransfer(ctx, storage.Transfer{
		BatchID:   payload.BatchID,
		From:      payload.From,
		To:        payload.To,
		Location:  payload.Location,
		Position:  event.Position,
		Timestamp: event.Timestamp,
		TxHash:    event.TxHash,
	})
	if err != nil {
		return err
	}
	return p.recomputeOwner(ctx, payload.BatchID)
}

// recomputeOwner derives the current owner from the transfer history rather
// than trusting the incoming event, so replayed or stale transfers cannot
// move ownership backward.
func (p *Projector) recomputeOwner(ctx context.Context, batchID uint64) error {
	latest, err := p.store.LatestTransfer(ctx, batchID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		batch, err := p.store.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		return p.store.SetBatchOwner(ctx, batchID, batch.Creator)
	}
	return p.store.SetBatchOwner(ctx, batchID, latest.To)
}

func (p *Projector) applyDocumentAttached(ctx context.Context, event chain.Event) error {
	payload := event.DocumentAttached
	if payload == nil {
		return fmt.Errorf("missing document payload")
	}
	return p.store.InsertDocument(ctx, storage.Document{
		BatchID:      payload.BatchID,
		ContentCID:   payload.ContentCID,
		DocumentType: payload.DocumentType,
		AttachedBy:   payload.AttachedBy,
		Position:     event.Position,
		Timestamp:    event.Timestamp,
		TxHash:       event.TxHash,
	})
}

func (p *Projector) applySensorDataAnchored(ctx context.Context, event chain.Event) error {
	payload := event.SensorDataAnchored
	if payload == nil {
		return fmt.Errorf("missing sensor payload")
	}
	return p.store.InsertSensorReading(ctx, storage.SensorReading{
		BatchID:     payload.BatchID,
		DataHash:    payload.DataHash,
		ReadingType: payload.ReadingType,
		Temperature: payload.Temperature,
		Humidity:    payload.Humidity,
		Location:    payload.Location,
		Position:    event.Position,
		Timestamp:   event.Timestamp,
		TxHash:      event.TxHash,
	})
}

func (p *Projector) applyBatchRecalled(ctx context.Context, event chain.Event) error {
	payload := event.BatchRecalled
	if payload == nil {
		return fmt.Errorf("missing recall payload")
	}
	return p.store.MarkBatchRecalled(ctx, storage.Recall{
		BatchID:   payload.BatchID,
		Reason:    payload.Reason,
		Initiator: payload.Initiator,
		Position:  event.Position,
		Timestamp: event.Timestamp,
	})
}
