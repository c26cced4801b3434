// Package timeline assembles a batch's stored facts into one deterministic
// provenance sequence.
package timeline

import (
	"sort"
	"time"

	"github.com/tracefold/tracefold/internal/chain"
	"github.com/tracefold/tracefold/internal/services/provenance/storage"
)

// EntryKind labels one timeline entry.
type EntryKind string

// Timeline entry kinds, listed in tie-break priority order.
const (
	EntryCreation EntryKind = "batch_created"
	EntryTransfer EntryKind = "transfer"
	EntryDocument EntryKind = "document"
	EntrySensor   EntryKind = "sensor_reading"
	EntryRecall   EntryKind = "recall"
)

// kindPriority breaks ties between entries sharing a timestamp and position.
var kindPriority = map[EntryKind]int{
	EntryCreation: 0,
	EntryTransfer: 1,
	EntryDocument: 2,
	EntrySensor:   3,
	EntryRecall:   4,
}

// Entry is one step in a batch's history. Exactly one detail field matching
// Kind is set.
type Entry struct {
	Kind      EntryKind       `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Block     uint64          `json:"blockNumber"`
	LogIndex  uint32          `json:"logIndex"`
	Actor     string          `json:"actor,omitempty"`
	Location  string          `json:"location,omitempty"`
	TxHash    string          `json:"txHash,omitempty"`
	Transfer  *TransferDetail `json:"transfer,omitempty"`
	Document  *DocumentDetail `json:"document,omitempty"`
	Sensor    *SensorDetail   `json:"sensorReading,omitempty"`
	Recall    *RecallDetail   `json:"recall,omitempty"`
	Creation  *CreationDetail `json:"creation,omitempty"`
}

// CreationDetail describes the batch creation entry.
type CreationDetail struct {
	ProductID   uint64 `json:"productId"`
	ProductName string `json:"productName,omitempty"`
	Quantity    uint64 `json:"quantity"`
	Creator     string `json:"creator"`
}

// TransferDetail describes a custody transfer entry.
type TransferDetail struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DocumentDetail describes an attached document entry.
type DocumentDetail struct {
	ContentCID   string `json:"cid"`
	DocumentType string `json:"documentType"`
}

// SensorDetail describes an anchored sensor reading entry.
type SensorDetail struct {
	DataHash    string `json:"dataHash"`
	ReadingType string `json:"readingType"`
	Temperature int64  `json:"temperature"`
	Humidity    uint64 `json:"humidity"`
}

// RecallDetail describes the recall entry.
type RecallDetail struct {
	Reason    string `json:"reason"`
	Initiator string `json:"initiatedBy,omitempty"`
}

// Timeline is the assembled history of one batch. Every entry is derived
// from ledger-anchored facts, so the whole timeline is verified.
type Timeline struct {
	BatchID        uint64  `json:"batchId"`
	Entries        []Entry `json:"events"`
	TransferCount  int     `json:"transferCount"`
	DocumentCount  int     `json:"documentCount"`
	SensorCount    int     `json:"sensorReadingCount"`
	Recalled       bool    `json:"recalled"`
	Verified       bool    `json:"verified"`
	CurrentOwner   string  `json:"currentOwner"`
	ProductName    string  `json:"productName,omitempty"`
	Quantity       uint64  `json:"quantity"`
}

// Assemble merges a batch's creation fact, transfers, documents, sensor
// readings, and recall into one sequence ordered by timestamp ascending,
// then chain position ascending, then a fixed kind priority. The output is
// a pure function of its inputs.
func Assemble(batch storage.Batch, product storage.Product, transfers []storage.Transfer,
	documents []storage.Document, readings []storage.SensorReading) Timeline {

	entries := make([]Entry, 0, len(transfers)+len(documents)+len(readings)+2)

	entries = append(entries, Entry{
		Kind:      EntryCreation,
		Timestamp: batch.CreatedAt,
		Block:     batch.BlockNumber,
		Actor:     batch.Creator,
		TxHash:    batch.TxHash,
		Creation: &CreationDetail{
			ProductID:   batch.ProductID,
			ProductName: product.Name,
			Quantity:    batch.Quantity,
			Creator:     batch.Creator,
		},
	})

	for _, transfer := range transfers {
		entries = append(entries, Entry{
			Kind:      EntryTransfer,
			Timestamp: transfer.Timestamp,
			Block:     transfer.Position.Block,
			LogIndex:  transfer.Position.LogIndex,
			Actor:     transfer.From,
			Location:  transfer.Location,
			TxHash:    transfer.TxHash,
			Transfer:  &TransferDetail{From: transfer.From, To: transfer.To},
		})
	}
	for _, document := range documents {
		entries = append(entries, Entry{
			Kind:      EntryDocument,
			Timestamp: document.Timestamp,
			Block:     document.Position.Block,
			LogIndex:  document.Position.LogIndex,
			Actor:     document.AttachedBy,
			TxHash:    document.TxHash,
			Document: &DocumentDetail{
				ContentCID:   document.ContentCID,
				DocumentType: document.DocumentType,
			},
		})
	}
	for _, reading := range readings {
		entries = append(entries, Entry{
			Kind:      EntrySensor,
			Timestamp: reading.Timestamp,
			Block:     reading.Position.Block,
			LogIndex:  reading.Position.LogIndex,
			Location:  reading.Location,
			TxHash:    reading.TxHash,
			Sensor: &SensorDetail{
				DataHash:    reading.DataHash,
				ReadingType: reading.ReadingType,
				Temperature: reading.Temperature,
				Humidity:    reading.Humidity,
			},
		})
	}
	if batch.Recalled {
		entries = append(entries, Entry{
			Kind:      EntryRecall,
			Timestamp: batch.RecalledAt,
			Block:     batch.RecallPos.Block,
			LogIndex:  batch.RecallPos.LogIndex,
			Actor:     batch.RecalledBy,
			Recall:    &RecallDetail{Reason: batch.RecallReason, Initiator: batch.RecalledBy},
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		left := chain.Position{Block: entries[i].Block, LogIndex: entries[i].LogIndex}
		right := chain.Position{Block: entries[j].Block, LogIndex: entries[j].LogIndex}
		if left != right {
			return left.Less(right)
		}
		return kindPriority[entries[i].Kind] < kindPriority[entries[j].Kind]
	})

	return Timeline{
		BatchID:       batch.BatchID,
		Entries:       entries,
		TransferCount: len(transfers),
		DocumentCount: len(documents),
		SensorCount:   len(readings),
		Recalled:      batch.Recalled,
		Verified:      true,
		CurrentOwner:  batch.CurrentOwner,
		ProductName:   product.Name,
		Quantity:      batch.Quantity,
	}
}
