package timeline

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/tracefold/tracefold/internal/chain"
	"github.com/tracefold/tracefold/internal/services/provenance/storage"
)

func fixtureBatch() (storage.Batch, storage.Product, []storage.Transfer, []storage.Document, []storage.SensorReading) {
	created := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	batch := storage.Batch{
		BatchID:      100,
		ProductID:    1,
		Quantity:     500,
		Creator:      "0xa1",
		CurrentOwner: "0xc3",
		CreatedAt:    created,
		Recalled:     true,
		RecallReason: "Contamination",
		RecalledBy:   "0xa1",
		RecalledAt:   created.Add(96 * time.Hour),
		RecallPos:    chain.Position{Block: 40, LogIndex: 0},
		BlockNumber:  10,
	}
	product := storage.Product{ProductID: 1, Name: "Amoxicillin"}
	transfers := []storage.Transfer{
		{
			BatchID: 100, From: "0xa1", To: "0xb2", Location: "Mumbai",
			Position:  chain.Position{Block: 11, LogIndex: 0},
			Timestamp: created.Add(24 * time.Hour),
		},
		{
			BatchID: 100, From: "0xb2", To: "0xc3", Location: "Delhi",
			Position:  chain.Position{Block: 20, LogIndex: 2},
			Timestamp: created.Add(48 * time.Hour),
		},
	}
	documents := []storage.Document{
		{
			BatchID: 100, ContentCID: "QmCert", DocumentType: "Certificate", AttachedBy: "0xb2",
			Position:  chain.Position{Block: 20, LogIndex: 1},
			Timestamp: created.Add(48 * time.Hour),
		},
	}
	readings := []storage.SensorReading{
		{
			BatchID: 100, DataHash: "0xdead", ReadingType: "environmental",
			Temperature: 4, Humidity: 55, Location: "Cold Storage",
			Position:  chain.Position{Block: 30, LogIndex: 0},
			Timestamp: created.Add(72 * time.Hour),
		},
	}
	return batch, product, transfers, documents, readings
}

func TestAssembleOrdersByTimestampThenPosition(t *testing.T) {
	t.Parallel()

	batch, product, transfers, documents, readings := fixtureBatch()
	assembled := Assemble(batch, product, transfers, documents, readings)

	kinds := make([]EntryKind, 0, len(assembled.Entries))
	for _, entry := range assembled.Entries {
		kinds = append(kinds, entry.Kind)
	}
	// The document at block 20 shares its timestamp with the second transfer
	// but sits at a lower log index, so position breaks the tie.
	want := []EntryKind{EntryCreation, EntryTransfer, EntryDocument, EntryTransfer, EntrySensor, EntryRecall}
	if len(kinds) != len(want) {
		t.Fatalf("entries = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("entry %d = %v, want %v (full order %v)", i, kinds[i], want[i], kinds)
		}
	}

	if assembled.TransferCount != 2 || assembled.DocumentCount != 1 || assembled.SensorCount != 1 {
		t.Fatalf("counts = %+v", assembled)
	}
	if !assembled.Verified || !assembled.Recalled || assembled.CurrentOwner != "0xc3" {
		t.Fatalf("summary = %+v", assembled)
	}
}

func TestAssembleKindPriorityBreaksExactTies(t *testing.T) {
	t.Parallel()

	batch, product, _, _, _ := fixtureBatch()
	batch.Recalled = false

	at := batch.CreatedAt
	position := chain.Position{Block: batch.BlockNumber, LogIndex: 0}
	transfers := []storage.Transfer{{BatchID: 100, From: "0xa1", To: "0xb2", Position: position, Timestamp: at}}
	documents := []storage.Document{{BatchID: 100, ContentCID: "QmCert", AttachedBy: "0xa1", Position: position, Timestamp: at}}
	readings := []storage.SensorReading{{BatchID: 100, DataHash: "0xdead", Position: position, Timestamp: at}}

	assembled := Assemble(batch, product, transfers, documents, readings)
	want := []EntryKind{EntryCreation, EntryTransfer, EntryDocument, EntrySensor}
	for i, entry := range assembled.Entries {
		if entry.Kind != want[i] {
			t.Fatalf("entry %d = %v, want %v", i, entry.Kind, want[i])
		}
	}
}

func TestAssembleIsDeterministic(t *testing.T) {
	t.Parallel()

	batch, product, transfers, documents, readings := fixtureBatch()

	first, err := json.Marshal(Assemble(batch, product, transfers, documents, readings))
	if err != nil {
		t.Fatalf("marshal first: %v", err)
	}
	second, err := json.Marshal(Assemble(batch, product, transfers, documents, readings))
	if err != nil {
		t.Fatalf("marshal second: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("assembly is not deterministic:\n%s\n%s", first, second)
	}
}

func TestAssembleWithoutFacts(t *testing.T) {
	t.Parallel()

	batch, product, _, _, _ := fixtureBatch()
	batch.Recalled = false

	assembled := Assemble(batch, product, nil, nil, nil)
	if len(assembled.Entries) != 1 || assembled.Entries[0].Kind != EntryCreation {
		t.Fatalf("entries = %+v", assembled.Entries)
	}
	if assembled.Recalled {
		t.Fatal("batch must not be recalled")
	}
}
