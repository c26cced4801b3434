package rest

import (
	"time"

	"github.com/tracefold/tracefold/internal/platform/pagination"
	"github.com/tracefold/tracefold/internal/services/provenance/storage"
)

// listResponse is the envelope every list endpoint returns.
type listResponse struct {
	Data       any             `json:"data"`
	Pagination pagination.Meta `json:"pagination"`
}

type productView struct {
	ProductID    uint64    `json:"productId"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Manufacturer string    `json:"manufacturer"`
	MetadataURI  string    `json:"metadataUri,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	BlockNumber  uint64    `json:"blockNumber"`
	TxHash       string    `json:"txHash,omitempty"`
}

type batchView struct {
	BatchID      uint64     `json:"batchId"`
	ProductID    uint64     `json:"productId"`
	Quantity     uint64     `json:"quantity"`
	Creator      string     `json:"creator"`
	CurrentOwner string     `json:"currentOwner"`
	CreatedAt    time.Time  `json:"createdAt"`
	Recalled     bool       `json:"recalled"`
	RecallReason string     `json:"recallReason,omitempty"`
	RecalledBy   string     `json:"recalledBy,omitempty"`
	RecalledAt   *time.Time `json:"recalledAt,omitempty"`
	// Transferable is derived from the recall flag; custody of a recalled
	// batch is frozen.
	Transferable bool   `json:"transferable"`
	BlockNumber  uint64 `json:"blockNumber"`
	TxHash       string `json:"txHash,omitempty"`
}

type transferView struct {
	BatchID     uint64    `json:"batchId"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Location    string    `json:"location,omitempty"`
	BlockNumber uint64    `json:"blockNumber"`
	LogIndex    uint32    `json:"logIndex"`
	Timestamp   time.Time `json:"timestamp"`
	TxHash      string    `json:"txHash,omitempty"`
}

type documentView struct {
	BatchID      uint64    `json:"batchId"`
	ContentCID   string    `json:"cid"`
	DocumentType string    `json:"documentType,omitempty"`
	AttachedBy   string    `json:"attachedBy"`
	BlockNumber  uint64    `json:"blockNumber"`
	LogIndex     uint32    `json:"logIndex"`
	Timestamp    time.Time `json:"timestamp"`
	TxHash       string    `json:"txHash,omitempty"`
}

type sensorView struct {
	BatchID     uint64    `json:"batchId"`
	DataHash    string    `json:"dataHash"`
	ReadingType string    `json:"readingType,omitempty"`
	Temperature int64     `json:"temperature"`
	Humidity    uint64    `json:"humidity"`
	Location    string    `json:"location,omitempty"`
	BlockNumber uint64    `json:"blockNumber"`
	LogIndex    uint32    `json:"logIndex"`
	Timestamp   time.Time `json:"timestamp"`
	TxHash      string    `json:"txHash,omitempty"`
}

type batchDetailView struct {
	Batch          batchView      `json:"batch"`
	Product        *productView   `json:"product,omitempty"`
	Transfers      []transferView `json:"transfers"`
	Documents      []documentView `json:"documents"`
	SensorReadings []sensorView   `json:"sensorReadings"`
}

type statsView struct {
	Products         int     `json:"products"`
	Batches          int     `json:"batches"`
	Transfers        int     `json:"transfers"`
	Documents        int     `json:"documents"`
	SensorReadings   int     `json:"sensorReadings"`
	LastIndexedBlock *uint64 `json:"lastIndexedBlock"`
}

type searchView struct {
	Query    string        `json:"query"`
	Products []productView `json:"products,omitempty"`
	Batches  []batchView   `json:"batches,omitempty"`
}

func toProductView(product storage.Product) productView {
	return productView{
		ProductID:    product.ProductID,
		Name:         product.Name,
		Description:  product.Description,
		Manufacturer: product.Manufacturer,
		MetadataURI:  product.MetadataURI,
		Active:       product.Active,
		CreatedAt:    product.CreatedAt,
		BlockNumber:  product.BlockNumber,
		TxHash:       product.TxHash,
	}
}

func toProductViews(products []storage.Product) []productView {
	views := make([]productView, 0, len(products))
	for _, product := range products {
		views = append(views, toProductView(product))
	}
	return views
}

func toBatchView(batch storage.Batch) batchView {
	view := batchView{
		BatchID:      batch.BatchID,
		ProductID:    batch.ProductID,
		Quantity:     batch.Quantity,
		Creator:      batch.Creator,
		CurrentOwner: batch.CurrentOwner,
		CreatedAt:    batch.CreatedAt,
		Recalled:     batch.Recalled,
		RecallReason: batch.RecallReason,
		RecalledBy:   batch.RecalledBy,
		Transferable: !batch.Recalled,
		BlockNumber:  batch.BlockNumber,
		TxHash:       batch.TxHash,
	}
	if batch.Recalled && !batch.RecalledAt.IsZero() {
		recalledAt := batch.RecalledAt
		view.RecalledAt = &recalledAt
	}
	return view
}

func toBatchViews(batches []storage.Batch) []batchView {
	views := make([]batchView, 0, len(batches))
	for _, batch := range batches {
		views = append(views, toBatchView(batch))
	}
	return views
}

func toTransferView(transfer storage.Transfer) transferView {
	return transferView{
		BatchID:     transfer.BatchID,
		From:        transfer.From,
		To:          transfer.To,
		Location:    transfer.Location,
		BlockNumber: transfer.Position.Block,
		LogIndex:    transfer.Position.LogIndex,
		Timestamp:   transfer.Timestamp,
		TxHash:      transfer.TxHash,
	}
}

func toTransferViews(transfers []storage.Transfer) []transferView {
	views := make([]transferView, 0, len(transfers))
	for _, transfer := range transfers {
		views = append(views, toTransferView(transfer))
	}
	return views
}

func toDocumentViews(documents []storage.Document) []documentView {
	views := make([]documentView, 0, len(documents))
	for _, document := range documents {
		views = append(views, documentView{
			BatchID:      document.BatchID,
			ContentCID:   document.ContentCID,
			DocumentType: document.DocumentType,
			AttachedBy:   document.AttachedBy,
			BlockNumber:  document.Position.Block,
			LogIndex:     document.Position.LogIndex,
			Timestamp:    document.Timestamp,
			TxHash:       document.TxHash,
		})
	}
	return views
}

func toSensorViews(readings []storage.SensorReading) []sensorView {
	views := make([]sensorView, 0, len(readings))
	for _, reading := range readings {
		views = append(views, sensorView{
			BatchID:     reading.BatchID,
			DataHash:    reading.DataHash,
			ReadingType: reading.ReadingType,
			Temperature: reading.Temperature,
			Humidity:    reading.Humidity,
			Location:    reading.Location,
			BlockNumber: reading.Position.Block,
			LogIndex:    reading.Position.LogIndex,
			Timestamp:   reading.Timestamp,
			TxHash:      reading.TxHash,
		})
	}
	return views
}
