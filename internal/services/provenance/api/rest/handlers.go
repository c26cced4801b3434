// Package rest serves the provenance read model as a JSON API.
package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/tracefold/tracefold/internal/platform/pagination"
	"github.com/tracefold/tracefold/internal/services/provenance/storage"
	"github.com/tracefold/tracefold/internal/services/provenance/timeline"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	searchLimit      = 10
)

// Handler answers read-only queries against the indexed read model.
type Handler struct {
	store      storage.Store
	pagination pagination.Config
}

// NewHandler returns the API handler stack, middleware included.
func NewHandler(store storage.Store) http.Handler {
	h := &Handler{
		store:      store,
		pagination: pagination.Config{DefaultLimit: defaultPageLimit, MaxLimit: maxPageLimit},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/stats", h.stats)
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{productID}", h.getProduct)
	mux.HandleFunc("GET /api/batches", h.listBatches)
	mux.HandleFunc("GET /api/batches/{batchID}", h.getBatch)
	mux.HandleFunc("GET /api/provenance/{batchID}", h.getProvenance)
	mux.HandleFunc("GET /api/transfers", h.listTransfers)
	mux.HandleFunc("GET /api/search", h.search)
	return WithCORS(WithRequestID(WithLogging(mux)))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// pathID parses a numeric path segment. The zero id is reserved.
func pathID(r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) page(r *http.Request) pagination.Page {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	limit, _ := strconv.Atoi(query.Get("limit"))
	return pagination.Normalize(page, limit, h.pagination)
}

func parseBool(value string) *bool {
	switch strings.ToLower(value) {
	case "true", "1":
		b := true
		return &b
	case "false", "0":
		b := false
		return &b
	}
	return nil
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	view := statsView{
		Products:       stats.Products,
		Batches:        stats.Batches,
		Transfers:      stats.Transfers,
		Documents:      stats.Documents,
		SensorReadings: stats.SensorReadings,
	}
	if stats.HasCheckpoint {
		checkpoint := stats.Checkpoint
		view.LastIndexedBlock = &checkpoint
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.ProductFilter{
		Manufacturer: strings.TrimSpace(query.Get("manufacturer")),
		Active:       parseBool(query.Get("active")),
	}
	page := h.page(r)

	products, total, err := h.store.ListProducts(r.Context(), filter, page)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       toProductViews(products),
		Pagination: pagination.NewMeta(page, total),
	})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(r, "productID")
	if !ok {
		WriteJSONError(w, http.StatusBadRequest, "invalid_id", "product id must be a positive integer")
		return
	}
	product, err := h.store.GetProduct(r.Context(), productID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteJSONError(w, http.StatusNotFound, "not_found", "product not found")
			return
		}
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeJSON(w, http.StatusOK, toProductView(product))
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.BatchFilter{
		Owner:    strings.TrimSpace(query.Get("owner")),
		Recalled: parseBool(query.Get("recalled")),
	}
	if raw := query.Get("productId"); raw != "" {
		productID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			WriteJSONError(w, http.StatusBadRequest, "invalid_filter", "productId must be a positive integer")
			return
		}
		filter.ProductID = productID
	}
	page := h.page(r)

	batches, total, err := h.store.ListBatches(r.Context(), filter, page)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       toBatchViews(batches),
		Pagination: pagination.NewMeta(page, total),
	})
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathID(r, "batchID")
	if !ok {
		WriteJSONError(w, http.StatusBadRequest, "invalid_id", "batch id must be a positive integer")
		return
	}
	ctx := r.Context()

	batch, err := h.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteJSONError(w, http.StatusNotFound, "not_found", "batch not found")
			return
		}
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	detail := batchDetailView{Batch: toBatchView(batch)}
	if product, err := h.store.GetProduct(ctx, batch.ProductID); err == nil {
		view := toProductView(product)
		detail.Product = &view
	} else if !errors.Is(err, storage.ErrNotFound) {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	transfers, err := h.store.ListTransfersForBatch(ctx, batchID)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	documents, err := h.store.ListDocumentsForBatch(ctx, batchID)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	readings, err := h.store.ListSensorReadingsForBatch(ctx, batchID)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	detail.Transfers = toTransferViews(transfers)
	detail.Documents = toDocumentViews(documents)
	detail.SensorReadings = toSensorViews(readings)
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) getProvenance(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathID(r, "batchID")
	if !ok {
		WriteJSONError(w, http.StatusBadRequest, "invalid_id", "batch id must be a positive integer")
		return
	}
	ctx := r.Context()

	batch, err := h.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteJSONError(w, http.StatusNotFound, "not_found", "batch not found")
			return
		}
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	product, err := h.store.GetProduct(ctx, batch.ProductID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	transfers, err := h.store.ListTransfersForBatch(ctx, batchID)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	documents, err := h.store.ListDocumentsForBatch(ctx, batchID)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	readings, err := h.store.ListSensorReadingsForBatch(ctx, batchID)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	writeJSON(w, http.StatusOK, timeline.Assemble(batch, product, transfers, documents, readings))
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.TransferFilter{
		From: strings.TrimSpace(query.Get("from")),
		To:   strings.TrimSpace(query.Get("to")),
	}
	if raw := query.Get("batchId"); raw != "" {
		batchID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			WriteJSONError(w, http.StatusBadRequest, "invalid_filter", "batchId must be a positive integer")
			return
		}
		filter.BatchID = batchID
	}
	page := h.page(r)

	transfers, total, err := h.store.ListTransfers(r.Context(), filter, page)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       toTransferViews(transfers),
		Pagination: pagination.NewMeta(page, total),
	})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		WriteJSONError(w, http.StatusBadRequest, "invalid_query", "q is required")
		return
	}
	kind := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("type")))
	ctx := r.Context()

	view := searchView{Query: query}
	if kind == "" || kind == "products" {
		products, err := h.store.SearchProducts(ctx, query, searchLimit)
		if err != nil {
			WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
			return
		}
		view.Products = toProductViews(products)
	}
	if kind == "" || kind == "batches" {
		batches, err := h.store.SearchBatches(ctx, query, searchLimit)
		if err != nil {
			WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
			return
		}
		view.Batches = toBatchViews(batches)
	}
	if kind != "" && kind != "products" && kind != "batches" {
		WriteJSONError(w, http.StatusBadRequest, "invalid_query", "type must be products or batches")
		return
	}
	writeJSON(w, http.StatusOK, view)
}
