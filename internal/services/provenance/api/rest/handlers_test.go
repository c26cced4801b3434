package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/tracefold/tracefold/internal/chain"
	"github.com/tracefold/tracefold/internal/services/provenance/storage"
	"github.com/tracefold/tracefold/internal/services/provenance/storage/sqlite"
)

func newTestAPI(t *testing.T) (http.Handler, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "provenance.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return NewHandler(store), store
}

func seedScenario(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

	if err := store.UpsertProduct(ctx, storage.Product{
		ProductID:    1,
		Name:         "Paracetamol",
		Description:  "500mg tablets",
		Manufacturer: "0xa1",
		Active:       true,
		CreatedAt:    created,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if err := store.UpsertBatch(ctx, storage.Batch{
		BatchID:   100,
		ProductID: 1,
		Quantity:  500,
		Creator:   "0xa1",
		CreatedAt: created.Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed batch: %v", err)
	}
}

func seedTransfers(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	transfers := []storage.Transfer{
		{
			BatchID: 100, From: "0xa1", To: "0xb2", Location: "Mumbai",
			Position: chain.Position{Block: 11, LogIndex: 0}, Timestamp: base,
		},
		{
			BatchID: 100, From: "0xb2", To: "0xc3", Location: "Delhi",
			Position: chain.Position{Block: 12, LogIndex: 0}, Timestamp: base.Add(time.Hour),
		},
	}
	for _, transfer := range transfers {
		if err := store.InsertTransfer(ctx, transfer); err != nil {
			t.Fatalf("seed transfer: %v", err)
		}
	}
	if err := store.SetBatchOwner(ctx, 100, "0xc3"); err != nil {
		t.Fatalf("set owner: %v", err)
	}
}

func getJSON(t *testing.T, handler http.Handler, path string, wantStatus int, out any) {
	t.Helper()
	request := httptest.NewRequest(http.MethodGet, path, nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != wantStatus {
		t.Fatalf("GET %s = %d, want %d: %s", path, recorder.Code, wantStatus, recorder.Body)
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
		t.Fatalf("decode GET %s: %v", path, err)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)
	var body map[string]string
	getJSON(t, handler, "/health", http.StatusOK, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestGetBatchAfterCreation(t *testing.T) {
	t.Parallel()

	handler, store := newTestAPI(t)
	seedScenario(t, store)

	var detail struct {
		Batch struct {
			BatchID      uint64 `json:"batchId"`
			Quantity     uint64 `json:"quantity"`
			CurrentOwner string `json:"currentOwner"`
			Recalled     bool   `json:"recalled"`
			Transferable bool   `json:"transferable"`
		} `json:"batch"`
		Product *struct {
			Name string `json:"name"`
		} `json:"product"`
	}
	getJSON(t, handler, "/api/batches/100", http.StatusOK, &detail)

	if detail.Batch.Quantity != 500 {
		t.Fatalf("quantity = %d, want 500", detail.Batch.Quantity)
	}
	if detail.Batch.CurrentOwner != "0xa1" {
		t.Fatalf("owner = %q, want creator", detail.Batch.CurrentOwner)
	}
	if detail.Batch.Recalled || !detail.Batch.Transferable {
		t.Fatalf("batch = %+v", detail.Batch)
	}
	if detail.Product == nil || detail.Product.Name != "Paracetamol" {
		t.Fatalf("product = %+v", detail.Product)
	}
}

func TestProvenanceTimelineOrdersTransfers(t *testing.T) {
	t.Parallel()

	handler, store := newTestAPI(t)
	seedScenario(t, store)
	seedTransfers(t, store)

	var provenance struct {
		BatchID      uint64 `json:"batchId"`
		CurrentOwner string `json:"currentOwner"`
		Verified     bool   `json:"verified"`
		Events       []struct {
			Kind     string `json:"kind"`
			Transfer *struct {
				From string `json:"from"`
				To   string `json:"to"`
			} `json:"transfer"`
		} `json:"events"`
		TransferCount int `json:"transferCount"`
	}
	getJSON(t, handler, "/api/provenance/100", http.StatusOK, &provenance)

	if provenance.CurrentOwner != "0xc3" {
		t.Fatalf("owner = %q, want 0xc3", provenance.CurrentOwner)
	}
	if provenance.TransferCount != 2 || !provenance.Verified {
		t.Fatalf("provenance = %+v", provenance)
	}

	var transfers []struct{ From, To string }
	for _, event := range provenance.Events {
		if event.Kind == "transfer" {
			transfers = append(transfers, struct{ From, To string }{event.Transfer.From, event.Transfer.To})
		}
	}
	if len(transfers) != 2 {
		t.Fatalf("transfer entries = %d, want 2", len(transfers))
	}
	if transfers[0].To != "0xb2" || transfers[1].To != "0xc3" {
		t.Fatalf("transfer order = %+v", transfers)
	}
}

func TestRecalledBatchIsNotTransferable(t *testing.T) {
	t.Parallel()

	handler, store := newTestAPI(t)
	seedScenario(t, store)
	seedTransfers(t, store)
	if err := store.MarkBatchRecalled(context.Background(), storage.Recall{
		BatchID:   100,
		Reason:    "Contamination",
		Initiator: "0xa1",
		Position:  chain.Position{Block: 13, LogIndex: 0},
		Timestamp: time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("mark recalled: %v", err)
	}

	var detail struct {
		Batch struct {
			Recalled     bool   `json:"recalled"`
			RecallReason string `json:"recallReason"`
			Transferable bool   `json:"transferable"`
		} `json:"batch"`
		Transfers []struct {
			To string `json:"to"`
		} `json:"transfers"`
	}
	getJSON(t, handler, "/api/batches/100", http.StatusOK, &detail)

	if !detail.Batch.Recalled || detail.Batch.Transferable {
		t.Fatalf("batch = %+v", detail.Batch)
	}
	if detail.Batch.RecallReason != "Contamination" {
		t.Fatalf("reason = %q", detail.Batch.RecallReason)
	}
	// The transfer history stays visible after a recall.
	if len(detail.Transfers) != 2 {
		t.Fatalf("transfers = %d, want 2", len(detail.Transfers))
	}
}

func TestListBatchesEnvelope(t *testing.T) {
	t.Parallel()

	handler, store := newTestAPI(t)
	seedScenario(t, store)

	var list struct {
		Data       []json.RawMessage `json:"data"`
		Pagination struct {
			Page  int `json:"page"`
			Limit int `json:"limit"`
			Total int `json:"total"`
			Pages int `json:"pages"`
		} `json:"pagination"`
	}
	getJSON(t, handler, "/api/batches?page=1&limit=5", http.StatusOK, &list)

	if len(list.Data) != 1 || list.Pagination.Total != 1 || list.Pagination.Pages != 1 {
		t.Fatalf("list = %+v", list)
	}
	if list.Pagination.Page != 1 || list.Pagination.Limit != 5 {
		t.Fatalf("pagination = %+v", list.Pagination)
	}
}

func TestPaginationClampsLimit(t *testing.T) {
	t.Parallel()

	handler, store := newTestAPI(t)
	seedScenario(t, store)

	var list struct {
		Pagination struct {
			Limit int `json:"limit"`
		} `json:"pagination"`
	}
	getJSON(t, handler, "/api/products?limit=10000", http.StatusOK, &list)
	if list.Pagination.Limit != maxPageLimit {
		t.Fatalf("limit = %d, want clamped to %d", list.Pagination.Limit, maxPageLimit)
	}
}

func TestNotFoundResponses(t *testing.T) {
	t.Parallel()

	handler, store := newTestAPI(t)
	seedScenario(t, store)

	for _, path := range []string{"/api/products/404", "/api/batches/404", "/api/provenance/404"} {
		var body struct {
			Error string `json:"error"`
		}
		getJSON(t, handler, path, http.StatusNotFound, &body)
		if body.Error != "not_found" {
			t.Fatalf("GET %s error = %q", path, body.Error)
		}
	}

	getJSON(t, handler, "/api/batches/abc", http.StatusBadRequest, nil)
}

func TestStatsReportsCheckpoint(t *testing.T) {
	t.Parallel()

	handler, store := newTestAPI(t)
	seedScenario(t, store)
	if err := store.SetCheckpoint(context.Background(), 42); err != nil {
		t.Fatalf("set checkpoint: %v", err)
	}

	var stats struct {
		Products         int     `json:"products"`
		Batches          int     `json:"batches"`
		LastIndexedBlock *uint64 `json:"lastIndexedBlock"`
	}
	getJSON(t, handler, "/api/stats", http.StatusOK, &stats)
	if stats.Products != 1 || stats.Batches != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.LastIndexedBlock == nil || *stats.LastIndexedBlock != 42 {
		t.Fatalf("lastIndexedBlock = %v, want 42", stats.LastIndexedBlock)
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	handler, store := newTestAPI(t)
	seedScenario(t, store)

	var result struct {
		Products []struct {
			Name string `json:"name"`
		} `json:"products"`
		Batches []struct {
			BatchID uint64 `json:"batchId"`
		} `json:"batches"`
	}
	getJSON(t, handler, "/api/search?q=Paracetamol", http.StatusOK, &result)
	if len(result.Products) != 1 || len(result.Batches) != 1 {
		t.Fatalf("search = %+v", result)
	}

	getJSON(t, handler, "/api/search", http.StatusBadRequest, nil)
	getJSON(t, handler, "/api/search?q=x&type=bogus", http.StatusBadRequest, nil)
}

func TestCORSHeadersAndPreflight(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q, want *", got)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodOptions, "/api/products", nil))
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want %d", recorder.Code, http.StatusNoContent)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Methods"); got != "GET, OPTIONS" {
		t.Fatalf("allow-methods = %q", got)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	request.Header.Set("X-Request-Id", "req-123")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if got := recorder.Header().Get("X-Request-Id"); got != "req-123" {
		t.Fatalf("request id = %q, want echoed req-123", got)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	if recorder.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id must be assigned when absent")
	}
}
