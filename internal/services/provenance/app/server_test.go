package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/tracefold/tracefold/internal/chain"
	platformgrpc "github.com/tracefold/tracefold/internal/platform/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type scriptedSource struct {
	head   uint64
	events []chain.Event
}

func (s *scriptedSource) HeadBlock(ctx context.Context) (uint64, error) {
	return s.head, nil
}

func (s *scriptedSource) FetchRange(ctx context.Context, from, to uint64) ([]chain.Event, error) {
	var inRange []chain.Event
	for _, event := range s.events {
		if event.Position.Block >= from && event.Position.Block <= to {
			inRange = append(inRange, event)
		}
	}
	return inRange, nil
}

func startServer(t *testing.T, source chain.Source) *Server {
	t.Helper()
	server, err := New(Options{
		HTTPAddr: "127.0.0.1:0",
		GRPCAddr: "127.0.0.1:0",
		DBPath:   filepath.Join(t.TempDir(), "provenance.db"),
		Source:   source,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("server did not stop after cancel")
		}
	})
	return server
}

func waitForServing(t *testing.T, server *Server) {
	t.Helper()
	conn, err := grpc.NewClient(server.GRPCAddr(),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial health: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := platformgrpc.WaitForHealth(ctx, conn, HealthService, nil); err != nil {
		t.Fatalf("wait for health: %v", err)
	}
}

func TestServerAnswersQueriesWithoutSource(t *testing.T) {
	t.Parallel()

	server := startServer(t, nil)
	waitForServing(t, server)

	response, err := http.Get(fmt.Sprintf("http://%s/health", server.HTTPAddr()))
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", response.StatusCode)
	}
}

func TestServerIndexesFromSource(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	source := &scriptedSource{
		head: 12,
		events: []chain.Event{
			{
				Kind:      chain.KindProductCreated,
				Position:  chain.Position{Block: 10, LogIndex: 0},
				Timestamp: created,
				ProductCreated: &chain.ProductCreated{
					ProductID:    1,
					Name:         "Paracetamol",
					Manufacturer: "0xa1",
					Active:       true,
					CreatedAt:    created,
				},
			},
			{
				Kind:      chain.KindBatchCreated,
				Position:  chain.Position{Block: 11, LogIndex: 0},
				Timestamp: created.Add(time.Hour),
				BatchCreated: &chain.BatchCreated{
					BatchID:   100,
					ProductID: 1,
					Owner:     "0xa1",
					Quantity:  500,
				},
			},
		},
	}

	server := startServer(t, source)
	waitForServing(t, server)

	deadline := time.Now().Add(10 * time.Second)
	for {
		response, err := http.Get(fmt.Sprintf("http://%s/api/batches/100", server.HTTPAddr()))
		if err != nil {
			t.Fatalf("get batch: %v", err)
		}
		if response.StatusCode == http.StatusOK {
			var detail struct {
				Batch struct {
					Quantity     uint64 `json:"quantity"`
					CurrentOwner string `json:"currentOwner"`
				} `json:"batch"`
			}
			err := json.NewDecoder(response.Body).Decode(&detail)
			response.Body.Close()
			if err != nil {
				t.Fatalf("decode batch: %v", err)
			}
			if detail.Batch.Quantity != 500 || detail.Batch.CurrentOwner != "0xa1" {
				t.Fatalf("batch = %+v", detail.Batch)
			}
			return
		}
		response.Body.Close()
		if time.Now().After(deadline) {
			t.Fatal("batch never indexed")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
