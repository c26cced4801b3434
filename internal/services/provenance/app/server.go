// Package app wires the provenance runtime: storage, query API, health
// surface, and the indexing loop lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tracefold/tracefold/internal/chain"
	"github.com/tracefold/tracefold/internal/platform/timeouts"
	"github.com/tracefold/tracefold/internal/services/provenance/api/rest"
	"github.com/tracefold/tracefold/internal/services/provenance/indexer"
	"github.com/tracefold/tracefold/internal/services/provenance/projector"
	provenancesqlite "github.com/tracefold/tracefold/internal/services/provenance/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the name the gRPC health server reports for the runtime.
const HealthService = "provenance.runtime"

// Options configures a provenance server.
type Options struct {
	// HTTPAddr is the query API listen address, for example ":8080".
	HTTPAddr string
	// GRPCAddr is the health listen address, for example ":8081".
	GRPCAddr string
	// DBPath is the SQLite read-model path. Parent directories are created.
	DBPath string
	// Source feeds the indexing loop. When nil the loop is disabled and the
	// server answers queries only.
	Source chain.Source
	// Indexer paces the loop when Source is set.
	Indexer indexer.Config
}

// Server hosts the query API, the gRPC health surface, and optionally the
// indexing loop.
type Server struct {
	httpListener net.Listener
	grpcListener net.Listener
	httpServer   *http.Server
	grpcServer   *grpc.Server
	health       *health.Server
	store        *provenancesqlite.Store
	loop         *indexer.Loop
}

// New creates a configured provenance server. The caller owns the returned
// server and must Serve or Close it.
func New(opts Options) (*Server, error) {
	if opts.HTTPAddr == "" {
		opts.HTTPAddr = ":8080"
	}
	if opts.GRPCAddr == "" {
		opts.GRPCAddr = ":8081"
	}
	if opts.DBPath == "" {
		opts.DBPath = filepath.Join("data", "provenance.db")
	}

	store, err := openStore(opts.DBPath)
	if err != nil {
		return nil, err
	}

	httpListener, err := net.Listen("tcp", opts.HTTPAddr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", opts.HTTPAddr, err)
	}
	grpcListener, err := net.Listen("tcp", opts.GRPCAddr)
	if err != nil {
		_ = httpListener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", opts.GRPCAddr, err)
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	server := &Server{
		httpListener: httpListener,
		grpcListener: grpcListener,
		httpServer: &http.Server{
			Handler:           rest.NewHandler(store),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
	}
	if opts.Source != nil {
		server.loop = indexer.New(opts.Source, projector.New(store), store, opts.Indexer)
	}
	return server, nil
}

// HTTPAddr returns the bound query API address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the bound health address.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Serve runs all parts until ctx is cancelled or one of them fails. The
// indexing loop drains before Serve returns; a range cut short by the
// cancellation is replayed on the next start because the checkpoint only
// moves after a full range lands.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()

	httpErr := make(chan error, 1)
	grpcErr := make(chan error, 1)
	// loopErr stays nil without a source so its select case never fires.
	var loopErr chan error

	go func() {
		httpErr <- s.httpServer.Serve(s.httpListener)
	}()
	go func() {
		grpcErr <- s.grpcServer.Serve(s.grpcListener)
	}()
	if s.loop != nil {
		loopErr = make(chan error, 1)
		go func() {
			loopErr <- s.loop.Run(loopCtx)
		}()
	}

	log.Printf("provenance API listening at %v, health at %v", s.HTTPAddr(), s.GRPCAddr())

	var failure error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		httpErr <- nil
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			failure = fmt.Errorf("serve HTTP: %w", err)
		}
	case err := <-grpcErr:
		grpcErr <- nil
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			failure = fmt.Errorf("serve gRPC: %w", err)
		}
	case err := <-loopErr:
		loopErr <- nil
		if err != nil {
			failure = fmt.Errorf("indexing loop: %w", err)
		}
	}

	s.health.Shutdown()
	cancelLoop()
	if loopErr != nil {
		if err := <-loopErr; err != nil && failure == nil {
			failure = fmt.Errorf("indexing loop: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown HTTP server: %v", err)
	}
	s.grpcServer.GracefulStop()

	if err := <-httpErr; err != nil && !errors.Is(err, http.ErrServerClosed) && failure == nil {
		failure = fmt.Errorf("serve HTTP: %w", err)
	}
	if err := <-grpcErr; err != nil && !errors.Is(err, grpc.ErrServerStopped) && failure == nil {
		failure = fmt.Errorf("serve gRPC: %w", err)
	}
	return failure
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.httpListener != nil {
		_ = s.httpListener.Close()
	}
	if s.grpcListener != nil {
		_ = s.grpcListener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close provenance store: %v", err)
		}
	}
}

func openStore(path string) (*provenancesqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := provenancesqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open provenance sqlite store: %w", err)
	}
	return store, nil
}
