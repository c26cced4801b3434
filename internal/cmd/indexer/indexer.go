// Package indexer parses indexer service flags and launches the service.
package indexer

import (
	"context"
	"flag"
	"time"

	"github.com/tracefold/tracefold/internal/chain/ethrpc"
	entrypoint "github.com/tracefold/tracefold/internal/platform/cmd"
	"github.com/tracefold/tracefold/internal/services/provenance/app"
	indexerloop "github.com/tracefold/tracefold/internal/services/provenance/indexer"
)

// Config holds indexer command configuration.
type Config struct {
	RPCEndpoint  string        `env:"TRACEFOLD_RPC_URL"`
	Contract     string        `env:"TRACEFOLD_CONTRACT_ADDRESS"`
	HTTPAddr     string        `env:"TRACEFOLD_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr     string        `env:"TRACEFOLD_GRPC_ADDR" envDefault:":8081"`
	DBPath       string        `env:"TRACEFOLD_DB_PATH" envDefault:"data/provenance.db"`
	StartBlock   uint64        `env:"TRACEFOLD_START_BLOCK" envDefault:"0"`
	BatchSize    uint64        `env:"TRACEFOLD_BATCH_SIZE" envDefault:"1000"`
	PollInterval time.Duration `env:"TRACEFOLD_POLL_INTERVAL" envDefault:"15s"`
	RetryBackoff time.Duration `env:"TRACEFOLD_RETRY_BACKOFF" envDefault:"5s"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.RPCEndpoint, "rpc-url", cfg.RPCEndpoint, "The JSON-RPC endpoint of the event source")
	fs.StringVar(&cfg.Contract, "contract", cfg.Contract, "The supply chain contract address")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The query API listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "The gRPC health listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The SQLite read model path")
	fs.Uint64Var(&cfg.StartBlock, "start-block", cfg.StartBlock, "The block indexing starts from without a checkpoint")
	fs.Uint64Var(&cfg.BatchSize, "batch-size", cfg.BatchSize, "The maximum blocks per fetched range")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "The idle sleep once caught up with the head")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "The sleep before re-fetching a failed range")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the indexing loop and the query API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceIndexer, func(context.Context) error {
		source, err := ethrpc.NewClient(cfg.RPCEndpoint, cfg.Contract)
		if err != nil {
			return err
		}
		server, err := app.New(app.Options{
			HTTPAddr: cfg.HTTPAddr,
			GRPCAddr: cfg.GRPCAddr,
			DBPath:   cfg.DBPath,
			Source:   source,
			Indexer: indexerloop.Config{
				StartBlock:   cfg.StartBlock,
				BatchSize:    cfg.BatchSize,
				PollInterval: cfg.PollInterval,
				RetryBackoff: cfg.RetryBackoff,
			},
		})
		if err != nil {
			return err
		}
		return server.Serve(ctx)
	})
}
