// Package api parses query API service flags and launches the service.
package api

import (
	"context"
	"flag"

	entrypoint "github.com/tracefold/tracefold/internal/platform/cmd"
	"github.com/tracefold/tracefold/internal/services/provenance/app"
)

// Config holds query API command configuration.
type Config struct {
	HTTPAddr string `env:"TRACEFOLD_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"TRACEFOLD_GRPC_ADDR" envDefault:":8081"`
	DBPath   string `env:"TRACEFOLD_DB_PATH" envDefault:"data/provenance.db"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The query API listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "The gRPC health listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The SQLite read model path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the query-only API service. The read model is served as-is;
// no indexing loop runs in this process.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAPI, func(context.Context) error {
		server, err := app.New(app.Options{
			HTTPAddr: cfg.HTTPAddr,
			GRPCAddr: cfg.GRPCAddr,
			DBPath:   cfg.DBPath,
		})
		if err != nil {
			return err
		}
		return server.Serve(ctx)
	})
}
