// Command tangramd is the daemon entrypoint: it loads configuration,
// builds the configured store/index backends, and serves the sync
// protocol over gRPC. It is deliberately minimal — a feature CLI/TUI is
// out of scope (spec §1) — existing only so the module is runnable, the
// way the teacher's cobra root command and Execute() made its CLI runnable.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/tangramdotdev/tangram/internal/config"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/index/boltindex"
	"github.com/tangramdotdev/tangram/internal/index/memoryindex"
	"github.com/tangramdotdev/tangram/internal/index/sqlindex"
	"github.com/tangramdotdev/tangram/internal/store"
	"github.com/tangramdotdev/tangram/internal/store/boltstore"
	"github.com/tangramdotdev/tangram/internal/store/memorystore"
	"github.com/tangramdotdev/tangram/internal/store/sqlstore"
	"github.com/tangramdotdev/tangram/internal/sync/grpctransport"
	"github.com/tangramdotdev/tangram/internal/telemetry"
)

var listenAddr string

var rootCmd = &cobra.Command{
	Use:   "tangramd",
	Short: "tangramd serves the tangram sync protocol",
	RunE:  runDaemon,
}

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "listen", ":4115", "address to serve the sync protocol on")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := telemetry.New(telemetry.Config{Debug: cfg.Advanced.InternalErrorLocations})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.NewTracerProvider(ctx, telemetry.Config{ServiceName: "tangramd"})
	if err != nil {
		return fmt.Errorf("build tracer provider: %w", err)
	}
	defer shutdownTracing(context.Background())

	st, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	idx, closeIndex, err := openIndex(cfg.Index)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer closeIndex()

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}

	srv := grpc.NewServer()
	grpctransport.Register(srv, grpctransport.NewHandler(st, idx))

	logger.Info("tangramd listening",
		zap.String("addr", listenAddr),
		zap.String("store.kind", string(cfg.Store.Kind)),
		zap.String("index.kind", string(cfg.Index.Kind)),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		srv.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

func openStore(cfg config.BackendConfig) (store.Backend, func(), error) {
	switch cfg.Kind {
	case config.BackendMemory:
		return memorystore.New(), func() {}, nil
	case config.BackendLMDB:
		s, err := boltstore.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.BackendSQLite:
		s, err := sqlstore.Open(sqlstore.SQLite(), cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.BackendPostgres:
		s, err := sqlstore.Open(sqlstore.Postgres("postgres"), cfg.Addr)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("store.kind %q has no in-process backend; run it behind internal/store/gstore or internal/store/composite", cfg.Kind)
	}
}

func openIndex(cfg config.BackendConfig) (index.Backend, func(), error) {
	switch cfg.Kind {
	case config.BackendMemory:
		return memoryindex.New(), func() {}, nil
	case config.BackendLMDB:
		i, err := boltindex.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return i, func() { i.Close() }, nil
	case config.BackendSQLite:
		i, err := sqlindex.Open(sqlindex.SQLite(), cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return i, func() { i.Close() }, nil
	case config.BackendPostgres:
		i, err := sqlindex.Open(sqlindex.Postgres("postgres"), cfg.Addr)
		if err != nil {
			return nil, nil, err
		}
		return i, func() { i.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("index.kind %q has no in-process backend for this entrypoint", cfg.Kind)
	}
}
