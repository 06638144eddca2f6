package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittovault/internal/logger"
	"github.com/marmos91/dittovault/pkg/config"
	"github.com/marmos91/dittovault/pkg/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the storage node",
		Long: `Run the storage node until interrupted.

State is restored from the configured snapshot storage on start and a final
checkpoint is written on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := setupLogging(&cfg.Logging); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ===== Step 1: Metrics =====
	metricsResult := config.InitializeMetrics(cfg)

	// ===== Step 2: Storage =====
	backend, err := config.CreateBackend(ctx, &cfg.Shards.Backend, metricsResult.BlobMetrics)
	if err != nil {
		return fmt.Errorf("failed to create blob backend: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("Failed to close blob backend: %v", err)
		}
	}()
	logger.Info("Blob backend: %s", backend.Type)

	storage, err := config.CreateSnapshotStorage(&cfg.Snapshots)
	if err != nil {
		return fmt.Errorf("failed to create snapshot storage: %w", err)
	}

	// ===== Step 3: Node =====
	nodeCfg, err := config.NodeConfig(cfg, backend, storage, metricsResult.StoreMetrics)
	if err != nil {
		_ = storage.Close()
		return err
	}
	logger.Info("Node principal: %s", nodeCfg.Service)

	vault, err := server.New(ctx, nodeCfg)
	if err != nil {
		_ = storage.Close()
		return fmt.Errorf("failed to start node: %w", err)
	}
	defer func() {
		if err := vault.Close(); err != nil {
			logger.Error("Failed to close node: %v", err)
		}
	}()

	// ===== Step 4: Serve =====
	g, gctx := errgroup.WithContext(ctx)
	if metricsServer := config.CreateMetricsServer(cfg, vault.Health); metricsServer != nil {
		g.Go(func() error { return metricsServer.Start(gctx) })
	}
	g.Go(func() error { return vault.Serve(gctx) })

	logger.Info("DittoVault is running. Press Ctrl+C to stop.")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func setupLogging(cfg *config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	if err := logger.SetOutput(cfg.Output); err != nil {
		return fmt.Errorf("failed to set log output: %w", err)
	}
	return nil
}
