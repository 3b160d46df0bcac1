package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drips-network/dripfeed/internal/config"
	"github.com/drips-network/dripfeed/internal/coordinator"
	"github.com/drips-network/dripfeed/internal/db"
	"github.com/drips-network/dripfeed/internal/eventdecoder"
	"github.com/drips-network/dripfeed/internal/fetcher"
	"github.com/drips-network/dripfeed/internal/logger"
	"github.com/drips-network/dripfeed/internal/metrics"
	"github.com/drips-network/dripfeed/internal/migrations"
	"github.com/drips-network/dripfeed/internal/processor"
	"github.com/drips-network/dripfeed/internal/reorg"
	"github.com/drips-network/dripfeed/internal/rpcclient"
)

const version = "0.1.0"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dripfeed",
	Short:   "dripfeed indexes onchain events into Postgres",
	Long:    `dripfeed is a transactional blockchain event indexer: it fetches logs, decodes them, detects and recovers from reorgs, and processes events into domain tables, one process per (schema, chain).`,
	Version: version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	log.Infow("connecting to chain", "rpc_url", cfg.Chain.RPCURL)
	rpc, err := rpcclient.NewClient(ctx, cfg.Chain.RPCURL, &cfg.Chain.Retry)
	if err != nil {
		return fmt.Errorf("create rpc client: %w", err)
	}
	defer rpc.Close()

	pool, err := db.OpenPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	log.Info("running migrations")
	if err := migrations.Run(pool, cfg.Database.Schema, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	decoder := eventdecoder.NewDecoder()
	if err := registerDecodeHandlers(decoder, cfg.Chain.Contracts); err != nil {
		return fmt.Errorf("register decode handlers: %w", err)
	}

	registry := processor.NewRegistry()
	registerProcessHandlers(registry)

	reorgDetector := reorg.New(pool, rpc, reorg.Config{
		Schema:     cfg.Database.Schema,
		ChainID:    cfg.Chain.ChainID,
		StartBlock: cfg.Chain.StartBlock,
	}, log)

	blockFetcher := fetcher.New(pool, rpc, decoder, fetcher.Config{
		Schema:          cfg.Database.Schema,
		ChainID:         cfg.Chain.ChainID,
		Confirmations:   cfg.Chain.Confirmations,
		StartBlock:      cfg.Chain.StartBlock,
		FetchBatchSize:  cfg.Indexer.FetchBatchSize,
		InsertChunkSize: cfg.Indexer.InsertChunkSize,
		RPCConcurrency:  cfg.Indexer.RPCConcurrency,
	}, log)

	var visibilityThreshold *uint64
	if cfg.Chain.VisibilityThresholdBlockNum > 0 {
		v := cfg.Chain.VisibilityThresholdBlockNum
		visibilityThreshold = &v
	}

	eventProcessor := processor.New(pool, registry, processor.Config{
		Schema:                         cfg.Database.Schema,
		ChainID:                        cfg.Chain.ChainID,
		ProcessBatchSize:               cfg.Indexer.ProcessBatchSize,
		VisibilityThresholdBlockNumber: visibilityThreshold,
	}, &cfg.Chain.Retry, log)

	coord := coordinator.New(pool, reorgDetector, blockFetcher, eventProcessor, coordinator.Config{
		Schema:               cfg.Database.Schema,
		ChainID:              cfg.Chain.ChainID,
		StartBlock:           cfg.Chain.StartBlock,
		PollDelay:            cfg.Indexer.PollDelay.Duration,
		MaxConsecutiveErrors: cfg.Indexer.MaxConsecutiveErrors,
		BaseBackoff:          cfg.Indexer.BaseBackoff.Duration,
		AutoHandleReorgs:     cfg.Indexer.AutoHandleReorgs,
	}, log)

	metricsServer := metrics.NewServer(cfg.Health, log)
	if err := metricsServer.Start(ctx); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := metricsServer.Stop(stopCtx); err != nil {
			log.Warnw("metrics server shutdown error", "error", err)
		}
	}()

	log.Infow("starting dripfeed", "schema", cfg.Database.Schema, "chain_id", cfg.Chain.ChainID)
	if err := coord.Run(ctx); err != nil {
		return fmt.Errorf("run loop exited: %w", err)
	}

	log.Info("dripfeed stopped")
	return nil
}
