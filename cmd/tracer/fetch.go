package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tokenTracer/internal/config"
	"tokenTracer/internal/session"
	"tokenTracer/internal/storage"
	"tokenTracer/internal/tracer"
)

func runFetch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry, err := loadRegistry(cfg.ABIFiles)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := dialChain(ctx, cfg.RPCURL, cfg.RPCRate, cfg.PollInterval, logger)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	var sink storage.EventSink
	if cfg.Out != "" {
		jsonl := storage.NewJsonlSink(cfg.Out)
		defer jsonl.Close()
		sink = jsonl
	}

	engine := session.New(chainClient, storage.NewMemoryKV(), session.Config{
		Registry: registry,
		Fetch:    tracer.FetchConfig{MaxBlockRange: cfg.MaxBlockRange, Concurrency: cfg.Concurrency},
		Sink:     sink,
		Logger:   logger,
	})
	defer engine.Close()

	logger.Info("fetch start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("address", cfg.Address),
		zap.Uint64("lookback", cfg.Lookback),
		zap.Int("signatures", len(registry.Signatures())),
	)

	result, err := engine.FetchPastEvents(ctx, cfg.Address, cfg.Lookback)
	if err != nil {
		return withStatus(err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, event := range engine.DisplayEvents() {
		if err := enc.Encode(event); err != nil {
			return err
		}
	}
	fmt.Fprintln(cmd.ErrOrStderr(), result.Status())
	return nil
}
