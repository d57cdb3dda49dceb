package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tokenTracer/internal/api"
	"tokenTracer/internal/config"
	"tokenTracer/internal/model"
	"tokenTracer/internal/session"
	"tokenTracer/internal/storage"
	"tokenTracer/internal/tracer"
)

func runTail(cmd *cobra.Command, _ []string) error {
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

	var sinks storage.Sinks
	if cfg.Out != "" {
		jsonl := storage.NewJsonlSink(cfg.Out)
		defer jsonl.Close()
		sinks = append(sinks, jsonl)
	}
	if cfg.ExportPGDSN != "" {
		pg, err := openPostgres(ctx, cfg.ExportPGDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		sinks = append(sinks, pg)
	}
	var sink storage.EventSink
	if len(sinks) > 0 {
		sink = sinks
	}

	kv, err := openKV(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	checkpoint := tracer.NewCheckpointStore(cfg.Checkpoint, cfg.CheckpointEnabled)

	var (
		outMu    sync.Mutex
		enc      = json.NewEncoder(cmd.OutOrStdout())
		printed  = make(map[model.EventKey]struct{})
		caughtUp atomic.Bool
	)
	printEvents := func(events []model.DecodedEvent) {
		outMu.Lock()
		defer outMu.Unlock()
		for _, event := range events {
			if _, seen := printed[event.Key()]; seen {
				continue
			}
			printed[event.Key()] = struct{}{}
			if err := enc.Encode(event); err != nil {
				logger.Warn("print event failed", zap.Error(err))
				return
			}
		}
	}

	engine := session.New(chainClient, kv, session.Config{
		Registry: registry,
		Fetch:    tracer.FetchConfig{MaxBlockRange: cfg.MaxBlockRange, Concurrency: cfg.Concurrency},
		Tail: tracer.TailConfig{
			ResubscribeRetries: cfg.MaxRetries,
			ResubscribeBackoff: cfg.RetryBackoff,
			OnEvents: func(_ uint64, added []model.DecodedEvent) {
				printEvents(added)
			},
			OnBlock: func(outcome tracer.BlockOutcome) {
				if !caughtUp.Load() {
					return
				}
				if !outcome.HasCursor {
					return
				}
				if err := checkpoint.Save(cfg.Address, outcome.Cursor); err != nil {
					logger.Warn("save checkpoint failed", zap.Uint64("block", outcome.Cursor), zap.Error(err))
				}
			},
		},
		CatchUp: tracer.CatchUpConfig{
			BatchSize:    cfg.BatchSize,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
		},
		Sink:   sink,
		Logger: logger,
	})
	defer engine.Close()

	logger.Info("tail start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("address", cfg.Address),
		zap.Uint64("lookback", cfg.Lookback),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
		zap.String("listen", cfg.Listen),
		zap.String("storage", cfg.Storage.Backend),
	)

	// Blocks mined during catch-up reach the tail; the merge drops any overlap.
	if err := engine.SubscribeLive(ctx, cfg.Address); err != nil {
		return withStatus(err)
	}

	result, err := engine.CatchUp(ctx, cfg.Address, cfg.Lookback, checkpoint)
	if err != nil {
		return withStatus(err)
	}
	caughtUp.Store(true)
	printEvents(engine.Events())
	fmt.Fprintf(cmd.ErrOrStderr(), "caught up on blocks %d-%d (%d new events, resumed=%t), tailing\n",
		result.Window.FromBlock, result.Window.ToBlock, result.Added, result.Resumed)

	var server *api.Server
	if cfg.Listen != "" {
		server = api.NewServer(cfg.Listen, engine, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("api server stopped", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	engine.UnsubscribeLive()

	if server != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(stopCtx); err != nil {
			logger.Warn("api server shutdown", zap.Error(err))
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "unsubscribed, %d events traced\n", engine.Snapshot().Len())
	return nil
}
