package tracer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tokenTracer/internal/chain"
	"tokenTracer/internal/metrics"
	"tokenTracer/internal/model"
	"tokenTracer/internal/storage"
)

// CatchUpConfig holds settings for a batched backfill.
type CatchUpConfig struct {
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// CatchUp backfills a target's events batch by batch, merging each batch into the store,
// exporting newly added events and advancing the checkpoint.
type CatchUp struct {
	cfg        CatchUpConfig
	fetcher    *Fetcher
	decoder    *Decoder
	store      *EventStore
	sink       storage.EventSink
	checkpoint *CheckpointStore
	logger     *zap.Logger
}

// NewCatchUp builds a CatchUp. sink and checkpoint may be nil.
func NewCatchUp(cfg CatchUpConfig, fetcher *Fetcher, decoder *Decoder, store *EventStore, sink storage.EventSink, checkpoint *CheckpointStore, logger *zap.Logger) *CatchUp {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkpoint == nil {
		checkpoint = NewCheckpointStore("", false)
	}
	return &CatchUp{
		cfg:        cfg,
		fetcher:    fetcher,
		decoder:    decoder,
		store:      store,
		sink:       sink,
		checkpoint: checkpoint,
		logger:     logger.With(zap.String("component", "catchup")),
	}
}

// CatchUpResult summarises a backfill.
type CatchUpResult struct {
	Window  Window
	Resumed bool
	Added   int
}

// Run covers [from, latest] for target, where from is the block after the stored checkpoint, or
// latest-lookback when there is none. A stored cursor wins even when it is older than the
// lookback window.
func (c *CatchUp) Run(ctx context.Context, target string, lookback uint64) (CatchUpResult, error) {
	addr, err := NormalizeAddress(target)
	if err != nil {
		return CatchUpResult{}, err
	}

	window, err := c.fetcher.ResolveWindow(ctx, lookback)
	if err != nil {
		return CatchUpResult{}, err
	}
	result := CatchUpResult{Window: window}

	cp, ok, err := c.checkpoint.Load(addr.Hex())
	if err != nil {
		return result, err
	}
	if ok {
		result.Window.FromBlock = cp.LastProcessedBlock + 1
		result.Resumed = true
		c.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", result.Window.FromBlock))
	}

	if result.Window.FromBlock > result.Window.ToBlock {
		c.logger.Info("nothing to catch up", zap.Uint64("from", result.Window.FromBlock), zap.Uint64("to", result.Window.ToBlock))
		return result, nil
	}

	ranges := BlockRange{From: result.Window.FromBlock, To: result.Window.ToBlock}.Chunks(c.cfg.BatchSize)
	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		logs, err := c.fetchWithRetry(ctx, addr, blockRange)
		if err != nil {
			return result, err
		}

		added := c.store.Merge(c.decoder.DecodeAll(logs))
		metrics.EventsMergedTotal.WithLabelValues("past").Add(float64(len(added)))
		result.Added += len(added)

		if c.sink != nil {
			if err := c.sink.PutEventBatch(ctx, added); err != nil {
				return result, fmt.Errorf("store events: %w", err)
			}
		}
		if err := c.checkpoint.Save(addr.Hex(), blockRange.To); err != nil {
			return result, err
		}

		c.logger.Info("batch complete", zap.Int("added", len(added)), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	}

	return result, nil
}

func (c *CatchUp) fetchWithRetry(ctx context.Context, addr common.Address, blockRange BlockRange) ([]model.LogRecord, error) {
	var logs []model.LogRecord
	retry := chain.Backoff{Retries: c.cfg.MaxRetries, Base: c.cfg.RetryBackoff}
	err := retry.Do(ctx, func(ctx context.Context) error {
		var err error
		logs, err = c.fetcher.fetchRange(ctx, addr, blockRange.From, blockRange.To)
		if err != nil {
			c.logger.Warn("fetch batch failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		}
		return err
	})
	return logs, err
}
