package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"tokenTracer/internal/history"
	"tokenTracer/internal/metrics"
	"tokenTracer/internal/model"
	"tokenTracer/internal/storage"
	"tokenTracer/internal/tracer"
)

// Chain is everything an Engine needs from the JSON-RPC endpoint.
type Chain interface {
	tracer.LogSource
	tracer.BlockSource
	history.ChainSource
}

// Config wires an Engine.
type Config struct {
	Registry *tracer.Registry
	Fetch    tracer.FetchConfig
	Tail     tracer.TailConfig
	CatchUp  tracer.CatchUpConfig
	History  history.ReconcilerConfig
	// Sink, when set, receives every newly merged event.
	Sink   storage.EventSink
	Logger *zap.Logger
}

// Engine owns one session's state: the accumulated event set, the live tail and both history
// collections. External callers read snapshots and never mutate state directly.
type Engine struct {
	fetcher    *tracer.Fetcher
	decoder    *tracer.Decoder
	store      *tracer.EventStore
	tail       *tracer.LiveTail
	reconciler *history.Reconciler
	history    *history.Store
	catchUp    tracer.CatchUpConfig
	sink       storage.EventSink
	logger     *zap.Logger

	historyMu sync.Mutex
}

// New builds an Engine over chain and a key/value store for history.
func New(chain Chain, kv storage.KV, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = tracer.DefaultRegistry()
	}

	e := &Engine{
		fetcher: tracer.NewFetcher(chain, registry, cfg.Fetch, logger),
		decoder: tracer.NewDecoder(registry, logger),
		store:   tracer.NewEventStore(),
		history: history.NewStore(kv),
		catchUp: cfg.CatchUp,
		sink:    cfg.Sink,
		logger:  logger.With(zap.String("component", "session")),
	}
	e.reconciler = history.NewReconciler(chain, e.decoder, cfg.History, logger)

	tailCfg := cfg.Tail
	onEvents := tailCfg.OnEvents
	tailCfg.OnEvents = func(block uint64, added []model.DecodedEvent) {
		e.export(context.Background(), added)
		if onEvents != nil {
			onEvents(block, added)
		}
	}
	e.tail = tracer.NewLiveTail(e.fetcher, e.decoder, chain, e.store, tailCfg, logger)
	return e
}

// FetchResult describes a completed past-events fetch.
type FetchResult struct {
	Window tracer.Window
	Found  int
	Added  int
}

// Status is the line reported to the user.
func (r FetchResult) Status() string {
	if r.Found == 0 {
		return fmt.Sprintf("no events found (scanned blocks %d-%d)", r.Window.FromBlock, r.Window.ToBlock)
	}
	return fmt.Sprintf("found %d events, %d new (scanned blocks %d-%d)", r.Found, r.Added, r.Window.FromBlock, r.Window.ToBlock)
}

// FetchPastEvents fetches the last lookback blocks for address and merges the decoded events.
// On failure the accumulated set is left untouched.
func (e *Engine) FetchPastEvents(ctx context.Context, address string, lookback uint64) (FetchResult, error) {
	window, logs, err := e.fetcher.FetchPast(ctx, address, lookback)
	if err != nil {
		return FetchResult{}, err
	}

	added := e.store.Merge(e.decoder.DecodeAll(logs))
	metrics.EventsMergedTotal.WithLabelValues("past").Add(float64(len(added)))
	e.export(ctx, added)

	result := FetchResult{Window: window, Found: len(logs), Added: len(added)}
	e.logger.Info("past events fetched",
		zap.String("target", address),
		zap.Uint64("from", window.FromBlock),
		zap.Uint64("to", window.ToBlock),
		zap.Int("found", result.Found),
		zap.Int("added", result.Added),
	)
	return result, nil
}

// CatchUp backfills address from checkpoint, or from the lookback window when there is none.
func (e *Engine) CatchUp(ctx context.Context, address string, lookback uint64, checkpoint *tracer.CheckpointStore) (tracer.CatchUpResult, error) {
	runner := tracer.NewCatchUp(e.catchUp, e.fetcher, e.decoder, e.store, e.sink, checkpoint, e.logger)
	return runner.Run(ctx, address, lookback)
}

// SubscribeLive starts the live tail for address.
func (e *Engine) SubscribeLive(ctx context.Context, address string) error {
	return e.tail.Subscribe(ctx, address)
}

// UnsubscribeLive stops the live tail. It never fails.
func (e *Engine) UnsubscribeLive() {
	e.tail.Unsubscribe()
}

// TailState reports the live tail state.
func (e *Engine) TailState() tracer.TailState {
	return e.tail.State()
}

// Snapshot returns the current immutable event set.
func (e *Engine) Snapshot() *tracer.EventSet {
	return e.store.Snapshot()
}

// Events returns accumulated events in canonical order.
func (e *Engine) Events() []model.DecodedEvent {
	return e.store.Snapshot().Events()
}

// DisplayEvents returns accumulated events most recent first.
func (e *Engine) DisplayEvents() []model.DecodedEvent {
	return e.store.Snapshot().Recent()
}

// FetchChainHistory rebuilds the chain collection for tokenAddress, replacing the previous one.
func (e *Engine) FetchChainHistory(ctx context.Context, tokenAddress string) ([]model.TransferRecord, error) {
	records, err := e.reconciler.FetchChainHistory(ctx, tokenAddress)
	if err != nil {
		return nil, err
	}
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	if err := e.history.SaveChain(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

// RecordLocalTransfer stores a transfer confirmed by this user.
func (e *Engine) RecordLocalTransfer(ctx context.Context, details history.LocalTransfer) (model.TransferRecord, error) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	return e.history.RecordLocal(ctx, details)
}

// ClearHistory empties one collection.
func (e *Engine) ClearHistory(ctx context.Context, source model.Source) error {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	return e.history.Clear(ctx, source)
}

// Timeline loads both collections as separate views.
func (e *Engine) Timeline(ctx context.Context) (history.Timeline, error) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	local, err := e.history.Load(ctx, model.SourceLocal)
	if err != nil {
		return history.Timeline{}, err
	}
	chainRecords, err := e.history.Load(ctx, model.SourceChain)
	if err != nil {
		return history.Timeline{}, err
	}
	return history.Reconcile(local, chainRecords), nil
}

// Close stops the live tail.
func (e *Engine) Close() {
	e.tail.Unsubscribe()
}

func (e *Engine) export(ctx context.Context, events []model.DecodedEvent) {
	if e.sink == nil || len(events) == 0 {
		return
	}
	if err := e.sink.PutEventBatch(ctx, events); err != nil {
		e.logger.Warn("export events failed", zap.Int("events", len(events)), zap.Error(err))
	}
}
