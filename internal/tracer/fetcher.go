package tracer

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tokenTracer/internal/metrics"
	"tokenTracer/internal/model"
)

// LogSource is the JSON-RPC surface the fetcher needs.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// FetchConfig tunes range queries.
type FetchConfig struct {
	// MaxBlockRange splits wide ranges into chunks; 0 queries the whole range at once.
	MaxBlockRange uint64
	// Concurrency bounds in-flight queries per FetchRange call.
	Concurrency int
}

// Fetcher issues one query per (signature, address-bearing topic slot) and unions the results.
type Fetcher struct {
	source   LogSource
	registry *Registry
	cfg      FetchConfig
	logger   *zap.Logger
}

// NewFetcher builds a Fetcher.
func NewFetcher(source LogSource, registry *Registry, cfg FetchConfig, logger *zap.Logger) *Fetcher {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		source:   source,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "fetcher")),
	}
}

// Window is an inclusive block range resolved from a lookback.
type Window struct {
	FromBlock uint64
	ToBlock   uint64
}

// ResolveWindow clamps fromBlock to max(0, latest-lookback).
func (f *Fetcher) ResolveWindow(ctx context.Context, lookback uint64) (Window, error) {
	latest, err := f.source.LatestBlockNumber(ctx)
	if err != nil {
		return Window{}, &FetchError{Err: err}
	}
	from := uint64(0)
	if latest > lookback {
		from = latest - lookback
	}
	return Window{FromBlock: from, ToBlock: latest}, nil
}

// Queries builds the role queries for target over [from, to].
func (f *Fetcher) Queries(target common.Address, from, to uint64) []Query {
	addrTopic := AddressTopic(target)
	queries := make([]Query, 0, 4)
	for _, sig := range f.registry.Signatures() {
		for _, slot := range sig.AddressTopicSlots() {
			topics := make([][]common.Hash, slot+1)
			topics[0] = []common.Hash{sig.Topic0}
			topics[slot] = []common.Hash{addrTopic}
			queries = append(queries, Query{FromBlock: from, ToBlock: to, Topics: topics})
		}
	}
	return queries
}

// FetchRange returns every log in [from, to] where target appears in an address-bearing topic
// of a registered event. Results are combined only after all queries succeed; any failure
// aborts the call with a *FetchError.
func (f *Fetcher) FetchRange(ctx context.Context, target string, from, to uint64) ([]model.LogRecord, error) {
	addr, err := NormalizeAddress(target)
	if err != nil {
		return nil, err
	}
	return f.fetchRange(ctx, addr, from, to)
}

func (f *Fetcher) fetchRange(ctx context.Context, addr common.Address, from, to uint64) ([]model.LogRecord, error) {
	if to < from {
		return nil, fmt.Errorf("invalid block range %d-%d", from, to)
	}
	ranges := BlockRange{From: from, To: to}.Chunks(f.cfg.MaxBlockRange)

	var queries []Query
	for _, br := range ranges {
		queries = append(queries, f.Queries(addr, br.From, br.To)...)
	}

	results := make([][]types.Log, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			logs, err := f.source.FilterLogs(gctx, filterQuery(q))
			if err != nil {
				metrics.LogQueriesTotal.WithLabelValues("error").Inc()
				return &FetchError{Query: q, Err: err}
			}
			metrics.LogQueriesTotal.WithLabelValues("ok").Inc()
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		f.logger.Warn("fetch range failed", zap.Uint64("from", from), zap.Uint64("to", to), zap.Error(err))
		return nil, err
	}

	return unionLogs(results), nil
}

func filterQuery(q Query) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(q.FromBlock),
		ToBlock:   new(big.Int).SetUint64(q.ToBlock),
		Topics:    q.Topics,
	}
}

// unionLogs flattens per-query results, dropping removed logs and duplicates that matched more
// than one role (e.g. a self-transfer).
func unionLogs(results [][]types.Log) []model.LogRecord {
	seen := make(map[model.EventKey]struct{})
	out := make([]model.LogRecord, 0)
	for _, logs := range results {
		for _, log := range logs {
			if log.Removed {
				continue
			}
			record := model.NewLogRecord(log)
			if _, ok := seen[record.Key()]; ok {
				continue
			}
			seen[record.Key()] = struct{}{}
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}

// FetchPast validates target, clamps the window to the last lookback blocks and fetches it.
func (f *Fetcher) FetchPast(ctx context.Context, target string, lookback uint64) (Window, []model.LogRecord, error) {
	addr, err := NormalizeAddress(target)
	if err != nil {
		return Window{}, nil, err
	}
	window, err := f.ResolveWindow(ctx, lookback)
	if err != nil {
		return Window{}, nil, err
	}
	logs, err := f.fetchRange(ctx, addr, window.FromBlock, window.ToBlock)
	if err != nil {
		return window, nil, err
	}
	return window, logs, nil
}
