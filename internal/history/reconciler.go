package history

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tokenTracer/internal/chain"
	"tokenTracer/internal/metrics"
	"tokenTracer/internal/model"
	"tokenTracer/internal/token"
	"tokenTracer/internal/tracer"
)

var errNoTransferSignature = errors.New("registry has no Transfer(address,address,uint256) signature")

// isoLayout matches JavaScript's Date.toISOString.
const isoLayout = "2006-01-02T15:04:05.000Z"

// ChainSource is the RPC surface needed to rebuild transfer history from the chain.
type ChainSource interface {
	token.ContractCaller
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	TransactionInfo(ctx context.Context, txHash common.Hash, blockHash common.Hash, txIndex uint) (chain.TxInfo, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// ReconcilerConfig bounds a chain history run.
type ReconcilerConfig struct {
	// Limit keeps only the most recent transfers.
	Limit int
	// Lookback is the number of blocks scanned back from the latest block.
	Lookback uint64
	// Concurrency bounds in-flight transaction lookups.
	Concurrency int
}

// Reconciler rebuilds a token's transfer history from logs and transaction lookups.
type Reconciler struct {
	source  ChainSource
	decoder *tracer.Decoder
	meta    *token.MetaCache
	cfg     ReconcilerConfig
	logger  *zap.Logger
}

// NewReconciler applies defaults to cfg. A nil decoder uses the built-in ERC-20 registry.
func NewReconciler(source ChainSource, decoder *tracer.Decoder, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if decoder == nil {
		decoder = tracer.NewDecoder(nil, logger)
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = 10000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		source:  source,
		decoder: decoder,
		meta:    token.NewMetaCache(),
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "reconciler")),
	}
}

// FetchChainHistory returns the most recent Transfer events of tokenAddress as chain-sourced
// records, newest first. Token metadata is read on the first run for a token and cached after
// that; a failed read aborts the run rather than emitting unscaled amounts. Any failed transaction, receipt or block lookup aborts
// the run with a fetch error.
func (r *Reconciler) FetchChainHistory(ctx context.Context, tokenAddress string) ([]model.TransferRecord, error) {
	tokenAddr, err := tracer.NormalizeAddress(tokenAddress)
	if err != nil {
		return nil, err
	}

	latest, err := r.source.LatestBlockNumber(ctx)
	if err != nil {
		return nil, &tracer.FetchError{Err: err}
	}
	from := uint64(0)
	if latest > r.cfg.Lookback {
		from = latest - r.cfg.Lookback
	}

	transferSig, ok := r.transferSignature()
	if !ok {
		return nil, &tracer.FetchError{Err: errNoTransferSignature}
	}
	query := tracer.Query{FromBlock: from, ToBlock: latest, Topics: [][]common.Hash{{transferSig}}}
	logs, err := r.source.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(latest),
		Addresses: []common.Address{tokenAddr},
		Topics:    query.Topics,
	})
	if err != nil {
		return nil, &tracer.FetchError{Query: query, Err: err}
	}

	meta, err := r.tokenMeta(ctx, tokenAddr)
	if err != nil {
		return nil, err
	}

	events := r.recentTransfers(logs)
	records := make([]model.TransferRecord, len(events))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, event := range events {
		i, event := i, event
		g.Go(func() error {
			record, err := r.buildRecord(gctx, event, meta)
			if err != nil {
				return err
			}
			records[i] = record
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Warn("chain history failed", zap.String("token", tokenAddr.Hex()), zap.Error(err))
		return nil, err
	}

	reverseInPlace(records)
	metrics.HistoryRecordsTotal.WithLabelValues(string(model.SourceChain)).Add(float64(len(records)))
	r.logger.Info("chain history rebuilt",
		zap.String("token", tokenAddr.Hex()),
		zap.Uint64("from", from),
		zap.Uint64("to", latest),
		zap.Int("records", len(records)),
	)
	return records, nil
}

func (r *Reconciler) tokenMeta(ctx context.Context, tokenAddr common.Address) (model.TokenMeta, error) {
	if meta, ok := r.meta.Get(tokenAddr); ok {
		return meta, nil
	}
	meta, err := token.FetchTokenMeta(ctx, r.source, tokenAddr, r.logger)
	if err != nil {
		return meta, err
	}
	r.meta.Set(tokenAddr, meta)
	return meta, nil
}

func (r *Reconciler) transferSignature() (common.Hash, bool) {
	for _, sig := range r.decoder.Registry().Signatures() {
		if sig.Signature == "Transfer(address,address,uint256)" {
			return sig.Topic0, true
		}
	}
	return common.Hash{}, false
}

// recentTransfers decodes logs and keeps the last Limit well-formed transfers in chain order.
// Logs sharing the topic but not the shape, such as ERC-721 transfers, decode as unknown and
// are skipped.
func (r *Reconciler) recentTransfers(logs []types.Log) []model.DecodedEvent {
	records := make([]model.LogRecord, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		records = append(records, model.NewLogRecord(log))
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].BlockNumber != records[j].BlockNumber {
			return records[i].BlockNumber < records[j].BlockNumber
		}
		return records[i].LogIndex < records[j].LogIndex
	})

	events := make([]model.DecodedEvent, 0, len(records))
	for _, event := range r.decoder.DecodeAll(records) {
		if event.IsUnknown() {
			r.logger.Debug("skipping undecodable transfer", zap.String("id", event.Key().String()))
			continue
		}
		events = append(events, event)
	}
	if len(events) > r.cfg.Limit {
		events = events[len(events)-r.cfg.Limit:]
	}
	return events
}

func (r *Reconciler) buildRecord(ctx context.Context, event model.DecodedEvent, meta model.TokenMeta) (model.TransferRecord, error) {
	from, _ := event.AddressArg("from")
	to, _ := event.AddressArg("to")
	value, _ := event.BigArg("value")

	info, err := r.source.TransactionInfo(ctx, event.TxHash, event.Raw.BlockHash, uint(event.Raw.TxIndex))
	if err != nil {
		return model.TransferRecord{}, &tracer.FetchError{Err: err}
	}
	receipt, err := r.source.TransactionReceipt(ctx, event.TxHash)
	if err != nil {
		return model.TransferRecord{}, &tracer.FetchError{Err: err}
	}
	ts, err := r.source.BlockTimestamp(ctx, event.BlockNumber)
	if err != nil {
		return model.TransferRecord{}, &tracer.FetchError{Err: err}
	}

	gasPrice := "0"
	if info.GasPrice != nil {
		gasPrice = info.GasPrice.String()
	}
	delegated, spender := InferDelegation(from, info.Sender)

	return model.TransferRecord{
		ID:           event.Key().String(),
		TxHash:       event.TxHash.Hex(),
		From:         from.Hex(),
		To:           to.Hex(),
		Amount:       token.FormatUnits(value, meta.Decimals),
		TokenAddress: event.Address.Hex(),
		TokenName:    meta.Name,
		TokenSymbol:  meta.Symbol,
		Timestamp:    time.Unix(int64(ts), 0).UTC().Format(isoLayout),
		BlockNumber:  event.BlockNumber,
		GasUsed:      new(big.Int).SetUint64(receipt.GasUsed).String(),
		GasPrice:     &gasPrice,
		Spender:      spender,
		IsDelegated:  delegated,
		Source:       model.SourceChain,
	}, nil
}

// InferDelegation guesses whether a transfer was executed by a third party: a transaction sent
// by anyone other than the event's from address is taken as a transferFrom by that sender. It
// misreads contracts that forward calls for a user.
func InferDelegation(from, sender common.Address) (bool, *string) {
	if sender == from {
		return false, nil
	}
	spender := sender.Hex()
	return true, &spender
}

// reverseInPlace turns chain order into display order, newest first.
func reverseInPlace(records []model.TransferRecord) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}
