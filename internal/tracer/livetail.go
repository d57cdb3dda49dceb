package tracer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tokenTracer/internal/chain"
	"tokenTracer/internal/metrics"
	"tokenTracer/internal/model"
)

// BlockSource delivers new block numbers in order.
type BlockSource interface {
	SubscribeNewBlocks(ctx context.Context, sink chan<- uint64) (ethereum.Subscription, error)
}

// TailState is the subscription state of a LiveTail.
type TailState int

const (
	Unsubscribed TailState = iota
	Subscribed
)

func (s TailState) String() string {
	switch s {
	case Subscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}

// Block outcomes reported through TailConfig.OnBlock.
const (
	BlockMerged    = "merged"
	BlockEmpty     = "empty"
	BlockError     = "error"
	BlockDiscarded = "discarded"
)

// BlockOutcome describes how one block notification was handled.
type BlockOutcome struct {
	Block  uint64
	Result string
	Added  []model.DecodedEvent
	Err    error
	// Retry is set when Block had failed earlier and was fetched again.
	Retry bool
	// Cursor is the highest block below which every notified block has been merged.
	// It stays behind the lowest failed block until that block is fetched again.
	// Only meaningful when HasCursor is set.
	Cursor    uint64
	HasCursor bool
}

// TailConfig tunes a LiveTail.
type TailConfig struct {
	// ResubscribeRetries bounds reconnect attempts after the block subscription fails.
	ResubscribeRetries int
	// ResubscribeBackoff is the initial reconnect delay, doubled per attempt.
	ResubscribeBackoff time.Duration
	// OnEvents receives events newly merged from a block. It is not called when nothing was added.
	OnEvents func(block uint64, added []model.DecodedEvent)
	// OnBlock is called once per handled notification and once per retried block.
	OnBlock func(BlockOutcome)
}

// LiveTail merges the target's events from every new block into an EventStore.
// Notifications are handled one at a time in arrival order. Results that complete after
// Unsubscribe, or after a newer Subscribe, are discarded. Blocks whose fetch failed are
// retried, lowest first, before each later notification.
type LiveTail struct {
	fetcher *Fetcher
	decoder *Decoder
	blocks  BlockSource
	store   *EventStore
	cfg     TailConfig
	logger  *zap.Logger

	mu     sync.Mutex
	state  TailState
	target common.Address
	gen    uint64
	cancel context.CancelFunc
}

// NewLiveTail builds an unsubscribed tail.
func NewLiveTail(fetcher *Fetcher, decoder *Decoder, blocks BlockSource, store *EventStore, cfg TailConfig, logger *zap.Logger) *LiveTail {
	if cfg.ResubscribeRetries <= 0 {
		cfg.ResubscribeRetries = 5
	}
	if cfg.ResubscribeBackoff <= 0 {
		cfg.ResubscribeBackoff = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveTail{
		fetcher: fetcher,
		decoder: decoder,
		blocks:  blocks,
		store:   store,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "livetail")),
	}
}

// State returns the current subscription state.
func (t *LiveTail) State() TailState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Target returns the subscribed address, or the zero address when unsubscribed.
func (t *LiveTail) Target() common.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Subscribed {
		return common.Address{}
	}
	return t.target
}

// Subscribe validates target and starts handling new blocks. The subscription lives until
// Unsubscribe is called or ctx is cancelled.
func (t *LiveTail) Subscribe(ctx context.Context, target string) error {
	addr, err := NormalizeAddress(target)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Subscribed {
		return ErrAlreadySubscribed
	}

	runCtx, cancel := context.WithCancel(ctx)
	sink := make(chan uint64, 64)
	sub, err := t.blocks.SubscribeNewBlocks(runCtx, sink)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe new blocks: %w", err)
	}

	t.gen++
	t.state = Subscribed
	t.target = addr
	t.cancel = cancel
	gen := t.gen

	t.logger.Info("live tail subscribed", zap.String("target", addr.Hex()))
	go t.run(runCtx, gen, addr, sub, sink)
	return nil
}

// Unsubscribe stops the tail. It is safe to call at any time and more than once.
func (t *LiveTail) Unsubscribe() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *LiveTail) stopLocked() {
	if t.state != Subscribed {
		return
	}
	t.state = Unsubscribed
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.logger.Info("live tail unsubscribed", zap.String("target", t.target.Hex()))
}

func (t *LiveTail) stopIfCurrent(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen == gen {
		t.stopLocked()
	}
}

func (t *LiveTail) run(ctx context.Context, gen uint64, addr common.Address, sub ethereum.Subscription, sink chan uint64) {
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()

	progress := &tailProgress{}
	for {
		select {
		case <-ctx.Done():
			t.stopIfCurrent(gen)
			return
		case n := <-sink:
			t.retryFailed(ctx, gen, addr, progress)
			outcome := t.handleBlock(ctx, gen, addr, n)
			progress.observe(outcome)
			t.report(progress.stamp(outcome))
		case err := <-sub.Err():
			if ctx.Err() != nil {
				t.stopIfCurrent(gen)
				return
			}
			t.logger.Warn("block subscription dropped", zap.Error(err))
			sub.Unsubscribe()
			sub = t.resubscribe(ctx, sink)
			if sub == nil {
				t.stopIfCurrent(gen)
				return
			}
		}
	}
}

func (t *LiveTail) resubscribe(ctx context.Context, sink chan uint64) ethereum.Subscription {
	var sub ethereum.Subscription
	retry := chain.Backoff{Retries: t.cfg.ResubscribeRetries, Base: t.cfg.ResubscribeBackoff}
	err := retry.Do(ctx, func(ctx context.Context) error {
		s, err := t.blocks.SubscribeNewBlocks(ctx, sink)
		if err != nil {
			t.logger.Warn("resubscribe failed", zap.Error(err))
			return err
		}
		sub = s
		return nil
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			t.logger.Error("giving up on block subscription", zap.Error(err))
		}
		return nil
	}
	t.logger.Info("block subscription restored")
	return sub
}

func (t *LiveTail) retryFailed(ctx context.Context, gen uint64, addr common.Address, progress *tailProgress) {
	for _, block := range progress.pending() {
		if ctx.Err() != nil {
			return
		}
		outcome := t.handleBlock(ctx, gen, addr, block)
		outcome.Retry = true
		progress.observe(outcome)
		t.report(progress.stamp(outcome))
		if outcome.Result == BlockError {
			// The rest wait for the next notification.
			return
		}
	}
}

func (t *LiveTail) handleBlock(ctx context.Context, gen uint64, addr common.Address, block uint64) BlockOutcome {
	logs, err := t.fetcher.fetchRange(ctx, addr, block, block)
	if err != nil {
		if ctx.Err() != nil {
			return BlockOutcome{Block: block, Result: BlockDiscarded}
		}
		t.logger.Warn("block fetch failed", zap.Uint64("block", block), zap.Error(err))
		return BlockOutcome{Block: block, Result: BlockError, Err: err}
	}
	if len(logs) == 0 {
		return BlockOutcome{Block: block, Result: BlockEmpty}
	}

	events := t.decoder.DecodeAll(logs)

	t.mu.Lock()
	if t.gen != gen || t.state != Subscribed {
		t.mu.Unlock()
		t.logger.Debug("discarding late block result", zap.Uint64("block", block))
		return BlockOutcome{Block: block, Result: BlockDiscarded}
	}
	added := t.store.Merge(events)
	t.mu.Unlock()

	metrics.EventsMergedTotal.WithLabelValues("live").Add(float64(len(added)))
	if len(added) > 0 {
		t.logger.Debug("merged live events", zap.Uint64("block", block), zap.Int("added", len(added)))
		if t.cfg.OnEvents != nil {
			t.cfg.OnEvents(block, added)
		}
	}
	return BlockOutcome{Block: block, Result: BlockMerged, Added: added}
}

func (t *LiveTail) report(outcome BlockOutcome) {
	metrics.TailBlocksTotal.WithLabelValues(outcome.Result).Inc()
	if t.cfg.OnBlock != nil {
		t.cfg.OnBlock(outcome)
	}
}

// tailProgress tracks failed blocks and the highest block handled by one run loop.
type tailProgress struct {
	failed []uint64 // ascending
	last   uint64
	seen   bool
}

func (p *tailProgress) pending() []uint64 {
	return append([]uint64(nil), p.failed...)
}

func (p *tailProgress) observe(o BlockOutcome) {
	switch o.Result {
	case BlockMerged, BlockEmpty:
		p.remove(o.Block)
	case BlockError:
		p.add(o.Block)
	case BlockDiscarded:
		return
	}
	if !o.Retry && (!p.seen || o.Block > p.last) {
		p.last = o.Block
		p.seen = true
	}
}

func (p *tailProgress) stamp(o BlockOutcome) BlockOutcome {
	if o.Result == BlockDiscarded || !p.seen {
		return o
	}
	if len(p.failed) == 0 {
		o.Cursor, o.HasCursor = p.last, true
		return o
	}
	if low := p.failed[0]; low > 0 {
		o.Cursor, o.HasCursor = low-1, true
	}
	return o
}

func (p *tailProgress) add(block uint64) {
	i := sort.Search(len(p.failed), func(i int) bool { return p.failed[i] >= block })
	if i < len(p.failed) && p.failed[i] == block {
		return
	}
	p.failed = append(p.failed, 0)
	copy(p.failed[i+1:], p.failed[i:])
	p.failed[i] = block
}

func (p *tailProgress) remove(block uint64) {
	i := sort.Search(len(p.failed), func(i int) bool { return p.failed[i] >= block })
	if i < len(p.failed) && p.failed[i] == block {
		p.failed = append(p.failed[:i], p.failed[i+1:]...)
	}
}
