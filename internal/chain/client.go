package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultTimestampCacheSize = 4096

// Options tunes the client.
type Options struct {
	// RequestsPerSecond limits outgoing RPC calls; 0 disables limiting.
	RequestsPerSecond float64
	// PollInterval is used for block notifications when the endpoint cannot push them.
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Client wraps go-ethereum RPC and provides helper methods.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	limiter   *rate.Limiter
	poll      time.Duration
	logger    *zap.Logger

	tsCache *lru.Cache[uint64, uint64]
}

// TxInfo is the subset of a transaction needed for history reconciliation.
type TxInfo struct {
	Sender   common.Address
	GasPrice *big.Int
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string, opts Options) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[uint64, uint64](defaultTimestampCacheSize)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		limiter:   limiter,
		poll:      poll,
		logger:    logger.With(zap.String("component", "chain")),
		tsCache:   cache,
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.ChainID(ctx)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.ethClient.BlockNumber(ctx)
}

// HeaderByNumber returns the block header by number.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.HeaderByNumber(ctx, number)
}

// BlockTimestamp returns the block timestamp, using an in-memory cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := c.tsCache.Get(number); ok {
		return ts, nil
	}

	header, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	c.tsCache.Add(number, header.Time)
	return header.Time, nil
}

// FilterLogs runs eth_getLogs for the query.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.FilterLogs(ctx, query)
}

// TransactionInfo resolves the sender and gas price of a mined transaction. The block hash and
// index let the sender come from the node response instead of signature recovery.
func (c *Client) TransactionInfo(ctx context.Context, txHash common.Hash, blockHash common.Hash, txIndex uint) (TxInfo, error) {
	if err := c.wait(ctx); err != nil {
		return TxInfo{}, err
	}
	tx, _, err := c.ethClient.TransactionByHash(ctx, txHash)
	if err != nil {
		return TxInfo{}, fmt.Errorf("get transaction %s: %w", txHash.Hex(), err)
	}
	sender, err := c.ethClient.TransactionSender(ctx, tx, blockHash, txIndex)
	if err != nil {
		return TxInfo{}, fmt.Errorf("get sender %s: %w", txHash.Hex(), err)
	}
	return TxInfo{Sender: sender, GasPrice: tx.GasPrice()}, nil
}

// TransactionReceipt returns the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.TransactionReceipt(ctx, txHash)
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}

// SubscribeNewBlocks delivers new block numbers to sink in ascending order. It uses newHeads
// push notifications when the endpoint supports them and polls eth_blockNumber otherwise.
func (c *Client) SubscribeNewBlocks(ctx context.Context, sink chan<- uint64) (ethereum.Subscription, error) {
	heads := make(chan *types.Header, 16)
	sub, err := c.ethClient.SubscribeNewHead(ctx, heads)
	if err != nil {
		if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
			return nil, err
		}
		c.logger.Info("endpoint has no push notifications, polling", zap.Duration("interval", c.poll))
		return c.pollBlocks(ctx, sink)
	}

	return forwardHeads(sub, heads, sink), nil
}

func (c *Client) pollBlocks(ctx context.Context, sink chan<- uint64) (ethereum.Subscription, error) {
	last, err := c.LatestBlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	return newPollSubscription(c.poll, last, c.LatestBlockNumber, sink), nil
}
