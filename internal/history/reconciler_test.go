package history

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenTracer/internal/chain"
	"tokenTracer/internal/token"
	"tokenTracer/internal/tracer"
)

const testERC20ABI = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`

var (
	tokenAddr     = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	alice         = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob           = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol         = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	operator      = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	baseTime      = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakeSource struct {
	mu         sync.Mutex
	erc20      abi.ABI
	latest     uint64
	logs       []types.Log
	senders    map[common.Hash]common.Address
	gasPrices  map[common.Hash]*big.Int
	lookupErr  error
	decimalErr error
	queries    []ethereum.FilterQuery
	lookups    int
	calls      int
}

func newFakeSource(t *testing.T, latest uint64) *fakeSource {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(testERC20ABI))
	require.NoError(t, err)
	return &fakeSource{
		erc20:     parsed,
		latest:    latest,
		senders:   make(map[common.Hash]common.Address),
		gasPrices: make(map[common.Hash]*big.Int),
	}
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	return f.latest, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber < q.FromBlock.Uint64() || log.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && log.Address != q.Addresses[0] {
			continue
		}
		if log.Topics[0] != q.Topics[0][0] {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (f *fakeSource) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	method, err := f.erc20.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "decimals":
		if f.decimalErr != nil {
			return nil, f.decimalErr
		}
		return method.Outputs.Pack(uint8(18))
	case "symbol":
		return method.Outputs.Pack("MTK")
	default:
		return method.Outputs.Pack("MyToken")
	}
}

func (f *fakeSource) TransactionInfo(_ context.Context, txHash common.Hash, _ common.Hash, _ uint) (chain.TxInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return chain.TxInfo{}, f.lookupErr
	}
	return chain.TxInfo{Sender: f.senders[txHash], GasPrice: f.gasPrices[txHash]}, nil
}

func (f *fakeSource) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	return &types.Receipt{GasUsed: 51234}, nil
}

func (f *fakeSource) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return uint64(baseTime.Unix()) + number*12, nil
}

func (f *fakeSource) addTransfer(block, index uint64, from, to, sender common.Address, value *big.Int) common.Hash {
	txHash := common.BigToHash(new(big.Int).SetUint64(block*1000 + index))
	f.logs = append(f.logs, types.Log{
		Address:     tokenAddr,
		Topics:      []common.Hash{transferTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		BlockNumber: block,
		TxHash:      txHash,
		Index:       uint(index),
	})
	f.senders[txHash] = sender
	return txHash
}

func ether(n float64) *big.Int {
	v, _ := new(big.Float).Mul(big.NewFloat(n), big.NewFloat(1e18)).Int(nil)
	return v
}

// Delegation is inferred from sender != from. This is a heuristic: a contract forwarding a
// user's own transfer would be reported as delegated.
func TestFetchChainHistoryDelegationHeuristic(t *testing.T) {
	source := newFakeSource(t, 20000)
	direct := source.addTransfer(15000, 0, alice, bob, alice, ether(1))
	delegated := source.addTransfer(15002, 1, alice, carol, operator, ether(2.5))
	source.gasPrices[delegated] = big.NewInt(1_000_000_000)

	records, err := NewReconciler(source, nil, ReconcilerConfig{}, nil).FetchChainHistory(context.Background(), tokenAddr.Hex())
	require.NoError(t, err)
	require.Len(t, records, 2)

	newest, oldest := records[0], records[1]
	assert.Equal(t, delegated.Hex()+"-1", newest.ID)
	assert.True(t, newest.IsDelegated)
	require.NotNil(t, newest.Spender)
	assert.Equal(t, operator.Hex(), *newest.Spender)
	assert.Equal(t, "2.5", newest.Amount)
	assert.Equal(t, "1000000000", *newest.GasPrice)

	assert.Equal(t, direct.Hex()+"-0", oldest.ID)
	assert.False(t, oldest.IsDelegated)
	assert.Nil(t, oldest.Spender)
	assert.Equal(t, "1.0", oldest.Amount)
	assert.Equal(t, "0", *oldest.GasPrice)

	assert.Equal(t, "MTK", oldest.TokenSymbol)
	assert.Equal(t, "MyToken", oldest.TokenName)
	assert.Equal(t, "51234", oldest.GasUsed)
	assert.Equal(t, "2024-03-03T14:00:00.000Z", oldest.Timestamp)
	assert.Equal(t, "chain", string(oldest.Source))

	// The scan covers the last 10000 blocks of the token only.
	require.Len(t, source.queries, 1)
	assert.Equal(t, uint64(10000), source.queries[0].FromBlock.Uint64())
	assert.Equal(t, []common.Address{tokenAddr}, source.queries[0].Addresses)
}

func TestInferDelegation(t *testing.T) {
	delegated, spender := InferDelegation(alice, operator)
	assert.True(t, delegated)
	assert.Equal(t, operator.Hex(), *spender)

	delegated, spender = InferDelegation(alice, alice)
	assert.False(t, delegated)
	assert.Nil(t, spender)
}

func TestFetchChainHistoryKeepsMostRecent(t *testing.T) {
	source := newFakeSource(t, 1000)
	for i := uint64(0); i < 60; i++ {
		source.addTransfer(100+i, 0, alice, bob, alice, big.NewInt(1))
	}

	records, err := NewReconciler(source, nil, ReconcilerConfig{}, nil).FetchChainHistory(context.Background(), tokenAddr.Hex())
	require.NoError(t, err)
	require.Len(t, records, 50)
	assert.Equal(t, uint64(159), records[0].BlockNumber)
	assert.Equal(t, uint64(110), records[49].BlockNumber)
	for i := 1; i < len(records); i++ {
		assert.Greater(t, records[i-1].BlockNumber, records[i].BlockNumber)
	}
	assert.Equal(t, 50, source.lookups)
}

func TestFetchChainHistorySkipsNonERC20Transfers(t *testing.T) {
	source := newFakeSource(t, 1000)
	source.addTransfer(10, 0, alice, bob, alice, big.NewInt(5))
	source.logs = append(source.logs, types.Log{
		Address:     tokenAddr,
		Topics:      []common.Hash{transferTopic, common.BytesToHash(alice.Bytes()), common.BytesToHash(bob.Bytes()), common.BigToHash(big.NewInt(7))},
		BlockNumber: 11,
		TxHash:      common.HexToHash("0x0b"),
	})

	records, err := NewReconciler(source, nil, ReconcilerConfig{}, nil).FetchChainHistory(context.Background(), tokenAddr.Hex())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(10), records[0].BlockNumber)
}

func TestFetchChainHistoryMetadataFailure(t *testing.T) {
	source := newFakeSource(t, 1000)
	source.addTransfer(10, 0, alice, bob, alice, ether(1))
	source.decimalErr = errors.New("execution reverted")

	records, err := NewReconciler(source, nil, ReconcilerConfig{}, nil).FetchChainHistory(context.Background(), tokenAddr.Hex())
	require.ErrorIs(t, err, token.ErrMetadataUnavailable)
	assert.Nil(t, records)
	assert.Zero(t, source.lookups)
}

func TestFetchChainHistoryCachesTokenMetadata(t *testing.T) {
	source := newFakeSource(t, 1000)
	source.addTransfer(10, 0, alice, bob, alice, ether(1))
	reconciler := NewReconciler(source, nil, ReconcilerConfig{}, nil)

	_, err := reconciler.FetchChainHistory(context.Background(), tokenAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, 3, source.calls, "decimals, symbol and name")

	source.decimalErr = errors.New("execution reverted")
	records, err := reconciler.FetchChainHistory(context.Background(), tokenAddr.Hex())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "MTK", records[0].TokenSymbol)
	assert.Equal(t, 3, source.calls)
}

func TestFetchChainHistoryLookupFailure(t *testing.T) {
	source := newFakeSource(t, 1000)
	source.addTransfer(10, 0, alice, bob, alice, ether(1))
	source.lookupErr = errors.New("not found")

	_, err := NewReconciler(source, nil, ReconcilerConfig{}, nil).FetchChainHistory(context.Background(), tokenAddr.Hex())
	assert.ErrorIs(t, err, tracer.ErrFetchFailed)
}

func TestFetchChainHistoryInvalidAddress(t *testing.T) {
	source := newFakeSource(t, 1000)
	_, err := NewReconciler(source, nil, ReconcilerConfig{}, nil).FetchChainHistory(context.Background(), "0xZZ")
	assert.ErrorIs(t, err, tracer.ErrInvalidAddress)
	assert.Empty(t, source.queries)
}
