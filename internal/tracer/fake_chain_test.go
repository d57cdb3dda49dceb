package tracer

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
)

var (
	testToken     = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	testTarget    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testOther     = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	approvalTopic = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
)

// fakeChain serves logs from memory, filtering by block range and topics like a node would.
type fakeChain struct {
	mu        sync.Mutex
	latest    uint64
	latestErr error
	logs      []types.Log
	failOn    map[uint64]error
	queries   []ethereum.FilterQuery

	// gate, when set, holds every FilterLogs call until closed. entered is signalled on entry.
	gate    chan struct{}
	entered chan uint64

	sink           chan<- uint64
	subErr         chan error
	subscribeCalls int
	subscribeErr   error
}

func newFakeChain(latest uint64, logs ...types.Log) *fakeChain {
	return &fakeChain{
		latest: latest,
		logs:   logs,
		failOn: make(map[uint64]error),
		subErr: make(chan error, 1),
	}
}

func (f *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.latestErr
}

func (f *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	if entered != nil {
		select {
		case entered <- from:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for block, err := range f.failOn {
		if block >= from && block <= to {
			return nil, err
		}
	}
	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if !matchTopics(q.Topics, log.Topics) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (f *fakeChain) SubscribeNewBlocks(_ context.Context, sink chan<- uint64) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls++
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.sink = sink
	errc := f.subErr
	return event.NewSubscription(func(quit <-chan struct{}) error {
		select {
		case <-quit:
			return nil
		case err := <-errc:
			return err
		}
	}), nil
}

func (f *fakeChain) addLogs(logs ...types.Log) {
	f.mu.Lock()
	f.logs = append(f.logs, logs...)
	f.mu.Unlock()
}

func (f *fakeChain) push(block uint64) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink <- block
}

func (f *fakeChain) heal(block uint64) {
	f.mu.Lock()
	delete(f.failOn, block)
	f.mu.Unlock()
}

func (f *fakeChain) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeChain) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	if len(filter) > len(topics) {
		return false
	}
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		matched := false
		for _, want := range alternatives {
			if topics[i] == want {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func testTxHash(block, index uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(block*1000 + index))
}

func transferLog(block, index uint64, from, to common.Address, value int64) types.Log {
	return types.Log{
		Address:     testToken,
		Topics:      []common.Hash{transferTopic, AddressTopic(from), AddressTopic(to)},
		Data:        common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
		BlockNumber: block,
		TxHash:      testTxHash(block, index),
		Index:       uint(index),
	}
}

func approvalLog(block, index uint64, owner, spender common.Address, value int64) types.Log {
	return types.Log{
		Address:     testToken,
		Topics:      []common.Hash{approvalTopic, AddressTopic(owner), AddressTopic(spender)},
		Data:        common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
		BlockNumber: block,
		TxHash:      testTxHash(block, index),
		Index:       uint(index),
	}
}
