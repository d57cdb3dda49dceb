package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
)

// revertError mimics the JSON-RPC error a node returns for a reverted eth_call.
type revertError struct{}

func (revertError) Error() string  { return "execution reverted: ERC721NonexistentToken" }
func (revertError) ErrorCode() int { return 3 }

// fakeCaller answers eth_call by method name using a handler per method.
type fakeCaller struct {
	mu       sync.Mutex
	abi      abi.ABI
	handlers map[string]func(args []interface{}) ([]byte, error)
	calls    map[string]int
}

func newFakeCaller(parsed abi.ABI) *fakeCaller {
	return &fakeCaller{
		abi:      parsed,
		handlers: make(map[string]func([]interface{}) ([]byte, error)),
		calls:    make(map[string]int),
	}
}

func (f *fakeCaller) on(method string, handler func(args []interface{}) ([]byte, error)) {
	f.handlers[method] = handler
}

func (f *fakeCaller) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, errors.New("short calldata")
	}
	method, err := f.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls[method.Name]++
	f.mu.Unlock()

	handler, ok := f.handlers[method.Name]
	if !ok {
		return nil, revertError{}
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpack args: %w", err)
	}
	return handler(args)
}
