package token

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tokenTracer/internal/model"
)

// ErrMetadataUnavailable matches any *MetadataError.
var ErrMetadataUnavailable = errors.New("token metadata unavailable")

// MetadataError reports which metadata field could not be read.
type MetadataError struct {
	Token common.Address
	Field string
	Err   error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("token %s: %s unavailable: %v", e.Token.Hex(), e.Field, e.Err)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

func (e *MetadataError) Is(target error) bool {
	return target == ErrMetadataUnavailable
}

// ContractCaller executes read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// MetaCache caches token metadata by address.
type MetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.TokenMeta
}

func NewMetaCache() *MetaCache {
	return &MetaCache{data: make(map[common.Address]model.TokenMeta)}
}

func (c *MetaCache) Get(address common.Address) (model.TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *MetaCache) Set(address common.Address, meta model.TokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// FetchTokenMeta reads decimals, symbol and name. Symbol and name fall back to the bytes32
// variants some older tokens expose. Any field that cannot be read yields a *MetadataError.
func FetchTokenMeta(ctx context.Context, caller ContractCaller, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token}
	if caller == nil {
		return meta, fmt.Errorf("contract caller is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stringABI, err := erc20ABIStringInstance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32Instance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := callMethod(ctx, caller, token, stringABI, "decimals")
	if err != nil {
		return meta, &MetadataError{Token: token, Field: "decimals", Err: err}
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, &MetadataError{Token: token, Field: "decimals", Err: err}
	}
	meta.Decimals = decimals

	readText := func(field string) (string, error) {
		values, err := callMethod(ctx, caller, token, stringABI, field)
		if err == nil {
			if text, ok := values[0].(string); ok {
				return text, nil
			}
			err = fmt.Errorf("unexpected %s type %T", field, values[0])
		}
		logger.Debug("string call failed, trying bytes32", zap.String("token", token.Hex()), zap.String("field", field), zap.Error(err))

		values, err32 := callMethod(ctx, caller, token, bytes32ABI, field)
		if err32 != nil {
			return "", &MetadataError{Token: token, Field: field, Err: err}
		}
		text, ok := bytes32ToString(values[0])
		if !ok {
			return "", &MetadataError{Token: token, Field: field, Err: fmt.Errorf("unexpected %s type %T", field, values[0])}
		}
		return text, nil
	}

	if meta.Symbol, err = readText("symbol"); err != nil {
		return meta, err
	}
	if meta.Name, err = readText("name"); err != nil {
		return meta, err
	}
	return meta, nil
}

func callMethod(ctx context.Context, caller ContractCaller, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &contract, Data: data}
	resp, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("decimals out of range: %s", v)
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}

// ReadAllowance returns how much spender may still move on behalf of owner, in base units.
func ReadAllowance(ctx context.Context, caller ContractCaller, token, owner, spender common.Address) (*big.Int, error) {
	parsed, err := erc20ABIStringInstance()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	values, err := callMethod(ctx, caller, token, parsed, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", values[0])
	}
	return amount, nil
}
