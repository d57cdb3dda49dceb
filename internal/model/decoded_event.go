package model

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// UnknownEventName marks a log that did not match the signature registry or failed to decode.
const UnknownEventName = "unknown"

// DecodedEvent is a log decoded against a known event signature.
// Args is nil when Name is UnknownEventName.
type DecodedEvent struct {
	Address     common.Address
	Name        string
	Args        map[string]interface{}
	Raw         LogRecord
	BlockNumber uint64
	LogIndex    uint64
	TxHash      common.Hash
}

// Key returns the dedup key of the event.
func (e DecodedEvent) Key() EventKey {
	return EventKey{TxHash: e.TxHash, LogIndex: e.LogIndex}
}

// IsUnknown reports whether the event fell back to the unknown variant.
func (e DecodedEvent) IsUnknown() bool {
	return e.Name == UnknownEventName
}

// Less is the canonical order: block number, then log index.
func (e DecodedEvent) Less(other DecodedEvent) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.LogIndex < other.LogIndex
}

// AddressArg returns the named argument as an address.
func (e DecodedEvent) AddressArg(name string) (common.Address, bool) {
	v, ok := e.Args[name].(common.Address)
	return v, ok
}

// BigArg returns the named argument as an integer.
func (e DecodedEvent) BigArg(name string) (*big.Int, bool) {
	v, ok := e.Args[name].(*big.Int)
	return v, ok
}

type decodedEventJSON struct {
	Address     common.Address    `json:"address"`
	Name        string            `json:"name"`
	Args        map[string]string `json:"args,omitempty"`
	Raw         *LogRecord        `json:"raw,omitempty"`
	BlockNumber uint64            `json:"block_number"`
	LogIndex    uint64            `json:"log_index"`
	TxHash      common.Hash       `json:"tx_hash"`
}

// MarshalJSON renders args as strings; integers keep full precision. The raw log is only
// emitted for unknown events, where it is the display payload.
func (e DecodedEvent) MarshalJSON() ([]byte, error) {
	out := decodedEventJSON{
		Address:     e.Address,
		Name:        e.Name,
		BlockNumber: e.BlockNumber,
		LogIndex:    e.LogIndex,
		TxHash:      e.TxHash,
	}
	if e.IsUnknown() {
		raw := e.Raw
		out.Raw = &raw
	}
	if len(e.Args) > 0 {
		out.Args = make(map[string]string, len(e.Args))
		for k, v := range e.Args {
			out.Args[k] = FormatArg(v)
		}
	}
	return json.Marshal(out)
}

// FormatArg renders a decoded ABI value for display.
func FormatArg(v interface{}) string {
	switch typed := v.(type) {
	case common.Address:
		return typed.Hex()
	case *big.Int:
		if typed == nil {
			return "0"
		}
		return typed.String()
	case common.Hash:
		return typed.Hex()
	case []byte:
		return fmt.Sprintf("0x%x", typed)
	case [32]byte:
		return common.Hash(typed).Hex()
	default:
		return fmt.Sprintf("%v", typed)
	}
}
