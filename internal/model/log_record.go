package model

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogRecord is a raw chain log as returned by a topic-filtered range query.
type LogRecord struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber uint64         `json:"block_number"`
	BlockHash   common.Hash    `json:"block_hash"`
	TxHash      common.Hash    `json:"tx_hash"`
	TxIndex     uint64         `json:"tx_index"`
	LogIndex    uint64         `json:"log_index"`
}

// EventKey uniquely identifies a log across the chain.
type EventKey struct {
	TxHash   common.Hash
	LogIndex uint64
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s-%d", k.TxHash.Hex(), k.LogIndex)
}

// Key returns the dedup key of the record.
func (lr LogRecord) Key() EventKey {
	return EventKey{TxHash: lr.TxHash, LogIndex: lr.LogIndex}
}

// Topic0 returns the signature topic, or the zero hash for anonymous logs.
func (lr LogRecord) Topic0() common.Hash {
	if len(lr.Topics) == 0 {
		return common.Hash{}
	}
	return lr.Topics[0]
}

// NewLogRecord copies a go-ethereum log into a LogRecord.
func NewLogRecord(log types.Log) LogRecord {
	topics := make([]common.Hash, len(log.Topics))
	copy(topics, log.Topics)
	data := make([]byte, len(log.Data))
	copy(data, log.Data)

	return LogRecord{
		Address:     log.Address,
		Topics:      topics,
		Data:        data,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
	}
}

// MarshalJSON ensures LogRecord is encoded with stable field names.
func (lr LogRecord) MarshalJSON() ([]byte, error) {
	type Alias LogRecord
	return json.Marshal(Alias(lr))
}

// UnmarshalJSON decodes a LogRecord from JSON.
func (lr *LogRecord) UnmarshalJSON(data []byte) error {
	type Alias LogRecord
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*lr = LogRecord(a)
	return nil
}
