package model

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRecordJSONRoundTrip(t *testing.T) {
	original := LogRecord{
		Address:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Topics:      []common.Hash{common.HexToHash("0xaaa"), common.HexToHash("0xbbb")},
		Data:        []byte{0xde, 0xad, 0xbe, 0xef},
		BlockNumber: 36000000,
		BlockHash:   common.HexToHash("0xabc123"),
		TxHash:      common.HexToHash("0xdef456"),
		TxIndex:     7,
		LogIndex:    12,
	}

	b, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"data":"0xdeadbeef"`)

	var decoded LogRecord
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, original, decoded)
}

func TestNewLogRecordCopies(t *testing.T) {
	log := types.Log{
		Address:     common.HexToAddress("0x01"),
		Topics:      []common.Hash{common.HexToHash("0x02")},
		Data:        []byte{1, 2, 3},
		BlockNumber: 10,
		TxIndex:     3,
		Index:       4,
	}
	record := NewLogRecord(log)
	log.Data[0] = 9
	log.Topics[0] = common.Hash{}

	assert.Equal(t, []byte{1, 2, 3}, []byte(record.Data))
	assert.Equal(t, common.HexToHash("0x02"), record.Topic0())
	assert.Equal(t, uint64(4), record.LogIndex)
	assert.Equal(t, uint64(3), record.TxIndex)
}

func TestEventKeyAndOrder(t *testing.T) {
	tx := common.HexToHash("0x01")
	a := DecodedEvent{BlockNumber: 5, LogIndex: 2, TxHash: tx}
	b := DecodedEvent{BlockNumber: 5, LogIndex: 3, TxHash: tx}
	c := DecodedEvent{BlockNumber: 6, LogIndex: 0, TxHash: tx}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
	assert.Equal(t, tx.Hex()+"-2", a.Key().String())
	assert.Equal(t, common.Hash{}, LogRecord{}.Topic0())
}

func TestDecodedEventJSON(t *testing.T) {
	known := DecodedEvent{
		Name: "Transfer",
		Args: map[string]interface{}{
			"from":  common.HexToAddress("0x01"),
			"value": new(big.Int).Lsh(big.NewInt(1), 100),
		},
		BlockNumber: 7,
	}
	b, err := json.Marshal(known)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	args := out["args"].(map[string]interface{})
	assert.Equal(t, "1267650600228229401496703205376", args["value"])
	assert.NotContains(t, out, "raw")

	unknown := DecodedEvent{Name: UnknownEventName, Raw: LogRecord{BlockNumber: 7}}
	b, err = json.Marshal(unknown)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"raw"`)
}

func TestParseSource(t *testing.T) {
	for input, want := range map[string]Source{"local": SourceLocal, "chain": SourceChain, "blockchain": SourceChain} {
		got, ok := ParseSource(input)
		assert.True(t, ok, input)
		assert.Equal(t, want, got)
	}
	_, ok := ParseSource("remote")
	assert.False(t, ok)
}

func TestTokenMetaDisplay(t *testing.T) {
	assert.Equal(t, "Tether USD (USDT)", TokenMeta{Name: "Tether USD", Symbol: "USDT"}.Display())
	assert.Equal(t, "DAI", TokenMeta{Name: "DAI", Symbol: "DAI"}.Display())
	assert.Equal(t, "WETH", TokenMeta{Symbol: "WETH"}.Display())
}
