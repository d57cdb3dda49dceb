package tracer

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	checksummed := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

	cases := []struct {
		name  string
		input string
		ok    bool
	}{
		{"checksummed", checksummed, true},
		{"lowercase", strings.ToLower(checksummed), true},
		{"uppercase body", "0x" + strings.ToUpper(checksummed[2:]), true},
		{"no prefix", strings.ToLower(checksummed[2:]), true},
		{"bad checksum", "0x5aAeb6053f3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"too short", "0x1234", false},
		{"not hex", "0xzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", false},
		{"empty", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := NormalizeAddress(tc.input)
			if !tc.ok {
				require.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, checksummed, addr.Hex())
		})
	}
}

func TestAddressTopicIsLeftPadded(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	topic := AddressTopic(addr)
	assert.Equal(t, "0x00000000000000000000000000000000000000000000000000000000000000a1", topic.Hex())
}

func TestParseAddressesSkipsBlanks(t *testing.T) {
	got, err := ParseAddresses([]string{" ", "0x1111111111111111111111111111111111111111"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = ParseAddresses([]string{"nope"})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
