package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nftContract = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	holderA     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	holderB     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func erc721Caller(t *testing.T, owners []common.Address) *fakeCaller {
	t.Helper()
	parsed, err := erc721ABIInstance()
	require.NoError(t, err)
	caller := newFakeCaller(parsed)
	caller.on("ownerOf", func(args []interface{}) ([]byte, error) {
		id := args[0].(*big.Int).Uint64()
		if id >= uint64(len(owners)) {
			return nil, revertError{}
		}
		return packOutputs(t, parsed, "ownerOf", owners[id]), nil
	})
	caller.on("tokenURI", func(args []interface{}) ([]byte, error) {
		return packOutputs(t, parsed, "tokenURI", fmt.Sprintf("ipfs://bafy/%d.json", args[0].(*big.Int).Uint64())), nil
	})
	return caller
}

func TestScanOwnedStopsAtRevert(t *testing.T) {
	caller := erc721Caller(t, []common.Address{holderA, holderB, holderA})

	owned, err := ScanOwned(context.Background(), caller, nftContract, holderA, ScanConfig{}, nil)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, int64(0), owned[0].TokenID.Int64())
	assert.Equal(t, int64(2), owned[1].TokenID.Int64())
	assert.Equal(t, "ipfs://bafy/2.json", owned[1].URI)
	assert.Equal(t, "https://ipfs.io/ipfs/bafy/2.json", owned[1].URL)

	// Probing stops at the first nonexistent id.
	assert.Equal(t, 4, caller.count("ownerOf"))
	assert.Equal(t, 2, caller.count("tokenURI"))
}

func TestScanOwnedRespectsUpperBound(t *testing.T) {
	owners := make([]common.Address, 100)
	for i := range owners {
		owners[i] = holderB
	}
	caller := erc721Caller(t, owners)

	owned, err := ScanOwned(context.Background(), caller, nftContract, holderA, ScanConfig{UpperBound: 10}, nil)
	require.NoError(t, err)
	assert.Empty(t, owned)
	assert.Equal(t, 10, caller.count("ownerOf"))
}

func TestScanOwnedSurfacesTransportErrors(t *testing.T) {
	caller := erc721Caller(t, []common.Address{holderA, holderA})
	parsed, _ := erc721ABIInstance()
	attempts := 0
	caller.on("ownerOf", func(args []interface{}) ([]byte, error) {
		if args[0].(*big.Int).Uint64() == 1 {
			attempts++
			return nil, errors.New("dial tcp: connection refused")
		}
		return packOutputs(t, parsed, "ownerOf", holderA), nil
	})

	owned, err := ScanOwned(context.Background(), caller, nftContract, holderA,
		ScanConfig{MaxRetries: 2, RetryBackoff: time.Millisecond}, nil)
	require.Error(t, err)
	assert.Nil(t, owned)
	assert.Contains(t, err.Error(), "ownerOf(1)")
	assert.Equal(t, 3, attempts)
}

func TestScanOwnedRecoversFromTransientError(t *testing.T) {
	caller := erc721Caller(t, []common.Address{holderA})
	parsed, _ := erc721ABIInstance()
	failed := false
	caller.on("ownerOf", func(args []interface{}) ([]byte, error) {
		if args[0].(*big.Int).Uint64() > 0 {
			return nil, revertError{}
		}
		if !failed {
			failed = true
			return nil, errors.New("timeout")
		}
		return packOutputs(t, parsed, "ownerOf", holderA), nil
	})

	owned, err := ScanOwned(context.Background(), caller, nftContract, holderA,
		ScanConfig{MaxRetries: 1, RetryBackoff: time.Millisecond}, nil)
	require.NoError(t, err)
	assert.Len(t, owned, 1)
}

func TestScanOwnedResolvesMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bafy/0.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"name":"Cat #0","image":"ipfs://bafy/cat.png"}`))
	}))
	defer server.Close()

	caller := erc721Caller(t, []common.Address{holderA, holderA})
	owned, err := ScanOwned(context.Background(), caller, nftContract, holderA, ScanConfig{
		Gateway:  server.URL,
		Resolver: NewHTTPResolver(server.URL, time.Second),
	}, nil)
	require.NoError(t, err)
	require.Len(t, owned, 2)

	require.NotNil(t, owned[0].Metadata)
	assert.Equal(t, "Cat #0", owned[0].Metadata.Name)
	assert.Equal(t, server.URL+"/bafy/cat.png", owned[0].Metadata.Image)
	assert.Nil(t, owned[1].Metadata, "metadata failures are not fatal")
}

func TestIsRevert(t *testing.T) {
	assert.True(t, IsRevert(revertError{}))
	assert.True(t, IsRevert(fmt.Errorf("call ownerOf: %w", revertError{})))
	assert.True(t, IsRevert(errors.New("execution reverted")))
	assert.False(t, IsRevert(errors.New("i/o timeout")))
	assert.False(t, IsRevert(nil))
}

func TestGatewayURL(t *testing.T) {
	assert.Equal(t, "https://ipfs.io/ipfs/abc/1.json", GatewayURL("ipfs://abc/1.json", ""))
	assert.Equal(t, "https://gw.example/abc", GatewayURL("ipfs://ipfs/abc", "https://gw.example/"))
	assert.Equal(t, "https://example.com/1.json", GatewayURL("https://example.com/1.json", ""))
}
