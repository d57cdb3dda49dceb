package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"tokenTracer/internal/chain"
)

// DefaultGateway serves ipfs:// content over HTTPS.
const DefaultGateway = "https://ipfs.io/ipfs/"

// revertErrorCode is the JSON-RPC error code nodes use for reverted eth_call.
const revertErrorCode = 3

// OwnedToken is one token held by the scanned owner.
type OwnedToken struct {
	TokenID  *big.Int     `json:"token_id"`
	URI      string       `json:"uri"`
	URL      string       `json:"url"`
	Metadata *NFTMetadata `json:"metadata,omitempty"`
}

// NFTMetadata is the subset of the ERC-721 metadata JSON schema that is displayed.
type NFTMetadata struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Image       string          `json:"image,omitempty"`
	Attributes  json.RawMessage `json:"attributes,omitempty"`
}

// MetadataResolver loads token metadata documents.
type MetadataResolver interface {
	Resolve(ctx context.Context, uri string) (*NFTMetadata, error)
}

// ScanConfig bounds an ownership scan.
type ScanConfig struct {
	// UpperBound is the exclusive upper token id probed.
	UpperBound   uint64
	MaxRetries   int
	RetryBackoff time.Duration
	Gateway      string
	// Resolver, when set, fetches metadata for each owned token. Failures are logged, not fatal.
	Resolver MetadataResolver
}

// ScanOwned probes ownerOf(i) for i in [0, UpperBound) and returns the tokens held by owner.
// A reverted call marks the end of the minted range. Any other call failure is retried and then
// returned; it never ends the scan silently.
func ScanOwned(ctx context.Context, caller ContractCaller, contract, owner common.Address, cfg ScanConfig, logger *zap.Logger) ([]OwnedToken, error) {
	if cfg.UpperBound == 0 {
		cfg.UpperBound = 50
	}
	if cfg.Gateway == "" {
		cfg.Gateway = DefaultGateway
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "nft"), zap.String("contract", contract.Hex()))

	parsed, err := erc721ABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse erc721 abi: %w", err)
	}

	retry := chain.Backoff{
		Retries:   cfg.MaxRetries,
		Base:      cfg.RetryBackoff,
		Retryable: func(err error) bool { return !IsRevert(err) },
	}
	call := func(method string, id *big.Int) ([]interface{}, error) {
		var values []interface{}
		err := retry.Do(ctx, func(ctx context.Context) error {
			var err error
			values, err = callMethod(ctx, caller, contract, parsed, method, id)
			return err
		})
		return values, err
	}

	owned := make([]OwnedToken, 0)
	for i := uint64(0); i < cfg.UpperBound; i++ {
		id := new(big.Int).SetUint64(i)

		values, err := call("ownerOf", id)
		if err != nil {
			if IsRevert(err) {
				logger.Debug("end of minted range", zap.Uint64("token_id", i))
				break
			}
			return nil, fmt.Errorf("ownerOf(%d): %w", i, err)
		}
		holder, ok := values[0].(common.Address)
		if !ok {
			return nil, fmt.Errorf("ownerOf(%d): unexpected type %T", i, values[0])
		}
		if holder != owner {
			continue
		}

		values, err = call("tokenURI", id)
		if err != nil {
			return nil, fmt.Errorf("tokenURI(%d): %w", i, err)
		}
		uri, _ := values[0].(string)
		token := OwnedToken{TokenID: id, URI: uri, URL: GatewayURL(uri, cfg.Gateway)}

		if cfg.Resolver != nil {
			meta, err := cfg.Resolver.Resolve(ctx, uri)
			if err != nil {
				logger.Warn("metadata fetch failed", zap.Uint64("token_id", i), zap.Error(err))
			} else {
				meta.Image = GatewayURL(meta.Image, cfg.Gateway)
				token.Metadata = meta
			}
		}
		owned = append(owned, token)
	}
	return owned, nil
}

// IsRevert reports whether err is an execution revert rather than a transport failure.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

// GatewayURL rewrites ipfs:// URIs onto gateway. Other URIs are returned unchanged.
func GatewayURL(uri, gateway string) string {
	if !strings.HasPrefix(uri, "ipfs://") {
		return uri
	}
	if gateway == "" {
		gateway = DefaultGateway
	}
	path := strings.TrimPrefix(strings.TrimPrefix(uri, "ipfs://"), "ipfs/")
	return strings.TrimRight(gateway, "/") + "/" + path
}

// HTTPResolver fetches metadata JSON over HTTP, resolving ipfs:// through a gateway.
type HTTPResolver struct {
	client  *http.Client
	gateway string
}

// NewHTTPResolver rewrites ipfs:// URIs onto gateway and bounds each request by timeout.
func NewHTTPResolver(gateway string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPResolver{client: &http.Client{Timeout: timeout}, gateway: gateway}
}

// Resolve downloads and decodes the metadata document at uri.
func (r *HTTPResolver) Resolve(ctx context.Context, uri string) (*NFTMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, GatewayURL(uri, r.gateway), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata %s: status %d", uri, resp.StatusCode)
	}

	var meta NFTMetadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", uri, err)
	}
	return &meta, nil
}
