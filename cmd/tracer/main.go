package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tokenTracer/internal/chain"
	"tokenTracer/internal/config"
	"tokenTracer/internal/session"
	"tokenTracer/internal/storage"
	"tokenTracer/internal/storage/pebblestore"
	"tokenTracer/internal/storage/postgres"
	"tokenTracer/internal/tracer"
)

func main() {
	root := &cobra.Command{
		Use:          "tracer",
		Short:        "ERC-20 event tracer and live tail",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch past events of an address",
		RunE:  runFetch,
	}
	addEventFlags(fetchCmd)
	fetchCmd.Flags().String("out", "", "optional JSONL path receiving decoded events")
	root.AddCommand(fetchCmd)

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Catch up on past events, then follow new blocks",
		RunE:  runTail,
	}
	addEventFlags(tailCmd)
	tailCmd.Flags().String("out", "", "optional JSONL path receiving decoded events")
	tailCmd.Flags().Duration("poll-interval", 3*time.Second, "block polling interval when the endpoint cannot push heads")
	tailCmd.Flags().String("checkpoint", "", "checkpoint file path")
	tailCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	tailCmd.Flags().Uint64("batch-size", 2000, "blocks per catch-up batch")
	tailCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	tailCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	tailCmd.Flags().String("listen", "", "serve /events, /healthz and /metrics on this address")
	tailCmd.Flags().String("export-pg-dsn", "", "Postgres DSN whose traced_events table receives every event")
	addStorageFlags(tailCmd)
	root.AddCommand(tailCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show transfer history, refreshing the chain view when --token is given",
		RunE:  runHistory,
	}
	addHistoryFlags(historyCmd)
	historyCmd.Flags().String("rpc", "", "RPC URL (ws:// or http://)")
	historyCmd.Flags().String("token", "", "token address whose chain history is rebuilt")
	historyCmd.Flags().String("source", "all", "view to print (local, chain, all)")
	historyCmd.Flags().Int("limit", 50, "most recent transfers kept in the chain view")
	historyCmd.Flags().Uint64("lookback", 10000, "blocks searched for chain transfers")
	historyCmd.Flags().Int("concurrency", 4, "parallel transaction lookups")
	historyCmd.Flags().Float64("rpc-rate", 0, "RPC requests per second, 0 for unlimited")
	root.AddCommand(historyCmd)

	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Record a confirmed transfer in the local history",
		RunE:  runRecord,
	}
	addHistoryFlags(recordCmd)
	recordCmd.Flags().String("tx-hash", "", "transaction hash")
	recordCmd.Flags().String("from", "", "token owner")
	recordCmd.Flags().String("to", "", "recipient")
	recordCmd.Flags().String("amount", "", "human-readable amount")
	recordCmd.Flags().String("token", "", "token address")
	recordCmd.Flags().String("token-name", "", "token name")
	recordCmd.Flags().String("token-symbol", "", "token symbol")
	recordCmd.Flags().Uint64("block", 0, "block number")
	recordCmd.Flags().String("gas-used", "0", "gas used")
	recordCmd.Flags().String("gas-price", "", "gas price in wei")
	recordCmd.Flags().String("spender", "", "spender of a delegated transfer")
	recordCmd.Flags().Bool("delegated", false, "transfer was sent by an approved spender")
	root.AddCommand(recordCmd)

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear one history view",
		RunE:  runClear,
	}
	addHistoryFlags(clearCmd)
	clearCmd.Flags().String("source", "", "view to clear (local or chain)")
	root.AddCommand(clearCmd)

	nftsCmd := &cobra.Command{
		Use:   "nfts",
		Short: "List ERC-721 tokens held by an owner",
		RunE:  runNFTs,
	}
	nftsCmd.Flags().String("rpc", "", "RPC URL (ws:// or http://)")
	nftsCmd.Flags().String("address", "", "ERC-721 contract address")
	nftsCmd.Flags().String("owner", "", "owner address")
	nftsCmd.Flags().Uint64("upper-bound", 50, "exclusive upper token id probed")
	nftsCmd.Flags().Bool("metadata", false, "fetch token metadata documents")
	nftsCmd.Flags().String("gateway", "https://ipfs.io/ipfs/", "IPFS gateway for ipfs:// URIs")
	nftsCmd.Flags().Duration("metadata-timeout", 10*time.Second, "metadata request timeout")
	nftsCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	nftsCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	nftsCmd.Flags().Float64("rpc-rate", 0, "RPC requests per second, 0 for unlimited")
	nftsCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(nftsCmd)

	allowanceCmd := &cobra.Command{
		Use:   "allowance",
		Short: "Show how much a spender may transfer on behalf of an owner",
		RunE:  runAllowance,
	}
	allowanceCmd.Flags().String("rpc", "", "RPC URL (ws:// or http://)")
	allowanceCmd.Flags().String("address", "", "ERC-20 token address")
	allowanceCmd.Flags().String("owner", "", "owner address")
	allowanceCmd.Flags().String("spender", "", "spender address")
	allowanceCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(allowanceCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addEventFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "RPC URL (ws:// or http://)")
	cmd.Flags().String("address", "", "address whose events are traced")
	cmd.Flags().Uint64("lookback", 1000, "blocks searched back from the latest block")
	cmd.Flags().Uint64("max-block-range", 5000, "blocks per log query, 0 for unbounded")
	cmd.Flags().Int("concurrency", 4, "parallel log queries")
	cmd.Flags().Float64("rpc-rate", 0, "RPC requests per second, 0 for unlimited")
	cmd.Flags().StringSlice("abi-file", nil, "extra event ABI JSON files")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func addHistoryFlags(cmd *cobra.Command) {
	addStorageFlags(cmd)
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func addStorageFlags(cmd *cobra.Command) {
	cmd.Flags().String("storage", config.BackendPebble, "history backend (pebble, postgres, memory)")
	cmd.Flags().String("data-dir", "./data/history", "pebble directory")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN of the history backend")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func dialChain(ctx context.Context, rpcURL string, rate float64, poll time.Duration, logger *zap.Logger) (*chain.Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	client, err := chain.NewClient(ctx, rpcURL, chain.Options{
		RequestsPerSecond: rate,
		PollInterval:      poll,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	chainID, err := client.GetChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	logger.Info("rpc connected", zap.String("rpc", rpcURL), zap.String("chain_id", chainID.String()))
	return client, nil
}

// loadRegistry builds the default registry extended with the given ABI files.
func loadRegistry(files []string) (*tracer.Registry, error) {
	docs := []string{tracer.ERC20EventsABI}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read abi file: %w", err)
		}
		docs = append(docs, string(data))
	}
	return tracer.NewRegistry(docs...)
}

func openKV(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.KV, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemoryKV(), nil
	case config.BackendPostgres:
		return openPostgres(ctx, cfg.PGDSN)
	default:
		return pebblestore.Open(pebblestore.Config{Path: cfg.PebblePath, CacheMB: cfg.PebbleMB, Logger: logger})
	}
}

func openPostgres(ctx context.Context, dsn string) (*postgres.Store, error) {
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

// withStatus prefixes err with its status code.
func withStatus(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", session.StatusOf(err), err)
}
