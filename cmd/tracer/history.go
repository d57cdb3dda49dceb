package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tokenTracer/internal/config"
	"tokenTracer/internal/history"
	"tokenTracer/internal/model"
	"tokenTracer/internal/session"
)

func runHistory(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadHistory(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	views, err := parseViews(cfg.Source)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := openKV(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	var chainSource session.Chain
	if cfg.Token != "" {
		chainClient, err := dialChain(ctx, cfg.RPCURL, cfg.RPCRate, 0, logger)
		if err != nil {
			return err
		}
		defer chainClient.Close()
		chainSource = chainClient
	}

	engine := session.New(chainSource, kv, session.Config{
		History: history.ReconcilerConfig{
			Limit:       cfg.Limit,
			Lookback:    cfg.Lookback,
			Concurrency: cfg.Concurrency,
		},
		Logger: logger,
	})
	defer engine.Close()

	if cfg.Token != "" {
		logger.Info("chain history refresh",
			zap.String("token", cfg.Token),
			zap.Int("limit", cfg.Limit),
			zap.Uint64("lookback", cfg.Lookback),
		)
		records, err := engine.FetchChainHistory(ctx, cfg.Token)
		if err != nil {
			return withStatus(err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "fetched %d chain transfers\n", len(records))
	}

	timeline, err := engine.Timeline(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, source := range views {
		for _, record := range timeline.View(source) {
			if err := enc.Encode(record); err != nil {
				return err
			}
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "local: %d records, chain: %d records, %d total\n",
		len(timeline.Local), len(timeline.Chain), timeline.Len())
	return nil
}

func runRecord(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadHistory(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	flags := cmd.Flags()
	details := history.LocalTransfer{}
	details.TxHash, _ = flags.GetString("tx-hash")
	details.From, _ = flags.GetString("from")
	details.To, _ = flags.GetString("to")
	details.Amount, _ = flags.GetString("amount")
	details.TokenAddress, _ = flags.GetString("token")
	details.TokenName, _ = flags.GetString("token-name")
	details.TokenSymbol, _ = flags.GetString("token-symbol")
	details.BlockNumber, _ = flags.GetUint64("block")
	details.GasUsed, _ = flags.GetString("gas-used")
	details.IsDelegated, _ = flags.GetBool("delegated")
	if gasPrice, _ := flags.GetString("gas-price"); gasPrice != "" {
		details.GasPrice = &gasPrice
	}
	if spender, _ := flags.GetString("spender"); spender != "" {
		details.Spender = &spender
	}

	ctx := context.Background()
	kv, err := openKV(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	engine := session.New(nil, kv, session.Config{Logger: logger})
	defer engine.Close()

	record, err := engine.RecordLocalTransfer(ctx, details)
	if err != nil {
		return withStatus(err)
	}
	if err := json.NewEncoder(cmd.OutOrStdout()).Encode(record); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "recorded transfer %s\n", record.ID)
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadHistory(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	source, ok := model.ParseSource(cfg.Source)
	if !ok {
		return fmt.Errorf("--source must be local or chain")
	}

	ctx := context.Background()
	kv, err := openKV(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	engine := session.New(nil, kv, session.Config{Logger: logger})
	defer engine.Close()

	if err := engine.ClearHistory(ctx, source); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "cleared %s history\n", source)
	return nil
}

func parseViews(input string) ([]model.Source, error) {
	if input == "" || input == "all" {
		return []model.Source{model.SourceLocal, model.SourceChain}, nil
	}
	source, ok := model.ParseSource(input)
	if !ok {
		return nil, fmt.Errorf("--source must be local, chain or all")
	}
	return []model.Source{source}, nil
}
