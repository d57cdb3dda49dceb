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
	"tokenTracer/internal/token"
	"tokenTracer/internal/tracer"
)

func runNFTs(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	contract, err := tracer.NormalizeAddress(cfg.Address)
	if err != nil {
		return withStatus(err)
	}
	ownerInput, _ := cmd.Flags().GetString("owner")
	owner, err := tracer.NormalizeAddress(ownerInput)
	if err != nil {
		return withStatus(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := dialChain(ctx, cfg.RPCURL, cfg.RPCRate, 0, logger)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	scan := token.ScanConfig{
		UpperBound:   cfg.UpperBound,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Gateway:      cfg.Gateway,
	}
	if withMeta, _ := cmd.Flags().GetBool("metadata"); withMeta {
		scan.Resolver = token.NewHTTPResolver(cfg.Gateway, cfg.MetadataTimeout)
	}

	logger.Info("nft scan start",
		zap.String("contract", contract.Hex()),
		zap.String("owner", owner.Hex()),
		zap.Uint64("upper_bound", cfg.UpperBound),
	)

	owned, err := token.ScanOwned(ctx, chainClient, contract, owner, scan, logger)
	if err != nil {
		return withStatus(err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, item := range owned {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s holds %d tokens\n", owner.Hex(), len(owned))
	return nil
}

func runAllowance(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tokenAddr, err := tracer.NormalizeAddress(cfg.Address)
	if err != nil {
		return withStatus(err)
	}
	ownerInput, _ := cmd.Flags().GetString("owner")
	spenderInput, _ := cmd.Flags().GetString("spender")
	addrs, err := tracer.ParseAddresses([]string{ownerInput, spenderInput})
	if err != nil {
		return withStatus(err)
	}
	if len(addrs) != 2 {
		return fmt.Errorf("--owner and --spender are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := dialChain(ctx, cfg.RPCURL, cfg.RPCRate, 0, logger)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	meta, err := token.FetchTokenMeta(ctx, chainClient, tokenAddr, logger)
	if err != nil {
		return withStatus(err)
	}
	allowance, err := token.ReadAllowance(ctx, chainClient, tokenAddr, addrs[0], addrs[1])
	if err != nil {
		return withStatus(err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", token.FormatUnits(allowance, meta.Decimals), meta.Display())
	return nil
}
