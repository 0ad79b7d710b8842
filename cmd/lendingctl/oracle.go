package main

import (
	"errors"
	"fmt"

	"LendingLedger/internal/chain"
	"LendingLedger/internal/config"
	"LendingLedger/internal/observability"
	"LendingLedger/internal/oracle"

	"github.com/spf13/cobra"
)

func oracleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "oracle feeder operations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "once",
		Short: "fetch every configured price and submit set_price deploys once",
		Args:  cobra.NoArgs,
		RunE:  runOracleOnce,
	})
	return cmd
}

func runOracleOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.OracleEnabled() {
		return errors.New("ORACLE_CONTRACT_HASH and ORACLE_ADMIN_PRIVATE_KEY are required")
	}
	logger := observability.NewLogger("oracle")

	rpc, err := chain.NewClient(chain.Config{URL: cfg.RPCURL, Timeout: cfg.RPCTimeout})
	if err != nil {
		return err
	}
	signer, err := chain.LoadSigner(cfg.OracleKey, cfg.OracleKeyAlgorithm)
	if err != nil {
		return err
	}
	invoker := chain.NewInvoker(chain.InvokerConfig{Main: rpc, Signer: signer, ChainName: cfg.ChainName})

	source := oracle.NewCoinGecko(oracle.CoinGeckoConfig{
		BaseURL:       cfg.CoinGeckoURL,
		APIKey:        cfg.CoinGeckoAPIKey,
		RatePerMinute: cfg.CoinGeckoRatePerMinute,
		Logger:        logger,
	})
	submitter := oracle.NewChainSubmitter(invoker, cfg.OracleContractHash, cfg.GasPayment, logger)
	feeder := oracle.NewFeeder(cfg.Assets, source, submitter, nil, logger)

	hashes, err := feeder.RunCycle(cmd.Context())
	for _, h := range hashes {
		fmt.Fprintln(cmd.OutOrStdout(), h)
	}
	return err
}
