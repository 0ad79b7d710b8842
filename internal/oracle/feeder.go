package oracle

import (
	"context"
	"fmt"
	"math/big"

	"LendingLedger/internal/address"
	"LendingLedger/internal/chain"
	lmath "LendingLedger/internal/math"
	"LendingLedger/internal/observability"

	"github.com/rs/zerolog"
)

const SetPriceEntryPoint = "set_price"

// Submitter pushes one price on chain and returns the deploy hash.
type Submitter interface {
	SetPrice(ctx context.Context, asset Asset, price *big.Int) (string, error)
}

type deploySubmitter interface {
	Submit(ctx context.Context, contract address.Identity, entryPoint string, args chain.RuntimeArgs, payment *big.Int) (string, error)
}

// ChainSubmitter calls set_price on the oracle contract.
type ChainSubmitter struct {
	deploys  deploySubmitter
	contract address.Identity
	payment  *big.Int
	logger   zerolog.Logger
}

// NewChainSubmitter targets contract. A nil payment uses
// chain.DefaultSetPricePayment.
func NewChainSubmitter(deploys deploySubmitter, contract address.Identity, payment *big.Int, logger zerolog.Logger) *ChainSubmitter {
	if payment == nil {
		payment = chain.DefaultSetPricePayment
	}
	return &ChainSubmitter{deploys: deploys, contract: contract, payment: payment, logger: logger}
}

func (s *ChainSubmitter) SetPrice(ctx context.Context, asset Asset, price *big.Int) (string, error) {
	p, err := chain.U256(price)
	if err != nil {
		return "", err
	}
	args := chain.RuntimeArgs{
		{Name: "asset", Value: asset.Key()},
		{Name: "price", Value: p},
	}
	hash, err := s.deploys.Submit(ctx, s.contract, SetPriceEntryPoint, args, s.payment)
	if err != nil {
		return "", fmt.Errorf("set_price %s: %w", asset.Symbol, err)
	}
	s.logger.Info().Str("symbol", asset.Symbol).Str("deploy_hash", hash).Msg("oracle.price.pushed")
	return hash, nil
}

// Feeder fetches and pushes one price per configured asset.
type Feeder struct {
	assets    []Asset
	source    PriceSource
	submitter Submitter
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewFeeder(assets []Asset, source PriceSource, submitter Submitter, metrics *observability.Metrics, logger zerolog.Logger) *Feeder {
	return &Feeder{assets: assets, source: source, submitter: submitter, metrics: metrics, logger: logger}
}

// Assets returns the configured assets in order.
func (f *Feeder) Assets() []Asset {
	return f.assets
}

// RunCycle prices every asset in configuration order and returns the
// deploy hashes. The first failure aborts the cycle; deploys already
// submitted stay submitted.
func (f *Feeder) RunCycle(ctx context.Context) ([]string, error) {
	hashes := make([]string, 0, len(f.assets))
	for _, asset := range f.assets {
		q, err := f.source.FetchPrice(ctx, asset.CoinGeckoID)
		if err != nil {
			return hashes, fmt.Errorf("fetch %s: %w", asset.Symbol, err)
		}
		wad := lmath.QuantizePrice(q.PriceUSD)
		if wad.Sign() == 0 {
			return hashes, fmt.Errorf("%w: %s quantizes to zero", ErrInvalidPrice, asset.Symbol)
		}
		f.logger.Info().
			Str("symbol", asset.Symbol).
			Float64("price_usd", q.PriceUSD).
			Str("price_wad", wad.String()).
			Msg("oracle.price.fetched")
		if f.metrics != nil {
			f.metrics.OraclePrice.WithLabelValues(asset.Symbol).Set(q.PriceUSD)
		}

		hash, err := f.submitter.SetPrice(ctx, asset, wad)
		if err != nil {
			return hashes, err
		}
		if f.metrics != nil {
			f.metrics.OracleSubmissions.Inc()
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}
