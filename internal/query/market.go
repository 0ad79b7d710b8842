package query

import (
	"context"
	"fmt"

	"LendingLedger/internal/event"
	"LendingLedger/internal/projection"

	"golang.org/x/sync/errgroup"
)

// SourceEvents marks read models computed from the event log.
const SourceEvents = "events"

// oracleScanDepth bounds how many raw PriceUpdated events are searched for
// a symbol's asset.
const oracleScanDepth = 25

// MarketState returns the registration, latest price and activity totals
// of the asset's market. marketPkg overrides the registered market
// package; when it is empty and no registration exists the market is not
// found.
func (s *Service) MarketState(ctx context.Context, asset, marketPkg string) (*MarketState, error) {
	var market, price *Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		market, err = s.latest(gctx, new(where).kind(event.KindMarketRegistered).add("asset = $%d", asset))
		return err
	})
	g.Go(func() (err error) {
		price, err = s.LatestPrice(gctx, asset)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resolved := marketPkg
	if resolved == "" && market != nil {
		resolved = market.MarketPackageHash()
	}
	if resolved == "" {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, asset)
	}

	byPkg, err := s.sums(ctx, new(where).kinds(supplyBorrowKinds).add("contract_package_hash = $%d", resolved))
	if err != nil {
		return nil, err
	}
	ks := merged(byPkg)
	supply, borrow := ks.net()
	return &MarketState{
		Asset:  asset,
		Market: market,
		Price:  price,
		Totals: &MarketTotals{
			Totals:    ks.totals(),
			NetSupply: supply.String(),
			NetBorrow: borrow.String(),
		},
		MarketPackageHash: resolved,
		Source:            SourceEvents,
	}, nil
}

// MarketParams returns the current registration of the asset.
func (s *Service) MarketParams(ctx context.Context, asset string) (*MarketParams, error) {
	market, err := s.Market(ctx, asset)
	if err != nil {
		return nil, err
	}
	return &MarketParams{Asset: asset, Market: market, Source: SourceEvents}, nil
}

// MarketSummary collects the latest configuration and state of the asset's
// market.
func (s *Service) MarketSummary(ctx context.Context, asset string) (*MarketSummary, error) {
	market, err := s.Market(ctx, asset)
	if err != nil {
		return nil, err
	}
	sum, err := s.summarize(ctx, market)
	if err != nil {
		return nil, err
	}
	sum.Source = SourceEvents
	return sum, nil
}

// MarketSummaries summarizes every listed market.
func (s *Service) MarketSummaries(ctx context.Context, limit int) ([]MarketSummary, error) {
	markets, err := s.Markets(ctx, limit)
	if err != nil {
		return nil, err
	}

	out := make([]MarketSummary, len(markets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range markets {
		g.Go(func() error {
			sum, err := s.summarize(gctx, &markets[i])
			if err != nil {
				return err
			}
			out[i] = *sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) summarize(ctx context.Context, market *Record) (*MarketSummary, error) {
	asset := market.asset
	pkg := market.MarketPackageHash()
	sum := &MarketSummary{
		Asset:             asset,
		Market:            market,
		MarketPackageHash: pkg,
		IsActive:          true,
	}

	var active, pause *Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sum.Price, err = s.LatestPrice(gctx, asset)
		return err
	})
	g.Go(func() (err error) {
		sum.State, err = s.latestForPackage(gctx, event.KindMarketStateUpdated, pkg)
		return err
	})
	g.Go(func() (err error) {
		sum.RateModel, err = s.latestForPackage(gctx, event.KindRateModelUpdated, pkg)
		return err
	})
	g.Go(func() (err error) {
		sum.RiskParams, err = s.latestForPackage(gctx, event.KindRiskParamsUpdated, pkg)
		return err
	})
	g.Go(func() (err error) {
		active, err = s.latest(gctx, new(where).kind(event.KindMarketActiveUpdated).add("asset = $%d", asset))
		return err
	})
	g.Go(func() (err error) {
		pause, err = s.latest(gctx, new(where).kind(event.KindPauseFlagsUpdated).add("asset = $%d", asset))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if active != nil {
		if ev, err := active.Event(); err == nil {
			sum.IsActive = ev.(*event.MarketActiveUpdated).IsActive
		}
	}
	if pause != nil {
		if ev, err := pause.Event(); err == nil {
			p := ev.(*event.PauseFlagsUpdated)
			sum.PauseFlags = &PauseFlags{
				SupplyPaused:      p.SupplyPaused,
				BorrowPaused:      p.BorrowPaused,
				WithdrawPaused:    p.WithdrawPaused,
				RepayPaused:       p.RepayPaused,
				LiquidationPaused: p.LiquidationPaused,
			}
		}
	}
	return sum, nil
}

// OraclePrice returns the newest PriceUpdated for asset among the oracle
// package's recent raw events.
func (s *Service) OraclePrice(ctx context.Context, oraclePkg, symbol, asset string) (*OraclePrice, error) {
	evs, err := s.rawEvents(ctx, oraclePkg, event.KindPriceUpdated.String(), oracleScanDepth)
	if err != nil {
		return nil, err
	}
	for _, raw := range evs {
		ev, err := projection.ProjectRaw(raw.EventType, event.Provenance{ContractPackage: raw.ContractPackageHash}, raw.Payload)
		if err != nil {
			continue
		}
		p := ev.(*event.PriceUpdated)
		if string(p.Asset) != asset {
			continue
		}
		return &OraclePrice{
			Symbol:     symbol,
			Asset:      asset,
			Price:      p.Price,
			Timestamp:  p.Timestamp,
			DeployHash: raw.DeployHash,
			BlockHash:  raw.BlockHash,
			ObservedAt: raw.CreatedAt,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPriceNotFound, symbol)
}
