package query

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"LendingLedger/internal/event"
	lmath "LendingLedger/internal/math"

	"golang.org/x/sync/errgroup"
)

// supplyBorrowKinds are the kinds that move an account's position. A
// liquidation is reported as activity but does not enter the totals.
var supplyBorrowKinds = []event.Kind{event.KindDeposit, event.KindWithdraw, event.KindBorrow, event.KindRepay}

// kindSums maps kind name to summed amount.
type kindSums map[string]*big.Int

func (k kindSums) get(kind event.Kind) *big.Int {
	if v, ok := k[kind.String()]; ok {
		return v
	}
	return new(big.Int)
}

func (k kindSums) totals() Totals {
	return Totals{
		Deposits:    k.get(event.KindDeposit).String(),
		Withdrawals: k.get(event.KindWithdraw).String(),
		Borrows:     k.get(event.KindBorrow).String(),
		Repays:      k.get(event.KindRepay).String(),
	}
}

func (k kindSums) net() (supply, borrow *big.Int) {
	return lmath.NetPosition(
		k.get(event.KindDeposit), k.get(event.KindWithdraw),
		k.get(event.KindBorrow), k.get(event.KindRepay),
	)
}

// sums returns the summed amount per package and kind.
func (s *Service) sums(ctx context.Context, w *where) (map[string]kindSums, error) {
	query := `SELECT contract_package_hash, kind, COALESCE(SUM(amount), 0)::text
		FROM ledger_events` + w.sql() + ` GROUP BY contract_package_hash, kind`

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("sum ledger events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]kindSums)
	for rows.Next() {
		var pkg, kind, total string
		if err := rows.Scan(&pkg, &kind, &total); err != nil {
			return nil, fmt.Errorf("scan sum: %w", err)
		}
		v, err := lmath.ParseAmount(total)
		if err != nil {
			return nil, err
		}
		if out[pkg] == nil {
			out[pkg] = make(kindSums)
		}
		out[pkg][kind] = v
	}
	return out, rows.Err()
}

// merged folds per-package sums into one set.
func merged(byPkg map[string]kindSums) kindSums {
	out := make(kindSums)
	for _, ks := range byPkg {
		for kind, v := range ks {
			out[kind] = lmath.Sum(out[kind], v)
		}
	}
	return out
}

// AccountPosition sums the account's activity across every market.
func (s *Service) AccountPosition(ctx context.Context, account string) (*AccountPosition, error) {
	byPkg, err := s.sums(ctx, new(where).kinds(supplyBorrowKinds).add("account = $%d", account))
	if err != nil {
		return nil, err
	}
	ks := merged(byPkg)
	supply, borrow := ks.net()
	return &AccountPosition{
		Account: account,
		Totals:  ks.totals(),
		Net:     Net{Supply: supply.String(), Borrow: borrow.String()},
	}, nil
}

// PositionFilter narrows AccountPositions. Empty fields match everything.
type PositionFilter struct {
	MarketPackageHash string
	Asset             string
}

// AccountPositions returns one position per market the account touched,
// ordered by market package hash.
func (s *Service) AccountPositions(ctx context.Context, account string, filter PositionFilter) ([]MarketPosition, error) {
	w := new(where).kinds(supplyBorrowKinds).add("account = $%d", account)
	if filter.MarketPackageHash != "" {
		w.add("contract_package_hash = $%d", filter.MarketPackageHash)
	}
	byPkg, err := s.sums(ctx, w)
	if err != nil {
		return nil, err
	}

	pkgs := make([]string, 0, len(byPkg))
	for pkg := range byPkg {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)

	positions := make([]*MarketPosition, len(pkgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, pkg := range pkgs {
		g.Go(func() error {
			pos, err := s.marketPosition(gctx, pkg, byPkg[pkg])
			if err != nil {
				return err
			}
			positions[i] = pos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []MarketPosition{}
	for _, pos := range positions {
		if filter.Asset != "" && (pos.Asset == nil || *pos.Asset != filter.Asset) {
			continue
		}
		out = append(out, *pos)
	}
	return out, nil
}

func (s *Service) marketPosition(ctx context.Context, pkg string, ks kindSums) (*MarketPosition, error) {
	market, err := s.marketForPackage(ctx, pkg)
	if err != nil {
		return nil, err
	}
	pos := &MarketPosition{MarketPackageHash: pkg, Market: market}
	if market != nil {
		asset := market.asset
		pos.Asset = &asset
		if pos.Price, err = s.LatestPrice(ctx, asset); err != nil {
			return nil, err
		}
	}
	if pos.RiskParams, err = s.latestForPackage(ctx, event.KindRiskParamsUpdated, pkg); err != nil {
		return nil, err
	}
	if pos.RateModel, err = s.latestForPackage(ctx, event.KindRateModelUpdated, pkg); err != nil {
		return nil, err
	}

	supply, borrow := ks.net()
	pos.Totals = ks.totals()
	pos.Net = Net{Supply: supply.String(), Borrow: borrow.String()}
	cf, lt := riskRatios(pos.RiskParams)
	pos.Derived = derive(supply, borrow, cf, lt)
	return pos, nil
}

// riskRatios returns the collateral factor and liquidation threshold of a
// RiskParamsUpdated record, or zeros when there is none.
func riskRatios(rec *Record) (cf, lt *big.Int) {
	cf, lt = new(big.Int), new(big.Int)
	if rec == nil {
		return cf, lt
	}
	ev, err := rec.Event()
	if err != nil {
		return cf, lt
	}
	if rp, ok := ev.(*event.RiskParamsUpdated); ok {
		cf = lmath.MustAmount(rp.CollateralFactor)
		lt = lmath.MustAmount(rp.LiquidationThreshold)
	}
	return cf, lt
}

func derive(supply, borrow, cf, lt *big.Int) Derived {
	limit := lmath.BorrowLimit(supply, cf)
	d := Derived{
		BorrowLimit:          limit.String(),
		LiquidationThreshold: lmath.LiquidationThresholdValue(supply, lt).String(),
		AvailableBorrow:      lmath.AvailableBorrow(limit, borrow).String(),
	}
	if hf := lmath.HealthFactor(supply, lt, borrow); hf != nil {
		v := hf.String()
		d.HealthFactor = &v
	}
	return d
}
