// Package projection turns raw contract-event payloads into typed ledger
// events. A payload that cannot be projected is not an error for the stream:
// its raw record is still the source of truth.
package projection

import (
	"bytes"
	"encoding/json"
	"fmt"

	"LendingLedger/internal/event"
)

type projector func(f *fields, src event.Provenance) event.Event

var projectors = map[event.Kind]projector{
	event.KindPriceUpdated:        projectPriceUpdated,
	event.KindMarketRegistered:    projectMarketRegistered,
	event.KindMarketActiveUpdated: projectMarketActiveUpdated,
	event.KindPauseFlagsUpdated:   projectPauseFlagsUpdated,
	event.KindRateModelUpdated:    projectRateModelUpdated,
	event.KindRiskParamsUpdated:   projectRiskParamsUpdated,
	event.KindMarketStateUpdated:  projectMarketStateUpdated,
	event.KindDeposit:             projectDeposit,
	event.KindWithdraw:            projectWithdraw,
	event.KindBorrow:              projectBorrow,
	event.KindRepay:               projectRepay,
	event.KindLiquidate:           projectLiquidate,
}

// DecodePayload parses a payload keeping numbers as json.Number so that
// amounts wider than 53 bits survive.
func DecodePayload(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Project maps an event name and its decoded payload to a ledger event.
// It returns ErrUnknownKind for names outside the fixed set and
// ErrMissingField / ErrBadField when a required field does not coerce.
func Project(name string, src event.Provenance, payload any) (event.Event, error) {
	kind := event.ParseKind(name)
	p, ok := projectors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("project %s: %w", name, ErrNotObject)
	}

	f := &fields{m: m}
	ev := p(f, src)
	if f.err != nil {
		return nil, fmt.Errorf("project %s: %w", name, f.err)
	}
	return ev, nil
}

// ProjectRaw decodes payload and projects it.
func ProjectRaw(name string, src event.Provenance, payload []byte) (event.Event, error) {
	v, err := DecodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", name, err)
	}
	return Project(name, src, v)
}

func meta(src event.Provenance) event.Meta {
	return event.Meta{Source: src}
}

func projectPriceUpdated(f *fields, src event.Provenance) event.Event {
	return &event.PriceUpdated{
		Meta:      meta(src),
		Asset:     f.identity("asset"),
		Price:     f.amount("price"),
		Timestamp: f.timestamp("timestamp"),
	}
}

func projectMarketRegistered(f *fields, src event.Provenance) event.Event {
	return &event.MarketRegistered{
		Meta:   meta(src),
		Asset:  f.identity("asset"),
		Market: f.identity("market"),
		AToken: f.identity("a_token"),
		Oracle: f.identity("oracle"),
	}
}

func projectMarketActiveUpdated(f *fields, src event.Provenance) event.Event {
	return &event.MarketActiveUpdated{
		Meta:     meta(src),
		Asset:    f.identity("asset"),
		IsActive: f.flag("is_active"),
	}
}

func projectPauseFlagsUpdated(f *fields, src event.Provenance) event.Event {
	return &event.PauseFlagsUpdated{
		Meta:              meta(src),
		Asset:             f.identity("asset"),
		SupplyPaused:      f.flag("supply_paused"),
		BorrowPaused:      f.flag("borrow_paused"),
		WithdrawPaused:    f.flag("withdraw_paused"),
		RepayPaused:       f.flag("repay_paused"),
		LiquidationPaused: f.flag("liquidation_paused"),
	}
}

func projectRateModelUpdated(f *fields, src event.Provenance) event.Event {
	return &event.RateModelUpdated{
		Meta:            meta(src),
		BaseRatePerSec:  f.amount("base_rate_per_sec"),
		SlopeRatePerSec: f.amount("slope_rate_per_sec"),
	}
}

func projectRiskParamsUpdated(f *fields, src event.Provenance) event.Event {
	return &event.RiskParamsUpdated{
		Meta:                 meta(src),
		CollateralFactor:     f.amount("collateral_factor"),
		LiquidationThreshold: f.amount("liquidation_threshold"),
		CloseFactor:          f.amount("close_factor"),
		LiquidationBonus:     f.amount("liquidation_bonus"),
		ReserveFactor:        f.amount("reserve_factor"),
		BorrowCap:            f.amount("borrow_cap"),
		SupplyCap:            f.amount("supply_cap"),
	}
}

func projectMarketStateUpdated(f *fields, src event.Provenance) event.Event {
	return &event.MarketStateUpdated{
		Meta:             meta(src),
		Cash:             f.amount("cash"),
		TotalBorrows:     f.amount("total_borrows"),
		TotalReserves:    f.amount("total_reserves"),
		SupplyIndex:      f.amount("supply_index"),
		BorrowIndex:      f.amount("borrow_index"),
		Utilization:      f.amount("utilization"),
		SupplyRatePerSec: f.amount("supply_rate_per_sec"),
		BorrowRatePerSec: f.amount("borrow_rate_per_sec"),
		Timestamp:        f.timestamp("timestamp"),
	}
}

func projectDeposit(f *fields, src event.Provenance) event.Event {
	return &event.Deposit{Meta: meta(src), Account: f.identity("account"), Amount: f.amount("amount")}
}

func projectWithdraw(f *fields, src event.Provenance) event.Event {
	return &event.Withdraw{Meta: meta(src), Account: f.identity("account"), Amount: f.amount("amount")}
}

func projectBorrow(f *fields, src event.Provenance) event.Event {
	return &event.Borrow{Meta: meta(src), Account: f.identity("account"), Amount: f.amount("amount")}
}

func projectRepay(f *fields, src event.Provenance) event.Event {
	return &event.Repay{Meta: meta(src), Account: f.identity("account"), Amount: f.amount("amount")}
}

func projectLiquidate(f *fields, src event.Provenance) event.Event {
	return &event.Liquidate{
		Meta:        meta(src),
		Borrower:    f.identity("borrower"),
		Liquidator:  f.identity("liquidator"),
		RepayAmount: f.amount("repay_amount"),
		SeizeAmount: f.amount("seize_amount"),
	}
}
