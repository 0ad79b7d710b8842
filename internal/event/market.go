package event

import "LendingLedger/internal/address"

// PriceUpdated is emitted by the oracle contract. Price is WAD-scaled.
type PriceUpdated struct {
	Meta      `json:"-"`
	Asset     address.Identity `json:"asset"`
	Price     string           `json:"price"`
	Timestamp *int64           `json:"timestamp,omitempty"`
}

func (p *PriceUpdated) Kind() Kind {
	return KindPriceUpdated
}

func (p *PriceUpdated) Indexed() Indexed {
	return Indexed{Asset: string(p.Asset), Amount: p.Price, Timestamp: p.Timestamp}
}

// MarketRegistered binds an underlying asset to its market, aToken and
// oracle packages. The latest registration per asset is the current one.
type MarketRegistered struct {
	Meta   `json:"-"`
	Asset  address.Identity `json:"asset"`
	Market address.Identity `json:"market"`
	AToken address.Identity `json:"a_token"`
	Oracle address.Identity `json:"oracle"`
}

func (m *MarketRegistered) Kind() Kind {
	return KindMarketRegistered
}

func (m *MarketRegistered) Indexed() Indexed {
	return Indexed{Asset: string(m.Asset), Counterparty: string(m.Market)}
}

type MarketActiveUpdated struct {
	Meta     `json:"-"`
	Asset    address.Identity `json:"asset"`
	IsActive bool             `json:"is_active"`
}

func (m *MarketActiveUpdated) Kind() Kind {
	return KindMarketActiveUpdated
}

func (m *MarketActiveUpdated) Indexed() Indexed {
	return Indexed{Asset: string(m.Asset)}
}

type PauseFlagsUpdated struct {
	Meta              `json:"-"`
	Asset             address.Identity `json:"asset"`
	SupplyPaused      bool             `json:"supply_paused"`
	BorrowPaused      bool             `json:"borrow_paused"`
	WithdrawPaused    bool             `json:"withdraw_paused"`
	RepayPaused       bool             `json:"repay_paused"`
	LiquidationPaused bool             `json:"liquidation_paused"`
}

func (p *PauseFlagsUpdated) Kind() Kind {
	return KindPauseFlagsUpdated
}

func (p *PauseFlagsUpdated) Indexed() Indexed {
	return Indexed{Asset: string(p.Asset)}
}

// RateModelUpdated carries per-second rates, WAD-scaled.
type RateModelUpdated struct {
	Meta            `json:"-"`
	BaseRatePerSec  string `json:"base_rate_per_sec"`
	SlopeRatePerSec string `json:"slope_rate_per_sec"`
}

func (r *RateModelUpdated) Kind() Kind {
	return KindRateModelUpdated
}

func (r *RateModelUpdated) Indexed() Indexed {
	return Indexed{}
}

// RiskParamsUpdated carries WAD-scaled ratios and raw-unit caps.
type RiskParamsUpdated struct {
	Meta                 `json:"-"`
	CollateralFactor     string `json:"collateral_factor"`
	LiquidationThreshold string `json:"liquidation_threshold"`
	CloseFactor          string `json:"close_factor"`
	LiquidationBonus     string `json:"liquidation_bonus"`
	ReserveFactor        string `json:"reserve_factor"`
	BorrowCap            string `json:"borrow_cap"`
	SupplyCap            string `json:"supply_cap"`
}

func (r *RiskParamsUpdated) Kind() Kind {
	return KindRiskParamsUpdated
}

func (r *RiskParamsUpdated) Indexed() Indexed {
	return Indexed{}
}

// MarketStateUpdated is the market's accrual snapshot.
type MarketStateUpdated struct {
	Meta             `json:"-"`
	Cash             string `json:"cash"`
	TotalBorrows     string `json:"total_borrows"`
	TotalReserves    string `json:"total_reserves"`
	SupplyIndex      string `json:"supply_index"`
	BorrowIndex      string `json:"borrow_index"`
	Utilization      string `json:"utilization"`
	SupplyRatePerSec string `json:"supply_rate_per_sec"`
	BorrowRatePerSec string `json:"borrow_rate_per_sec"`
	Timestamp        *int64 `json:"timestamp,omitempty"`
}

func (m *MarketStateUpdated) Kind() Kind {
	return KindMarketStateUpdated
}

func (m *MarketStateUpdated) Indexed() Indexed {
	return Indexed{Timestamp: m.Timestamp}
}
