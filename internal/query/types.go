package query

import (
	"database/sql"
	"encoding/json"
	"time"

	"LendingLedger/internal/event"

	"github.com/google/uuid"
)

// Record is one stored ledger event. Fields is the event body in the
// chain's field names.
type Record struct {
	ID                  int64           `json:"id"`
	RawEventID          uuid.UUID       `json:"rawEventId"`
	Kind                string          `json:"kind"`
	ContractPackageHash string          `json:"contractPackageHash"`
	Fields              json.RawMessage `json:"fields"`
	DeployHash          string          `json:"deployHash"`
	BlockHash           string          `json:"blockHash"`
	CreatedAt           time.Time       `json:"createdAt"`

	asset        string
	counterparty string
}

// MarketPackageHash is the market contract named by a MarketRegistered
// record.
func (r *Record) MarketPackageHash() string {
	return r.counterparty
}

// Event decodes the record back into its typed variant.
func (r *Record) Event() (event.Event, error) {
	return event.Decode(event.ParseKind(r.Kind), r.Fields, event.Provenance{
		ContractPackage: r.ContractPackageHash,
		DeployHash:      r.DeployHash,
		BlockHash:       r.BlockHash,
		ReceivedAt:      r.CreatedAt,
	})
}

// RawEvent is one row of contract_events.
type RawEvent struct {
	ID                  uuid.UUID       `json:"id"`
	ContractPackageHash string          `json:"contractPackageHash"`
	EventType           string          `json:"eventType"`
	Payload             json.RawMessage `json:"payload"`
	DeployHash          string          `json:"deployHash"`
	BlockHash           string          `json:"blockHash"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// Activity is a position-changing event tagged with its kind.
type Activity struct {
	Type  string `json:"type"`
	Event Record `json:"event"`
}

// Totals are the summed amounts per activity kind, as decimal strings.
type Totals struct {
	Deposits    string `json:"deposits"`
	Withdrawals string `json:"withdrawals"`
	Borrows     string `json:"borrows"`
	Repays      string `json:"repays"`
}

// MarketTotals adds the net figures to Totals.
type MarketTotals struct {
	Totals
	NetSupply string `json:"netSupply"`
	NetBorrow string `json:"netBorrow"`
}

// Net is supply and borrow after withdrawals and repays.
type Net struct {
	Supply string `json:"supply"`
	Borrow string `json:"borrow"`
}

// Derived values are computed at read time from totals and risk params.
// HealthFactor is null when there is no debt.
type Derived struct {
	BorrowLimit          string  `json:"borrowLimit"`
	LiquidationThreshold string  `json:"liquidationThreshold"`
	AvailableBorrow      string  `json:"availableBorrow"`
	HealthFactor         *string `json:"healthFactor"`
}

// AccountPosition is an account's totals across all markets.
type AccountPosition struct {
	Account string `json:"account"`
	Totals  Totals `json:"totals"`
	Net     Net    `json:"net"`
}

// MarketPosition is an account's position in one market.
type MarketPosition struct {
	MarketPackageHash string  `json:"marketPackageHash"`
	Asset             *string `json:"asset"`
	Market            *Record `json:"market"`
	Totals            Totals  `json:"totals"`
	Net               Net     `json:"net"`
	Derived           Derived `json:"derived"`
	Price             *Record `json:"price"`
	RiskParams        *Record `json:"riskParams"`
	RateModel         *Record `json:"rateModel"`
}

// MarketState is the registration, latest price and activity totals of a
// market.
type MarketState struct {
	Asset             string        `json:"asset"`
	Market            *Record       `json:"market"`
	Price             *Record       `json:"price"`
	Totals            *MarketTotals `json:"totals"`
	MarketPackageHash string        `json:"marketPackageHash"`
	Source            string        `json:"source"`
}

// MarketParams is the registration of a market.
type MarketParams struct {
	Asset  string  `json:"asset"`
	Market *Record `json:"market"`
	Source string  `json:"source"`
}

// PauseFlags mirrors the latest PauseFlagsUpdated event.
type PauseFlags struct {
	SupplyPaused      bool `json:"supplyPaused"`
	BorrowPaused      bool `json:"borrowPaused"`
	WithdrawPaused    bool `json:"withdrawPaused"`
	RepayPaused       bool `json:"repayPaused"`
	LiquidationPaused bool `json:"liquidationPaused"`
}

// MarketSummary collects the latest configuration and state of a market.
// IsActive defaults to true when no MarketActiveUpdated was seen.
type MarketSummary struct {
	Asset             string      `json:"asset"`
	Market            *Record     `json:"market"`
	MarketPackageHash string      `json:"marketPackageHash"`
	Price             *Record     `json:"price"`
	State             *Record     `json:"state"`
	RateModel         *Record     `json:"rateModel"`
	RiskParams        *Record     `json:"riskParams"`
	IsActive          bool        `json:"isActive"`
	PauseFlags        *PauseFlags `json:"pauseFlags"`
	Source            string      `json:"source,omitempty"`
}

// MarketActivity is the recent activity of one market.
type MarketActivity struct {
	Asset             string     `json:"asset"`
	MarketPackageHash string     `json:"marketPackageHash"`
	Activity          []Activity `json:"activity"`
}

// OraclePrice is the newest raw PriceUpdated of the oracle for one asset.
type OraclePrice struct {
	Symbol     string          `json:"symbol"`
	Asset      string          `json:"asset"`
	Price      string          `json:"price"`
	Timestamp  *int64          `json:"timestamp"`
	DeployHash string          `json:"deployHash"`
	BlockHash  string          `json:"blockHash"`
	ObservedAt time.Time       `json:"observedAt"`
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// EventHealth reports when each stream was last written to.
type EventHealth struct {
	ContractEventAt *time.Time `json:"contractEventAt"`
	PriceEventAt    *time.Time `json:"priceEventAt"`
	DepositEventAt  *time.Time `json:"depositEventAt"`
	BorrowEventAt   *time.Time `json:"borrowEventAt"`
}
