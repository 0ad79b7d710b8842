package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminator for ledger events
type Kind int32

const (
	KindUnknown Kind = iota
	KindDeposit
	KindWithdraw
	KindBorrow
	KindRepay
	KindLiquidate
	KindPriceUpdated
	KindMarketRegistered
	KindMarketActiveUpdated
	KindPauseFlagsUpdated
	KindRateModelUpdated
	KindRiskParamsUpdated
	KindMarketStateUpdated
)

var kindNames = map[Kind]string{
	KindDeposit:             "Deposit",
	KindWithdraw:            "Withdraw",
	KindBorrow:              "Borrow",
	KindRepay:               "Repay",
	KindLiquidate:           "Liquidate",
	KindPriceUpdated:        "PriceUpdated",
	KindMarketRegistered:    "MarketRegistered",
	KindMarketActiveUpdated: "MarketActiveUpdated",
	KindPauseFlagsUpdated:   "PauseFlagsUpdated",
	KindRateModelUpdated:    "RateModelUpdated",
	KindRiskParamsUpdated:   "RiskParamsUpdated",
	KindMarketStateUpdated:  "MarketStateUpdated",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "Unknown"
}

// ParseKind maps the chain's event name to a Kind. Unrecognised names give
// KindUnknown.
func ParseKind(name string) Kind {
	return kindsByName[name]
}

// ActivityKinds are the position-changing kinds, in display order.
var ActivityKinds = []Kind{KindDeposit, KindWithdraw, KindBorrow, KindRepay, KindLiquidate}

// Provenance records where an event came from.
type Provenance struct {
	ContractPackage string
	DeployHash      string
	BlockHash       string
	ReceivedAt      time.Time
}

// Indexed holds the columns the store keeps outside the JSON body so that
// read models can filter and aggregate in SQL.
type Indexed struct {
	Account      string
	Counterparty string
	Asset        string
	Amount       string
	Timestamp    *int64
}

// Event is implemented by every ledger event variant. The set is closed:
// New returns a value for each non-unknown Kind.
type Event interface {
	Kind() Kind
	Provenance() Provenance
	Indexed() Indexed
}

// New returns an empty event of the given kind, ready to be unmarshalled
// into.
func New(k Kind) (Event, error) {
	switch k {
	case KindDeposit:
		return &Deposit{}, nil
	case KindWithdraw:
		return &Withdraw{}, nil
	case KindBorrow:
		return &Borrow{}, nil
	case KindRepay:
		return &Repay{}, nil
	case KindLiquidate:
		return &Liquidate{}, nil
	case KindPriceUpdated:
		return &PriceUpdated{}, nil
	case KindMarketRegistered:
		return &MarketRegistered{}, nil
	case KindMarketActiveUpdated:
		return &MarketActiveUpdated{}, nil
	case KindPauseFlagsUpdated:
		return &PauseFlagsUpdated{}, nil
	case KindRateModelUpdated:
		return &RateModelUpdated{}, nil
	case KindRiskParamsUpdated:
		return &RiskParamsUpdated{}, nil
	case KindMarketStateUpdated:
		return &MarketStateUpdated{}, nil
	default:
		return nil, fmt.Errorf("unknown event kind: %d", k)
	}
}

// Decode rebuilds a stored event from its kind and JSON fields.
func Decode(k Kind, fields []byte, src Provenance) (Event, error) {
	ev, err := New(k)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", k, err)
	}
	setProvenance(ev, src)
	return ev, nil
}

// RawRecord is the un-interpreted form of a stream frame. It is written for
// every emitted frame and is the source of truth.
type RawRecord struct {
	ID              uuid.UUID
	ContractPackage string
	EventType       string
	Payload         json.RawMessage
	DeployHash      string
	BlockHash       string
	ReceivedAt      time.Time
}
