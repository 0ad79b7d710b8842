package projection_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"LendingLedger/internal/event"
	"LendingLedger/internal/projection"
)

var (
	hexA = strings.Repeat("a", 64)
	hexB = strings.Repeat("b", 64)
	hexC = strings.Repeat("c", 64)
	hexD = strings.Repeat("d", 64)
)

func src() event.Provenance {
	return event.Provenance{
		ContractPackage: hexA,
		DeployHash:      "deploy-1",
		BlockHash:       "block-1",
		ReceivedAt:      time.Unix(1700000000, 0).UTC(),
	}
}

func project(t *testing.T, name, payload string) (event.Event, error) {
	t.Helper()
	return projection.ProjectRaw(name, src(), []byte(payload))
}

func TestProjectDeposit_NumberAmount(t *testing.T) {
	ev, err := project(t, "Deposit", `{"account":"account-hash-`+hexB+`","amount":1000}`)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	d, ok := ev.(*event.Deposit)
	if !ok {
		t.Fatalf("expected *event.Deposit, got %T", ev)
	}
	if string(d.Account) != hexB {
		t.Errorf("account: got %s, want %s", d.Account, hexB)
	}
	if d.Amount != "1000" {
		t.Errorf("amount: got %s, want 1000", d.Amount)
	}
	if d.Provenance().DeployHash != "deploy-1" {
		t.Errorf("provenance: got %+v", d.Provenance())
	}
}

func TestProjectDeposit_BigAmountKeepsPrecision(t *testing.T) {
	ev, err := project(t, "Deposit", `{"account":"`+hexB+`","amount":123456789012345678901234567890}`)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if got := ev.(*event.Deposit).Amount; got != "123456789012345678901234567890" {
		t.Errorf("amount: got %s", got)
	}
}

func TestProjectAmount_TruncatesFractions(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`12.9`, "12"},
		{`-12.9`, "-12"},
		{`1.5e3`, "1500"},
		{`"42"`, "42"},
		{`"0042"`, "42"},
		{`0.00123e3`, "1"},
		{`-0.5`, "0"},
		{`1e-30000000`, "0"},
		{`{"U256":"77"}`, "77"},
		{`{"U512":1e2}`, "100"},
	}
	for _, tt := range tests {
		ev, err := project(t, "Borrow", `{"account":"`+hexB+`","amount":`+tt.raw+`}`)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.raw, err)
			continue
		}
		if got := ev.(*event.Borrow).Amount; got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestProjectAmount_RejectsNonIntegerStrings(t *testing.T) {
	for _, raw := range []string{`"12.5"`, `"abc"`, `""`, `true`, `null`, `{}`} {
		_, err := project(t, "Repay", `{"account":"`+hexB+`","amount":`+raw+`}`)
		if err == nil {
			t.Errorf("%s: expected skip", raw)
		}
	}
}

func TestProjectAmount_BoundedToU256Width(t *testing.T) {
	max78 := strings.Repeat("9", 78)
	ev, err := project(t, "Deposit", `{"account":"`+hexB+`","amount":"`+max78+`"}`)
	if err != nil {
		t.Fatalf("78 digits: unexpected error: %v", err)
	}
	if got := ev.(*event.Deposit).Amount; got != max78 {
		t.Errorf("78 digits: got %s", got)
	}

	for _, raw := range []string{
		`1e30000000`,
		`1e78`,
		`12345678901234567890e60`,
		`"` + strings.Repeat("9", 79) + `"`,
		`{"U256":"` + strings.Repeat("1", 79) + `"}`,
	} {
		start := time.Now()
		_, err := project(t, "Deposit", `{"account":"`+hexB+`","amount":`+raw+`}`)
		if !errors.Is(err, projection.ErrBadField) {
			t.Errorf("%.20s: expected ErrBadField, got %v", raw, err)
		}
		if d := time.Since(start); d > time.Second {
			t.Errorf("%.20s: took %v", raw, d)
		}
	}
}

func TestProject_InvalidIdentitySkips(t *testing.T) {
	_, err := project(t, "Withdraw", `{"account":"not-a-hash","amount":"1"}`)
	if !errors.Is(err, projection.ErrBadField) {
		t.Errorf("expected ErrBadField, got %v", err)
	}
}

func TestProject_MissingFieldSkips(t *testing.T) {
	_, err := project(t, "Liquidate", `{"borrower":"`+hexB+`","liquidator":"`+hexC+`","repay_amount":"5"}`)
	if !errors.Is(err, projection.ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func TestProjectLiquidate(t *testing.T) {
	ev, err := project(t, "Liquidate",
		`{"borrower":"`+hexB+`","liquidator":"0x`+hexC+`","repay_amount":"5","seize_amount":6}`)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	l := ev.(*event.Liquidate)
	if string(l.Liquidator) != hexC || l.SeizeAmount != "6" || l.RepayAmount != "5" {
		t.Errorf("got %+v", l)
	}
}

func TestProjectMarketActive_BoolMustBeLiteral(t *testing.T) {
	for _, raw := range []string{`"true"`, `1`, `"yes"`} {
		_, err := project(t, "MarketActiveUpdated", `{"asset":"`+hexB+`","is_active":`+raw+`}`)
		if !errors.Is(err, projection.ErrBadField) {
			t.Errorf("%s: expected ErrBadField, got %v", raw, err)
		}
	}

	ev, err := project(t, "MarketActiveUpdated", `{"asset":"`+hexB+`","is_active":false}`)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if ev.(*event.MarketActiveUpdated).IsActive {
		t.Error("is_active: got true, want false")
	}
}

func TestProjectPauseFlags(t *testing.T) {
	ev, err := project(t, "PauseFlagsUpdated", `{"asset":"`+hexB+`","supply_paused":true,"borrow_paused":false,
		"withdraw_paused":false,"repay_paused":true,"liquidation_paused":false}`)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	p := ev.(*event.PauseFlagsUpdated)
	if !p.SupplyPaused || p.BorrowPaused || !p.RepayPaused {
		t.Errorf("got %+v", p)
	}
}

func TestProjectPriceUpdated_Timestamp(t *testing.T) {
	ev, err := project(t, "PriceUpdated", `{"asset":"hash-`+hexD+`","price":"1000000000000000000","timestamp":1700000000}`)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	p := ev.(*event.PriceUpdated)
	if p.Timestamp == nil || *p.Timestamp != 1700000000 {
		t.Errorf("timestamp: got %v", p.Timestamp)
	}

	// An unusable timestamp is dropped, the event is kept.
	ev, err = project(t, "PriceUpdated", `{"asset":"`+hexD+`","price":"1","timestamp":"soon"}`)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if ts := ev.(*event.PriceUpdated).Timestamp; ts != nil {
		t.Errorf("timestamp: got %d, want nil", *ts)
	}
}

func TestProjectMarketRegistered(t *testing.T) {
	ev, err := project(t, "MarketRegistered",
		`{"asset":"`+hexA+`","market":"contract-package-`+hexB+`","a_token":"`+hexC+`","oracle":"`+hexD+`"}`)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	m := ev.(*event.MarketRegistered)
	if string(m.Market) != hexB || string(m.Oracle) != hexD {
		t.Errorf("got %+v", m)
	}
}

func TestProjectRiskAndRateAndState(t *testing.T) {
	if _, err := project(t, "RiskParamsUpdated", `{"collateral_factor":"750000000000000000",
		"liquidation_threshold":"800000000000000000","close_factor":"500000000000000000",
		"liquidation_bonus":"1050000000000000000","reserve_factor":"100000000000000000",
		"borrow_cap":"0","supply_cap":"0"}`); err != nil {
		t.Errorf("risk params: %v", err)
	}
	if _, err := project(t, "RateModelUpdated", `{"base_rate_per_sec":1,"slope_rate_per_sec":2}`); err != nil {
		t.Errorf("rate model: %v", err)
	}
	ev, err := project(t, "MarketStateUpdated", `{"cash":"1","total_borrows":"2","total_reserves":"3",
		"supply_index":"4","borrow_index":"5","utilization":"6","supply_rate_per_sec":"7","borrow_rate_per_sec":"8"}`)
	if err != nil {
		t.Fatalf("market state: %v", err)
	}
	if s := ev.(*event.MarketStateUpdated); s.BorrowRatePerSec != "8" || s.Timestamp != nil {
		t.Errorf("got %+v", s)
	}
}

func TestProject_UnknownKind(t *testing.T) {
	_, err := project(t, "Transfer", `{"amount":"1"}`)
	if !errors.Is(err, projection.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestProject_NonObjectPayload(t *testing.T) {
	for _, payload := range []string{`null`, `[1,2]`, `"x"`} {
		if _, err := project(t, "Deposit", payload); err == nil {
			t.Errorf("%s: expected error", payload)
		}
	}
}
