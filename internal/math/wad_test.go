package math

import (
	stdmath "math"
	"math/big"
	"testing"
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad test literal " + s)
	}
	return v
}

func TestWadMul(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{"1000", "800000000000000000", "800"},          // 1000 * 0.8
		{"999", "500000000000000000", "499"},           // truncates 499.5
		{"0", "800000000000000000", "0"},
		{"1", "1000000000000000000", "1"},
		{"-999", "500000000000000000", "-499"},         // toward zero
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", "1000000000000000000",
			"115792089237316195423570985008687907853269984665640564039457584007913129639935"},
	}
	for _, tt := range tests {
		got := WadMul(bi(tt.a), bi(tt.b))
		if got.String() != tt.want {
			t.Errorf("WadMul(%s, %s): got %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestPositionScenario(t *testing.T) {
	// deposits 1000, withdrawals 200, borrows 300, repays 100,
	// collateral factor 0.75, liquidation threshold 0.8.
	cf := bi("750000000000000000")
	lt := bi("800000000000000000")

	netSupply, netBorrow := NetPosition(big.NewInt(1000), big.NewInt(200), big.NewInt(300), big.NewInt(100))
	if netSupply.Int64() != 800 || netBorrow.Int64() != 200 {
		t.Fatalf("net: got (%s, %s), want (800, 200)", netSupply, netBorrow)
	}

	limit := BorrowLimit(netSupply, cf)
	if limit.Int64() != 600 {
		t.Errorf("borrow limit: got %s, want 600", limit)
	}

	avail := AvailableBorrow(limit, netBorrow)
	if avail.Int64() != 400 {
		t.Errorf("available: got %s, want 400", avail)
	}

	hf := HealthFactor(netSupply, lt, netBorrow)
	if hf == nil || hf.String() != "3200000000000000000" {
		t.Errorf("health factor: got %v, want 3.2 WAD", hf)
	}

	if v := LiquidationThresholdValue(netSupply, lt); v.Int64() != 640 {
		t.Errorf("liquidation threshold value: got %s, want 640", v)
	}
}

func TestNetPosition_MayGoNegative(t *testing.T) {
	netSupply, netBorrow := NetPosition(big.NewInt(10), big.NewInt(50), big.NewInt(0), big.NewInt(5))
	if netSupply.Int64() != -40 {
		t.Errorf("net supply: got %s, want -40", netSupply)
	}
	if netBorrow.Int64() != -5 {
		t.Errorf("net borrow: got %s, want -5", netBorrow)
	}
}

func TestAvailableBorrow_NeverNegative(t *testing.T) {
	got := AvailableBorrow(big.NewInt(100), big.NewInt(250))
	if got.Sign() != 0 {
		t.Errorf("got %s, want 0", got)
	}
}

func TestHealthFactor_NoDebt(t *testing.T) {
	if hf := HealthFactor(big.NewInt(1000), WAD, big.NewInt(0)); hf != nil {
		t.Errorf("got %s, want nil", hf)
	}
	if hf := HealthFactor(big.NewInt(0), WAD, big.NewInt(1)); hf == nil || hf.Sign() != 0 {
		t.Errorf("zero supply with debt: got %v, want 0", hf)
	}
}

func TestHealthFactor_DoesNotMutateInputs(t *testing.T) {
	s, lt, b := big.NewInt(800), bi("800000000000000000"), big.NewInt(200)
	HealthFactor(s, lt, b)
	if s.Int64() != 800 || b.Int64() != 200 || lt.String() != "800000000000000000" {
		t.Errorf("inputs mutated: %s %s %s", s, lt, b)
	}
}

func TestQuantizePrice(t *testing.T) {
	tests := []struct {
		price float64
		want  string
	}{
		{1.0, "1000000000000000000"},
		{0.1, "100000000000000000"},
		{1234.56789, "1234567890000000000000"},
		{64000.123456789123, "64000123456789000000000"},
		{0.000000001, "1000000000"},
		{0.0000000009, "0"},
		{0, "0"},
		{-3, "0"},
		{stdmath.NaN(), "0"},
		{stdmath.Inf(1), "0"},
	}
	for _, tt := range tests {
		got := QuantizePrice(tt.price)
		if got.String() != tt.want {
			t.Errorf("QuantizePrice(%v): got %s, want %s", tt.price, got, tt.want)
		}
	}
}

func TestQuantizePrice_LowDigitsZero(t *testing.T) {
	for _, p := range []float64{0.5, 3.14159265358979, 27123.4, 1e6 + 0.987654321} {
		got := QuantizePrice(p)
		rem := new(big.Int).Mod(got, priceStep)
		if rem.Sign() != 0 {
			t.Errorf("QuantizePrice(%v) = %s has non-zero low digits", p, got)
		}
	}
}

func TestParseAmount(t *testing.T) {
	if v, err := ParseAmount(""); err != nil || v.Sign() != 0 {
		t.Errorf("empty: got %v, %v", v, err)
	}
	if v, err := ParseAmount(" 123456789012345678901234567890 "); err != nil || v.String() != "123456789012345678901234567890" {
		t.Errorf("big: got %v, %v", v, err)
	}
	for _, bad := range []string{"1.5", "abc", "1e18", "0x10"} {
		if _, err := ParseAmount(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
	if MustAmount("nope").Sign() != 0 {
		t.Error("MustAmount of bad input should be zero")
	}
}

func TestSum(t *testing.T) {
	got := Sum(big.NewInt(1), nil, big.NewInt(2), bi("1000000000000000000000"))
	if got.String() != "1000000000000000000003" {
		t.Errorf("got %s", got)
	}
	if Sum().Sign() != 0 {
		t.Error("empty sum should be zero")
	}
}
