package address_test

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"LendingLedger/internal/address"
)

var (
	idA = strings.Repeat("a", 64)
	idB = strings.Repeat("b", 64)
)

// ============================================================================
// NormalizeIdentity
// ============================================================================

func TestNormalizeIdentity_AllPrefixes(t *testing.T) {
	inputs := []string{
		idA,
		"0x" + idA,
		"account-hash-" + idA,
		"hash-" + idA,
		"contract-" + idA,
		"contract-package-" + idA,
		"contract-package-wasm-" + idA,
		"package-" + idA,
		"HASH-" + strings.ToUpper(idA),
		"  hash-0x" + idA + " ",
	}

	for _, in := range inputs {
		got, err := address.NormalizeIdentity(in)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", in, err)
			continue
		}
		if string(got) != idA {
			t.Errorf("%q: got %s, want %s", in, got, idA)
		}
	}
}

func TestNormalizeIdentity_Idempotent(t *testing.T) {
	for _, in := range []string{"contract-package-" + idB, "0x" + idB, idB} {
		once, err := address.NormalizeIdentity(in)
		if err != nil {
			t.Fatalf("normalize %q: %v", in, err)
		}
		twice, err := address.NormalizeIdentity(string(once))
		if err != nil {
			t.Fatalf("normalize twice %q: %v", in, err)
		}
		if once != twice {
			t.Errorf("not idempotent: %s != %s", once, twice)
		}
	}
}

func TestNormalizeIdentity_Rejects(t *testing.T) {
	bad := []string{
		"",
		"hash-",
		strings.Repeat("a", 63),
		strings.Repeat("a", 65),
		strings.Repeat("g", 64),
		"uref-" + idA,
	}
	for _, in := range bad {
		if _, err := address.NormalizeIdentity(in); !errors.Is(err, address.ErrInvalidIdentity) {
			t.Errorf("%q: expected ErrInvalidIdentity, got %v", in, err)
		}
	}
}

// ============================================================================
// Public keys
// ============================================================================

func TestIdentityFromPublicKey_Ed25519(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	pk := "01" + hex.EncodeToString(raw)

	got, err := address.IdentityFromPublicKey(pk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "44e8939addecbe7a28af95af337284613d2d82d158f90b9e669599a83d575fee"
	if string(got) != want {
		t.Errorf("account hash: got %s, want %s", got, want)
	}
}

func TestIdentityFromPublicKey_AlgorithmChangesHash(t *testing.T) {
	ed, err := address.IdentityFromPublicKey("01" + strings.Repeat("11", 32))
	if err != nil {
		t.Fatalf("ed25519: %v", err)
	}
	secp, err := address.IdentityFromPublicKey("02" + "03" + strings.Repeat("11", 32))
	if err != nil {
		t.Fatalf("secp256k1: %v", err)
	}
	if ed == secp {
		t.Error("expected different account hashes for different algorithms")
	}
}

func TestIdentityFromPublicKey_Rejects(t *testing.T) {
	bad := []string{
		"",
		"zz",
		"03" + strings.Repeat("11", 32),
		"01" + strings.Repeat("11", 31),
		"02" + strings.Repeat("11", 32),
	}
	for _, in := range bad {
		if _, err := address.IdentityFromPublicKey(in); !errors.Is(err, address.ErrInvalidPublicKey) {
			t.Errorf("%q: expected ErrInvalidPublicKey, got %v", in, err)
		}
	}
}

func TestNormalizeAccount(t *testing.T) {
	got, err := address.NormalizeAccount("account-hash-" + idA)
	if err != nil || string(got) != idA {
		t.Errorf("account hash input: got %s, %v", got, err)
	}

	fromKey, err := address.NormalizeAccount("01" + strings.Repeat("11", 32))
	if err != nil {
		t.Fatalf("public key input: %v", err)
	}
	if len(fromKey) != address.IdentityLen {
		t.Errorf("public key input: got length %d", len(fromKey))
	}

	if _, err := address.NormalizeAccount("nope"); !errors.Is(err, address.ErrInvalidIdentity) {
		t.Errorf("expected ErrInvalidIdentity, got %v", err)
	}
}

// ============================================================================
// Tagged keys and dictionary items
// ============================================================================

func TestTaggedKey_Account(t *testing.T) {
	key := address.TaggedKey(address.TagAccount, address.Identity(idA))
	if len(key) != 33 {
		t.Fatalf("length: got %d, want 33", len(key))
	}
	if key[0] != 0x00 {
		t.Errorf("tag: got %#x, want 0x00", key[0])
	}
	if !bytes.Equal(key[1:], bytes.Repeat([]byte{0xaa}, 32)) {
		t.Errorf("body: got %x", key[1:])
	}
}

func TestBalanceDictionaryKey_EndToEnd(t *testing.T) {
	got := address.BalanceDictionaryKey(address.Identity(idA))

	want := "AKqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"
	if got != want {
		t.Errorf("balance key: got %s, want %s", got, want)
	}

	manual := base64.StdEncoding.EncodeToString(append([]byte{0x00}, bytes.Repeat([]byte{0xaa}, 32)...))
	if got != manual {
		t.Errorf("balance key: got %s, want %s", got, manual)
	}
}

func TestAllowanceDictionaryKey_OrderSensitive(t *testing.T) {
	ab := address.AllowanceDictionaryKey(address.Identity(idA), address.Identity(idB))
	ba := address.AllowanceDictionaryKey(address.Identity(idB), address.Identity(idA))

	if ab != "a4e9367214ccdaff02114416e2a9df4bcdd640a2c5337745c3c80fd2557a5bcb" {
		t.Errorf("allowance(a,b): got %s", ab)
	}
	if ba != "530c873f16e1baa830b17ac0fce35bc0edb75c2d2de15d8510e10fd77c065548" {
		t.Errorf("allowance(b,a): got %s", ba)
	}
	if ab == ba {
		t.Error("allowance key must depend on owner/spender order")
	}
	if again := address.AllowanceDictionaryKey(address.Identity(idA), address.Identity(idB)); again != ab {
		t.Errorf("not deterministic: %s != %s", again, ab)
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in         string
		defaultTag address.Tag
		wantTag    address.Tag
	}{
		{"account-hash-" + idA, address.TagContract, address.TagAccount},
		{"hash-" + idA, address.TagAccount, address.TagContract},
		{"contract-" + idA, address.TagAccount, address.TagContract},
		{idA, address.TagAccount, address.TagAccount},
		{idA, address.TagContract, address.TagContract},
	}
	for _, tt := range tests {
		tag, id, err := address.ParseKey(tt.in, tt.defaultTag)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.in, err)
			continue
		}
		if tag != tt.wantTag {
			t.Errorf("%q: tag got %s, want %s", tt.in, tag, tt.wantTag)
		}
		if string(id) != idA {
			t.Errorf("%q: id got %s", tt.in, id)
		}
	}
}

func TestParseKey_RejectsContractPackage(t *testing.T) {
	for _, in := range []string{"contract-package-" + idA, "Contract-Package-" + idA} {
		if _, _, err := address.ParseKey(in, address.TagContract); !errors.Is(err, address.ErrInvalidIdentity) {
			t.Errorf("%q: expected ErrInvalidIdentity, got %v", in, err)
		}
	}
}

func TestKeyString(t *testing.T) {
	if got := address.KeyString(address.TagAccount, address.Identity(idA)); got != "account-hash-"+idA {
		t.Errorf("account: got %s", got)
	}
	if got := address.KeyString(address.TagContract, address.Identity(idA)); got != "hash-"+idA {
		t.Errorf("contract: got %s", got)
	}
}
