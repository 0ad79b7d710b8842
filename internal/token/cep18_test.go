package token_test

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"LendingLedger/internal/address"
	"LendingLedger/internal/chain"
	"LendingLedger/internal/token"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner    = address.Identity(strings.Repeat("0a", 32))
	pkg      = address.Identity(strings.Repeat("0b", 32))
	contract = address.Identity(strings.Repeat("0c", 32))
	spender  = address.Identity(strings.Repeat("0d", 32))
)

type fakeState struct {
	resolution chain.ContractResolution
	value      *big.Int
	err        error

	contract   address.Identity
	dictionary string
	itemKey    string
}

func (f *fakeState) ResolveLatestContractHash(ctx context.Context, p address.Identity) chain.ContractResolution {
	if f.resolution.Hash == "" {
		return chain.ContractResolution{Hash: p, Err: errors.New("not a package")}
	}
	return f.resolution
}

func (f *fakeState) ReadDictionaryItem(ctx context.Context, c address.Identity, dictionary, itemKey string) (*big.Int, error) {
	f.contract, f.dictionary, f.itemKey = c, dictionary, itemKey
	return f.value, f.err
}

func TestBalance_ResolvesPackage(t *testing.T) {
	st := &fakeState{
		resolution: chain.ContractResolution{Hash: contract, Resolved: true},
		value:      big.NewInt(1234),
	}
	b := token.NewReader(st, zerolog.Nop()).Balance(context.Background(), owner, pkg)

	assert.Equal(t, "1234", b.Balance)
	assert.Empty(t, b.Warning)
	assert.True(t, b.Resolved)
	assert.Equal(t, contract, b.ResolvedContractHash)
	assert.Equal(t, pkg, b.ContractHash)
	assert.Equal(t, contract, st.contract)
	assert.Equal(t, "balances", st.dictionary)
	assert.Equal(t, address.BalanceDictionaryKey(owner), st.itemKey)
}

func TestBalance_DegradesToZero(t *testing.T) {
	var logs bytes.Buffer
	st := &fakeState{err: chain.ErrQueryFailed}
	b := token.NewReader(st, zerolog.New(&logs)).Balance(context.Background(), owner, contract)

	assert.Equal(t, "0", b.Balance)
	assert.NotEmpty(t, b.Warning)
	assert.False(t, b.Resolved)
	assert.Equal(t, contract, b.ResolvedContractHash)
	assert.Contains(t, logs.String(), "token read degraded to zero")
}

func TestAllowance_UsesSpenderAsGiven(t *testing.T) {
	st := &fakeState{
		resolution: chain.ContractResolution{Hash: contract, Resolved: true},
		value:      big.NewInt(7),
	}
	a := token.NewReader(st, zerolog.Nop()).Allowance(context.Background(), owner, pkg, spender)

	require.Equal(t, "7", a.Allowance)
	assert.Equal(t, spender, a.SpenderContractHash)
	assert.Equal(t, contract, a.ResolvedTokenContractHash)
	assert.Equal(t, "allowances", st.dictionary)
	assert.Equal(t, address.AllowanceDictionaryKey(owner, spender), st.itemKey)
}

func TestAllowance_DegradesToZero(t *testing.T) {
	st := &fakeState{err: errors.New("connection refused")}
	a := token.NewReader(st, zerolog.Nop()).Allowance(context.Background(), owner, pkg, spender)

	assert.Equal(t, "0", a.Allowance)
	assert.Equal(t, "connection refused", a.Warning)
}
