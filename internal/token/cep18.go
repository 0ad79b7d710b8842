// Package token reads CEP-18 balances and allowances from contract
// dictionaries. Reads never fail the caller: an unreadable value comes back
// as "0" with the reason in Warning.
package token

import (
	"context"
	"math/big"

	"LendingLedger/internal/address"
	"LendingLedger/internal/chain"

	"github.com/rs/zerolog"
)

const (
	BalancesDictionary   = "balances"
	AllowancesDictionary = "allowances"
)

// StateReader is the slice of chain.Resolver the token reader needs.
type StateReader interface {
	ResolveLatestContractHash(ctx context.Context, pkg address.Identity) chain.ContractResolution
	ReadDictionaryItem(ctx context.Context, contract address.Identity, dictionary, itemKey string) (*big.Int, error)
}

// Balance is an owner's CEP-18 balance.
type Balance struct {
	AccountHash          address.Identity `json:"accountHash"`
	ContractHash         address.Identity `json:"contractHash"`
	ResolvedContractHash address.Identity `json:"resolvedContractHash"`
	Resolved             bool             `json:"resolved"`
	Balance              string           `json:"balance"`
	Warning              string           `json:"warning,omitempty"`
}

// Allowance is what spender may move on behalf of owner.
type Allowance struct {
	OwnerAccountHash          address.Identity `json:"ownerAccountHash"`
	TokenContractHash         address.Identity `json:"tokenContractHash"`
	SpenderContractHash       address.Identity `json:"spenderContractHash"`
	ResolvedTokenContractHash address.Identity `json:"resolvedTokenContractHash"`
	Resolved                  bool             `json:"resolved"`
	Allowance                 string           `json:"allowance"`
	Warning                   string           `json:"warning,omitempty"`
}

type Reader struct {
	state  StateReader
	logger zerolog.Logger
}

func NewReader(state StateReader, logger zerolog.Logger) *Reader {
	return &Reader{state: state, logger: logger}
}

// Balance reads owner's entry in the token's balances dictionary. token may
// name the package or a contract; packages resolve to their latest
// contract.
func (r *Reader) Balance(ctx context.Context, owner, token address.Identity) Balance {
	res := r.state.ResolveLatestContractHash(ctx, token)
	out := Balance{
		AccountHash:          owner,
		ContractHash:         token,
		ResolvedContractHash: res.OrInput(),
		Resolved:             res.Resolved,
	}
	out.Balance, out.Warning = r.read(ctx, res.OrInput(), BalancesDictionary, address.BalanceDictionaryKey(owner))
	return out
}

// Allowance reads the owner/spender entry in the token's allowances
// dictionary. The spender is used as given.
func (r *Reader) Allowance(ctx context.Context, owner, token, spender address.Identity) Allowance {
	res := r.state.ResolveLatestContractHash(ctx, token)
	out := Allowance{
		OwnerAccountHash:          owner,
		TokenContractHash:         token,
		SpenderContractHash:       spender,
		ResolvedTokenContractHash: res.OrInput(),
		Resolved:                  res.Resolved,
	}
	out.Allowance, out.Warning = r.read(ctx, res.OrInput(), AllowancesDictionary, address.AllowanceDictionaryKey(owner, spender))
	return out
}

func (r *Reader) read(ctx context.Context, contract address.Identity, dictionary, itemKey string) (value, warning string) {
	v, err := r.state.ReadDictionaryItem(ctx, contract, dictionary, itemKey)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("contract", contract.String()).
			Str("dictionary", dictionary).
			Msg("token read degraded to zero")
		return "0", err.Error()
	}
	return v.String(), ""
}
