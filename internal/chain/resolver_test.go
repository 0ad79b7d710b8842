package chain_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"LendingLedger/internal/address"
	"LendingLedger/internal/chain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRPC answers calls from a handler and records the keys it was asked for.
type fakeRPC struct {
	handle func(method string, params map[string]any) (any, error)
	keys   []string
}

func (f *fakeRPC) Call(ctx context.Context, method string, params, result any) error {
	p, _ := params.(map[string]any)
	if k, ok := p["key"].(string); ok {
		f.keys = append(f.keys, k)
	}
	v, err := f.handle(method, p)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, result)
}

var (
	pkgID      = address.Identity(strings.Repeat("1", 64))
	contractV1 = strings.Repeat("2", 64)
	contractV2 = strings.Repeat("3", 64)
)

func TestQueryWithPrefixFallback_FirstSuccessWins(t *testing.T) {
	rpc := &fakeRPC{handle: func(method string, p map[string]any) (any, error) {
		if strings.HasPrefix(p["key"].(string), "contract-package-") {
			return nil, &chain.RPCError{Code: -32003, Message: "not a package"}
		}
		return map[string]any{"stored_value": map[string]any{"Contract": map[string]any{}}}, nil
	}}
	r := chain.NewResolver(rpc)

	sv, err := r.QueryContractPackage(context.Background(), pkgID)
	require.NoError(t, err)
	assert.Equal(t, "hash-"+string(pkgID), sv.Key)
	assert.Equal(t, []string{"contract-package-" + string(pkgID), "hash-" + string(pkgID)}, rpc.keys)
}

func TestQueryWithPrefixFallback_StopsAtFirstSuccess(t *testing.T) {
	rpc := &fakeRPC{handle: func(method string, p map[string]any) (any, error) {
		return map[string]any{"stored_value": map[string]any{}}, nil
	}}
	r := chain.NewResolver(rpc)

	sv, err := r.QueryContractPackage(context.Background(), pkgID)
	require.NoError(t, err)
	assert.Equal(t, "contract-package-"+string(pkgID), sv.Key)
	assert.Len(t, rpc.keys, 1)
}

func TestQueryWithPrefixFallback_LastErrorWins(t *testing.T) {
	rpc := &fakeRPC{handle: func(method string, p map[string]any) (any, error) {
		return nil, fmt.Errorf("missing %s", p["key"])
	}}
	r := chain.NewResolver(rpc)

	_, err := r.QueryContractPackage(context.Background(), pkgID)
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrQueryFailed)
	assert.Contains(t, err.Error(), "missing hash-"+string(pkgID))
	assert.NotContains(t, err.Error(), "missing contract-package-")
}

func TestResolveLatestContractHash(t *testing.T) {
	rpc := &fakeRPC{handle: func(method string, p map[string]any) (any, error) {
		return map[string]any{"stored_value": map[string]any{
			"ContractPackage": map[string]any{
				"versions": []map[string]any{
					{"contract_version": 1, "contract_hash": "contract-" + contractV1},
					{"contract_version": 2, "contract_hash": "contract-" + contractV2},
				},
			},
		}}, nil
	}}
	res := chain.NewResolver(rpc).ResolveLatestContractHash(context.Background(), pkgID)
	assert.True(t, res.Resolved)
	assert.NoError(t, res.Err)
	assert.Equal(t, contractV2, string(res.OrInput()))
}

func TestResolveLatestContractHash_FallsBackToInput(t *testing.T) {
	cases := map[string]func(string, map[string]any) (any, error){
		"query fails": func(string, map[string]any) (any, error) {
			return nil, errors.New("boom")
		},
		"not a package": func(string, map[string]any) (any, error) {
			return map[string]any{"stored_value": map[string]any{"Account": map[string]any{}}}, nil
		},
		"no versions": func(string, map[string]any) (any, error) {
			return map[string]any{"stored_value": map[string]any{"ContractPackage": map[string]any{"versions": []any{}}}}, nil
		},
	}
	for name, handle := range cases {
		t.Run(name, func(t *testing.T) {
			res := chain.NewResolver(&fakeRPC{handle: handle}).ResolveLatestContractHash(context.Background(), pkgID)
			assert.False(t, res.Resolved)
			assert.Error(t, res.Err)
			assert.Equal(t, pkgID, res.OrInput())
		})
	}
}

func dictionaryRPC(t *testing.T, item func(p map[string]any) (any, error)) *fakeRPC {
	return &fakeRPC{handle: func(method string, p map[string]any) (any, error) {
		switch method {
		case "chain_get_state_root_hash":
			return map[string]any{"state_root_hash": "root-1"}, nil
		case "state_get_dictionary_item":
			assert.Equal(t, "root-1", p["state_root_hash"])
			return item(p)
		}
		t.Fatalf("unexpected method %s", method)
		return nil, nil
	}}
}

func TestReadDictionaryItem_ParsesValue(t *testing.T) {
	rpc := dictionaryRPC(t, func(p map[string]any) (any, error) {
		id := p["dictionary_identifier"].(map[string]any)["ContractNamedKey"].(map[string]string)
		assert.Equal(t, "hash-"+contractV1, id["key"])
		assert.Equal(t, "balances", id["dictionary_name"])
		assert.Equal(t, "item-1", id["dictionary_item_key"])
		return map[string]any{"stored_value": map[string]any{
			"CLValue": map[string]any{"cl_type": "U256", "bytes": "02e803", "parsed": "1000"},
		}}, nil
	})

	v, err := chain.NewResolver(rpc).ReadDictionaryItem(context.Background(), address.Identity(contractV1), "balances", "item-1")
	require.NoError(t, err)
	assert.Equal(t, "1000", v.String())
}

func TestReadDictionaryItem_NumericParsed(t *testing.T) {
	rpc := dictionaryRPC(t, func(p map[string]any) (any, error) {
		return map[string]any{"stored_value": map[string]any{
			"CLValue": map[string]any{"cl_type": "U64", "parsed": json.Number("123456789012345678901")},
		}}, nil
	})
	v, err := chain.NewResolver(rpc).ReadDictionaryItem(context.Background(), address.Identity(contractV1), "balances", "k")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901", v.String())
}

func TestReadDictionaryItem_NotFoundIsZero(t *testing.T) {
	rpc := dictionaryRPC(t, func(p map[string]any) (any, error) {
		return nil, &chain.RPCError{Code: -32003, Message: "Failed to find dictionary item: ValueNotFound"}
	})
	v, err := chain.NewResolver(rpc).ReadDictionaryItem(context.Background(), address.Identity(contractV1), "allowances", "k")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Sign())
}

func TestReadDictionaryItem_OtherErrorsPropagate(t *testing.T) {
	rpc := dictionaryRPC(t, func(p map[string]any) (any, error) {
		return nil, &chain.RPCError{Code: -32602, Message: "invalid params"}
	})
	_, err := chain.NewResolver(rpc).ReadDictionaryItem(context.Background(), address.Identity(contractV1), "balances", "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrQueryFailed)
	var rpcErr *chain.RPCError
	assert.True(t, errors.As(err, &rpcErr))
}

func TestReadDictionaryItem_StateRootFailure(t *testing.T) {
	rpc := &fakeRPC{handle: func(method string, p map[string]any) (any, error) {
		return nil, errors.New("connection refused")
	}}
	_, err := chain.NewResolver(rpc).ReadDictionaryItem(context.Background(), address.Identity(contractV1), "balances", "k")
	assert.ErrorIs(t, err, chain.ErrQueryFailed)
}
