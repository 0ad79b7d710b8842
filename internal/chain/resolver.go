package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"LendingLedger/internal/address"
)

// PackagePrefixes is the lookup order for a hash that may name either a
// contract package or a contract.
var PackagePrefixes = []string{"contract-package", "hash"}

// StateValue is the result of a global-state query.
type StateValue struct {
	Key         string          `json:"key"`
	StoredValue json.RawMessage `json:"stored_value"`
	Result      json.RawMessage `json:"result"`
}

// ContractResolution is the outcome of resolving a package to its latest
// contract. On failure Hash is the input package and Err says why.
type ContractResolution struct {
	Hash     address.Identity
	Resolved bool
	Err      error
}

// OrInput returns the resolved contract, or the package hash that was
// passed in when resolution failed.
func (r ContractResolution) OrInput() address.Identity {
	return r.Hash
}

// Resolver reads contract and dictionary state through a node.
type Resolver struct {
	rpc Caller
}

func NewResolver(rpc Caller) *Resolver {
	return &Resolver{rpc: rpc}
}

// QueryGlobalState reads key at the latest state.
func (r *Resolver) QueryGlobalState(ctx context.Context, key string) (*StateValue, error) {
	var raw json.RawMessage
	params := map[string]any{"key": key, "path": []string{}}
	if err := r.rpc.Call(ctx, "query_global_state", params, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrQueryFailed, key, err)
	}

	var body struct {
		StoredValue json.RawMessage `json:"stored_value"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %s: decode: %w", ErrQueryFailed, key, err)
	}
	return &StateValue{Key: key, StoredValue: body.StoredValue, Result: raw}, nil
}

// QueryWithPrefixFallback tries "<prefix>-<id>" for each prefix in order and
// returns the first success. When every prefix fails the last error is
// returned.
func (r *Resolver) QueryWithPrefixFallback(ctx context.Context, id address.Identity, prefixes []string) (*StateValue, error) {
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("%w: no prefixes", ErrQueryFailed)
	}
	var lastErr error
	for _, p := range prefixes {
		sv, err := r.QueryGlobalState(ctx, p+"-"+string(id))
		if err == nil {
			return sv, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// QueryContractPackage reads a hash that may be a package or a contract.
func (r *Resolver) QueryContractPackage(ctx context.Context, id address.Identity) (*StateValue, error) {
	return r.QueryWithPrefixFallback(ctx, id, PackagePrefixes)
}

// QueryContract reads a contract by hash.
func (r *Resolver) QueryContract(ctx context.Context, id address.Identity) (*StateValue, error) {
	return r.QueryGlobalState(ctx, "hash-"+string(id))
}

// ResolveLatestContractHash returns the contract hash of the highest version
// of pkg. It never fails the caller: when resolution is not possible the
// package hash comes back with Resolved false.
func (r *Resolver) ResolveLatestContractHash(ctx context.Context, pkg address.Identity) ContractResolution {
	sv, err := r.QueryContractPackage(ctx, pkg)
	if err != nil {
		return ContractResolution{Hash: pkg, Err: err}
	}
	id, err := latestContractHash(sv.StoredValue)
	if err != nil {
		return ContractResolution{Hash: pkg, Err: err}
	}
	return ContractResolution{Hash: id, Resolved: true}
}

// LatestContractHash reads the highest-version contract hash out of a
// package query result.
func LatestContractHash(sv *StateValue) (address.Identity, error) {
	if sv == nil {
		return "", errors.New("no package state")
	}
	return latestContractHash(sv.StoredValue)
}

type packageVersion struct {
	ContractHash      string `json:"contract_hash"`
	ContractHashCamel string `json:"contractHash"`
	EntityHash        string `json:"entity_hash"`
}

func (v packageVersion) hash() string {
	switch {
	case v.ContractHash != "":
		return v.ContractHash
	case v.ContractHashCamel != "":
		return v.ContractHashCamel
	default:
		return v.EntityHash
	}
}

func latestContractHash(storedValue json.RawMessage) (address.Identity, error) {
	var sv map[string]json.RawMessage
	if err := json.Unmarshal(storedValue, &sv); err != nil {
		return "", fmt.Errorf("decode stored value: %w", err)
	}

	var pkgRaw json.RawMessage
	for _, name := range []string{"ContractPackage", "contract_package", "Package"} {
		if v, ok := sv[name]; ok {
			pkgRaw = v
			break
		}
	}
	if pkgRaw == nil {
		return "", errors.New("stored value is not a contract package")
	}

	var pkg struct {
		Versions []packageVersion `json:"versions"`
	}
	if err := json.Unmarshal(pkgRaw, &pkg); err != nil {
		return "", fmt.Errorf("decode package: %w", err)
	}
	if len(pkg.Versions) == 0 {
		return "", errors.New("package has no versions")
	}
	latest := pkg.Versions[len(pkg.Versions)-1].hash()
	if latest == "" {
		return "", errors.New("latest version has no contract hash")
	}
	return address.NormalizeIdentity(latest)
}

// StateRootHash returns the latest state root.
func (r *Resolver) StateRootHash(ctx context.Context) (string, error) {
	var res struct {
		StateRootHash string `json:"state_root_hash"`
	}
	if err := r.rpc.Call(ctx, "chain_get_state_root_hash", map[string]any{}, &res); err != nil {
		return "", fmt.Errorf("%w: state root: %w", ErrQueryFailed, err)
	}
	if res.StateRootHash == "" {
		return "", fmt.Errorf("%w: empty state root hash", ErrQueryFailed)
	}
	return res.StateRootHash, nil
}

// ReadDictionaryItem reads an integer stored under itemKey in a named
// dictionary of contract. A missing dictionary or item reads as zero.
func (r *Resolver) ReadDictionaryItem(ctx context.Context, contract address.Identity, dictionary, itemKey string) (*big.Int, error) {
	v, err := r.readDictionaryItem(ctx, contract, dictionary, itemKey)
	if err != nil {
		if isDictionaryNotFound(err) {
			return new(big.Int), nil
		}
		if errors.Is(err, ErrQueryFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return v, nil
}

func (r *Resolver) readDictionaryItem(ctx context.Context, contract address.Identity, dictionary, itemKey string) (*big.Int, error) {
	root, err := r.StateRootHash(ctx)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"state_root_hash": root,
		"dictionary_identifier": map[string]any{
			"ContractNamedKey": map[string]string{
				"key":                 "hash-" + string(contract),
				"dictionary_name":     dictionary,
				"dictionary_item_key": itemKey,
			},
		},
	}
	var res struct {
		StoredValue struct {
			CLValue *CLValueJSON `json:"CLValue"`
		} `json:"stored_value"`
	}
	if err := r.rpc.Call(ctx, "state_get_dictionary_item", params, &res); err != nil {
		return nil, fmt.Errorf("item %s of %s: %w", itemKey, dictionary, err)
	}
	if res.StoredValue.CLValue == nil {
		return new(big.Int), nil
	}
	return parsedInteger(res.StoredValue.CLValue.Parsed)
}

// parsedInteger reads a CLValue "parsed" field holding a number or a
// decimal string. An absent value is zero.
func parsedInteger(raw json.RawMessage) (*big.Int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return new(big.Int), nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode parsed value: %w", err)
	}

	var s string
	switch x := v.(type) {
	case string:
		s = strings.TrimSpace(x)
	case json.Number:
		s = x.String()
	default:
		return nil, fmt.Errorf("parsed value is not numeric: %s", trimmed)
	}
	if n, ok := new(big.Int).SetString(s, 10); ok {
		return n, nil
	}
	f, ok := new(big.Float).SetString(s)
	if !ok {
		return nil, fmt.Errorf("parsed value is not numeric: %s", trimmed)
	}
	n, _ := f.Int(nil)
	return n, nil
}

// isDictionaryNotFound matches the node's wording for a missing dictionary
// or item. There is no dedicated error code for it.
func isDictionaryNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "dictionary") &&
		strings.Contains(msg, "not") &&
		strings.Contains(msg, "found")
}
