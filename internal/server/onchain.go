package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"LendingLedger/internal/address"
	"LendingLedger/internal/chain"
	"LendingLedger/internal/oracle"
	"LendingLedger/internal/query"
	"LendingLedger/internal/token"

	"github.com/go-chi/chi/v5"
)

// MarketGetters are the read-only entry points called by the getters route,
// in response order.
var MarketGetters = []string{
	"get_cash",
	"get_total_borrows",
	"get_total_reserves",
	"get_supply_index",
	"get_borrow_index",
	"get_utilization",
	"get_supply_rate_per_sec",
	"get_borrow_rate_per_sec",
	"get_rate_model",
	"get_risk_params",
}

var errChainUnavailable = fmt.Errorf("%w: chain access not configured", chain.ErrQueryFailed)

func (s *Server) mountOnchain(r chi.Router) {
	r.Get("/contract-package/{hash}", s.contractPackage)
	r.Get("/contract/{hash}", s.contract)
	r.Route("/market/{asset}", func(r chi.Router) {
		r.Get("/", s.marketOnchain)
		r.Get("/getters", s.marketGetters)
		r.Get("/call/{entrypoint}", s.callMarket)
	})
}

func (s *Server) mountOracle(r chi.Router) {
	r.Get("/once", s.oracleOnce)
	r.Get("/events/latest", s.oracleLatestEvent)
	r.Get("/price/{symbol}", s.oraclePrice)
}

func (s *Server) mountToken(r chi.Router) {
	r.Get("/balance", s.tokenBalance)
	r.Get("/allowance", s.tokenAllowance)
}

type stateResponse struct {
	OK     bool            `json:"ok"`
	Hash   string          `json:"hash"`
	Key    string          `json:"key"`
	Result json.RawMessage `json:"result"`
}

func (s *Server) contractPackage(w http.ResponseWriter, r *http.Request) {
	s.stateRoute(w, r, "contract-package", func(ctx context.Context, id address.Identity) (*chain.StateValue, error) {
		return s.deps.Chain.QueryContractPackage(ctx, id)
	})
}

func (s *Server) contract(w http.ResponseWriter, r *http.Request) {
	s.stateRoute(w, r, "contract", func(ctx context.Context, id address.Identity) (*chain.StateValue, error) {
		return s.deps.Chain.QueryContract(ctx, id)
	})
}

func (s *Server) stateRoute(w http.ResponseWriter, r *http.Request, kind string, load func(context.Context, address.Identity) (*chain.StateValue, error)) {
	id, err := address.NormalizeIdentity(chi.URLParam(r, "hash"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.deps.Chain == nil {
		s.fail(w, r, errChainUnavailable)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	resp, err := query.Cached(s.deps.Cache, kind+":"+string(id), bypassCache(r), func() (*stateResponse, error) {
		sv, err := load(ctx, id)
		if err != nil {
			return nil, err
		}
		return &stateResponse{OK: true, Hash: string(id), Key: sv.Key, Result: sv.Result}, nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// marketContract resolves the asset's registered market to its package
// query and latest contract hash. hash is empty when the package lists no
// contract version.
func (s *Server) marketContract(ctx context.Context, asset string) (pkg address.Identity, sv *chain.StateValue, hash address.Identity, err error) {
	market, err := s.deps.Query.Market(ctx, asset)
	if err != nil {
		return "", nil, "", err
	}
	pkg, err = address.NormalizeIdentity(market.MarketPackageHash())
	if err != nil {
		return "", nil, "", fmt.Errorf("registered market package: %w", err)
	}
	if s.deps.Chain == nil {
		return pkg, nil, "", errChainUnavailable
	}
	sv, err = s.deps.Chain.QueryContractPackage(ctx, pkg)
	if err != nil {
		return pkg, nil, "", err
	}
	hash, err = chain.LatestContractHash(sv)
	if err != nil {
		s.logger.Debug().Err(err).Str("package", string(pkg)).Msg("market package lists no contract")
		return pkg, sv, "", nil
	}
	return pkg, sv, hash, nil
}

type marketOnchainResponse struct {
	OK                bool            `json:"ok"`
	Asset             string          `json:"asset"`
	MarketPackageHash string          `json:"marketPackageHash"`
	ContractHash      *string         `json:"contractHash"`
	PackageKey        string          `json:"packageKey"`
	PackageResult     json.RawMessage `json:"packageResult"`
	ContractResult    json.RawMessage `json:"contractResult"`
}

func (s *Server) marketOnchain(w http.ResponseWriter, r *http.Request) {
	asset, err := assetParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	resp, err := query.Cached(s.deps.Cache, "onchain-market:"+asset, bypassCache(r), func() (*marketOnchainResponse, error) {
		pkg, sv, hash, err := s.marketContract(ctx, asset)
		if err != nil {
			return nil, err
		}
		out := &marketOnchainResponse{
			OK:                true,
			Asset:             asset,
			MarketPackageHash: string(pkg),
			PackageKey:        sv.Key,
			PackageResult:     sv.Result,
			ContractResult:    json.RawMessage("null"),
		}
		if hash != "" {
			h := string(hash)
			out.ContractHash = &h
			contract, err := s.deps.Chain.QueryContract(ctx, hash)
			if err != nil {
				return nil, err
			}
			out.ContractResult = contract.Result
		}
		return out, nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type gettersResponse struct {
	OK                bool                         `json:"ok"`
	Asset             string                       `json:"asset"`
	MarketPackageHash string                       `json:"marketPackageHash"`
	ContractHash      string                       `json:"contractHash"`
	Results           map[string]*chain.CallResult `json:"results"`
}

func (s *Server) marketGetters(w http.ResponseWriter, r *http.Request) {
	asset, err := assetParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	resp, err := query.Cached(s.deps.Cache, "onchain-getters:"+asset, bypassCache(r), func() (*gettersResponse, error) {
		pkg, _, hash, err := s.marketContract(ctx, asset)
		if err != nil {
			return nil, err
		}
		if hash == "" {
			return nil, fmt.Errorf("%w: package %s", errContractHashNotFound, pkg)
		}
		if s.deps.Calls == nil {
			return nil, errChainUnavailable
		}
		results := make(map[string]*chain.CallResult, len(MarketGetters))
		for _, name := range MarketGetters {
			res, err := s.deps.Calls.Call(ctx, hash, name, nil)
			if err != nil {
				return nil, fmt.Errorf("call %s: %w", name, err)
			}
			results[name] = res
		}
		return &gettersResponse{
			OK:                true,
			Asset:             asset,
			MarketPackageHash: string(pkg),
			ContractHash:      string(hash),
			Results:           results,
		}, nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// keyArgs builds the single Key argument of a market call. A bare hash is a
// contract when keyType is "hash" and an account otherwise.
func keyArgs(entryPoint, key, keyType string) (chain.RuntimeArgs, error) {
	if key == "" {
		return nil, nil
	}
	defaultTag := address.TagAccount
	if strings.EqualFold(keyType, "hash") {
		defaultTag = address.TagContract
	}
	tag, id, err := address.ParseKey(key, defaultTag)
	if err != nil {
		return nil, err
	}
	name := "owner"
	if strings.Contains(strings.ToLower(entryPoint), "borrower") {
		name = "borrower"
	}
	return chain.RuntimeArgs{{Name: name, Value: chain.Key(tag, id)}}, nil
}

func (s *Server) callMarket(w http.ResponseWriter, r *http.Request) {
	asset, err := assetParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entryPoint := chi.URLParam(r, "entrypoint")
	args, err := keyArgs(entryPoint, r.URL.Query().Get("key"), r.URL.Query().Get("keyType"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	pkg, _, hash, err := s.marketContract(ctx, asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if hash == "" {
		s.fail(w, r, fmt.Errorf("%w: package %s", errContractHashNotFound, pkg))
		return
	}
	if s.deps.Calls == nil {
		s.fail(w, r, errChainUnavailable)
		return
	}
	res, err := s.deps.Calls.Call(ctx, hash, entryPoint, args)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, body{
		"asset":             asset,
		"marketPackageHash": string(pkg),
		"contractHash":      string(hash),
		"entryPoint":        entryPoint,
		"result":            res,
	})
}

func (s *Server) oracleOnce(w http.ResponseWriter, r *http.Request) {
	if s.deps.Oracle == nil {
		s.fail(w, r, fmt.Errorf("%w: oracle not configured", oracle.ErrSourceError))
		return
	}
	// A cycle signs and submits deploys; it is not bound to the read timeout.
	hashes, err := s.deps.Oracle.TriggerOnce(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if hashes == nil {
		hashes = []string{}
	}
	writeOK(w, body{"deployHashes": hashes})
}

func (s *Server) oracleLatestEvent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()

	ev, err := s.deps.Query.LatestRawEvent(ctx, string(s.deps.OraclePackage))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, body{"event": ev})
}

func (s *Server) oraclePrice(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToLower(chi.URLParam(r, "symbol"))
	asset, ok := oracle.FindAsset(s.deps.Assets, symbol)
	if !ok {
		s.fail(w, r, fmt.Errorf("%w: %s", errAssetNotFound, symbol))
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	price, err := s.deps.Query.OraclePrice(ctx, string(s.deps.OraclePackage), symbol, string(asset.Hash))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		*query.OraclePrice
	}{true, price})
}

func (s *Server) tokenBalance(w http.ResponseWriter, r *http.Request) {
	owner, contract, err := s.identityParams(r, "accountHash", "contractHash")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.deps.Tokens == nil {
		s.fail(w, r, errChainUnavailable)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	b := s.deps.Tokens.Balance(ctx, owner[0], contract)
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		token.Balance
	}{true, b})
}

func (s *Server) tokenAllowance(w http.ResponseWriter, r *http.Request) {
	ids, spender, err := s.identityParams(r, "ownerAccountHash", "tokenContractHash", "spenderContractHash")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.deps.Tokens == nil {
		s.fail(w, r, errChainUnavailable)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	a := s.deps.Tokens.Allowance(ctx, ids[0], ids[1], spender)
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		token.Allowance
	}{true, a})
}

// identityParams reads and normalizes the named required query values. The
// first one is the owner account and may also be given as a public key. The
// last one is returned separately.
func (s *Server) identityParams(r *http.Request, names ...string) ([]address.Identity, address.Identity, error) {
	ids := make([]address.Identity, len(names))
	for i, name := range names {
		raw, err := requiredParam(r, name)
		if err != nil {
			return nil, "", err
		}
		normalize := address.NormalizeIdentity
		if i == 0 {
			normalize = address.NormalizeAccount
		}
		if ids[i], err = normalize(raw); err != nil {
			return nil, "", err
		}
	}
	return ids[:len(ids)-1], ids[len(ids)-1], nil
}
