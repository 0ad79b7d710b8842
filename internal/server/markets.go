package server

import (
	"net/http"

	"LendingLedger/internal/address"
	"LendingLedger/internal/query"

	"github.com/go-chi/chi/v5"
)

func (s *Server) mountMarkets(r chi.Router) {
	r.Get("/", s.listMarkets)
	r.Get("/summary", s.marketSummaries)
	r.Get("/prices/latest", s.latestPrices)
	r.Route("/asset/{asset}", func(r chi.Router) {
		r.Get("/", s.marketByAsset)
		r.Get("/state", s.marketState)
		r.Get("/params", s.marketParams)
		r.Get("/summary", s.marketSummary)
		r.Get("/activity", s.marketActivity)
	})
}

func (s *Server) mountActivity(r chi.Router) {
	r.Get("/recent", s.recentActivity)
	r.Route("/account/{account}", func(r chi.Router) {
		r.Get("/", s.accountActivity)
		r.Get("/position", s.accountPosition)
		r.Get("/positions", s.accountPositions)
	})
}

func assetParam(r *http.Request) (string, error) {
	id, err := address.NormalizeIdentity(chi.URLParam(r, "asset"))
	return string(id), err
}

func accountParam(r *http.Request) (string, error) {
	id, err := address.NormalizeAccount(chi.URLParam(r, "account"))
	return string(id), err
}

// optionalIdentity normalizes a query value that may be absent.
func optionalIdentity(r *http.Request, name string) (string, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return "", nil
	}
	id, err := address.NormalizeIdentity(raw)
	return string(id), err
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()

	markets, err := s.deps.Query.Markets(ctx, limitParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, body{"markets": markets})
}

func (s *Server) marketSummaries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()

	summaries, err := s.deps.Query.MarketSummaries(ctx, limitParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, body{"markets": summaries})
}

func (s *Server) latestPrices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()

	prices, err := s.deps.Query.LatestPrices(ctx, limitParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, body{"prices": prices})
}

func (s *Server) marketByAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := assetParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	market, err := s.deps.Query.Market(ctx, asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, body{"market": market, "marketPackageHash": market.MarketPackageHash()})
}

func (s *Server) marketState(w http.ResponseWriter, r *http.Request) {
	asset, err := assetParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	pkg, err := optionalIdentity(r, "marketPackageHash")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	state, err := query.Cached(s.deps.Cache, "state:"+asset+":"+pkg, bypassCache(r), func() (*query.MarketState, error) {
		return s.deps.Query.MarketState(ctx, asset, pkg)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		*query.MarketState
	}{true, state})
}

func (s *Server) marketParams(w http.ResponseWriter, r *http.Request) {
	asset, err := assetParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	params, err := query.Cached(s.deps.Cache, "params:"+asset, bypassCache(r), func() (*query.MarketParams, error) {
		return s.deps.Query.MarketParams(ctx, asset)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		*query.MarketParams
	}{true, params})
}

func (s *Server) marketSummary(w http.ResponseWriter, r *http.Request) {
	asset, err := assetParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	summary, err := query.Cached(s.deps.Cache, "summary:"+asset, bypassCache(r), func() (*query.MarketSummary, error) {
		return s.deps.Query.MarketSummary(ctx, asset)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		*query.MarketSummary
	}{true, summary})
}

func (s *Server) marketActivity(w http.ResponseWriter, r *http.Request) {
	asset, err := assetParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	act, err := s.deps.Query.MarketActivity(ctx, asset, limitParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, body{
		"asset":             act.Asset,
		"marketPackageHash": act.MarketPackageHash,
		"activity":          act.Activity,
	})
}

func (s *Server) recentActivity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()

	act, err := s.deps.Query.RecentActivity(ctx, limitParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, body{"activity": act})
}

func (s *Server) accountActivity(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	act, err := s.deps.Query.AccountActivity(ctx, account, limitParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, body{"account": account, "activity": act})
}

func (s *Server) accountPosition(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	pos, err := s.deps.Query.AccountPosition(ctx, account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, body{"account": pos.Account, "totals": pos.Totals, "net": pos.Net})
}

func (s *Server) accountPositions(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var filter query.PositionFilter
	if filter.MarketPackageHash, err = optionalIdentity(r, "marketPackageHash"); err != nil {
		s.fail(w, r, err)
		return
	}
	if filter.Asset, err = optionalIdentity(r, "asset"); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	positions, err := s.deps.Query.AccountPositions(ctx, account, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, body{"account": account, "positions": positions})
}

func (s *Server) eventHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()

	h, err := s.deps.Query.EventHealth(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, body{"latest": h})
}
