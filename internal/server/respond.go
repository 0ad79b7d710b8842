package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"LendingLedger/internal/address"
	"LendingLedger/internal/chain"
	"LendingLedger/internal/oracle"
	"LendingLedger/internal/query"
)

// Failure codes returned in the "error" field.
const (
	CodeInvalidIdentity      = "invalid_identity"
	CodeInvalidRequest       = "invalid_request"
	CodeMarketNotFound       = "market_not_found"
	CodeAssetNotFound        = "asset_not_found"
	CodePriceNotFound        = "price_not_found"
	CodeCycleInProgress      = "cycle_in_progress"
	CodeUpstreamUnavailable  = "upstream_unavailable"
	CodeContractHashNotFound = "contract_hash_not_found"
	CodeInternalError        = "internal_error"
)

var (
	errAssetNotFound        = errors.New("asset not configured")
	errContractHashNotFound = errors.New("latest contract hash not found")
	errMissingParam         = errors.New("missing parameter")
)

type failure struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// body is a success object; "ok": true is added on write.
type body map[string]any

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, b body) {
	b["ok"] = true
	writeJSON(w, http.StatusOK, b)
}

func writeFailure(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, failure{OK: false, Error: code, Detail: detail})
}

// classify maps an error to its HTTP status and failure code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, address.ErrInvalidIdentity), errors.Is(err, address.ErrInvalidPublicKey):
		return http.StatusBadRequest, CodeInvalidIdentity
	case errors.Is(err, errMissingParam):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, query.ErrMarketNotFound):
		return http.StatusNotFound, CodeMarketNotFound
	case errors.Is(err, errAssetNotFound):
		return http.StatusNotFound, CodeAssetNotFound
	case errors.Is(err, query.ErrPriceNotFound):
		return http.StatusNotFound, CodePriceNotFound
	case errors.Is(err, oracle.ErrCycleInProgress):
		return http.StatusConflict, CodeCycleInProgress
	case errors.Is(err, errContractHashNotFound):
		return http.StatusInternalServerError, CodeContractHashNotFound
	case errors.Is(err, chain.ErrQueryFailed),
		errors.Is(err, chain.ErrSpeculativeCallFailed),
		errors.Is(err, oracle.ErrSourceError),
		errors.Is(err, oracle.ErrInvalidPrice):
		return http.StatusBadGateway, CodeUpstreamUnavailable
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Str("code", code).Msg("request failed")
	}
	writeFailure(w, status, code, err.Error())
}

// limitParam reads ?limit=; anything missing or invalid falls back to the
// default inside query.ClampLimit.
func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

// bypassCache reports whether the request asked for fresh data.
func bypassCache(r *http.Request) bool {
	q := r.URL.Query()
	return truthy(q.Get("fresh")) || truthy(q.Get("noCache"))
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func requiredParam(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return "", errors.Join(errMissingParam, errors.New(name+" is required"))
	}
	return v, nil
}
