// Package server exposes the lending read API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"LendingLedger/internal/address"
	"LendingLedger/internal/chain"
	"LendingLedger/internal/observability"
	"LendingLedger/internal/oracle"
	"LendingLedger/internal/query"
	"LendingLedger/internal/token"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// DefaultRequestTimeout bounds each request's store and chain work.
const DefaultRequestTimeout = 20 * time.Second

// StateQuerier reads contract state.
type StateQuerier interface {
	QueryContractPackage(ctx context.Context, id address.Identity) (*chain.StateValue, error)
	QueryContract(ctx context.Context, id address.Identity) (*chain.StateValue, error)
}

// ContractCaller runs a read-only entry point.
type ContractCaller interface {
	Call(ctx context.Context, contract address.Identity, entryPoint string, args chain.RuntimeArgs) (*chain.CallResult, error)
}

// OracleTrigger runs one oracle cycle on demand.
type OracleTrigger interface {
	TriggerOnce(ctx context.Context) ([]string, error)
}

// Deps holds what the handlers read from. Chain, Calls, Tokens and Oracle
// may be nil; their routes then answer 502.
type Deps struct {
	Query         *query.Service
	Cache         *query.Cache
	Chain         StateQuerier
	Calls         ContractCaller
	Tokens        *token.Reader
	Oracle        OracleTrigger
	Assets        []oracle.Asset
	OraclePackage address.Identity
	Health        *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
	Timeout       time.Duration
}

// Server serves the read API.
type Server struct {
	deps    Deps
	logger  zerolog.Logger
	timeout time.Duration
	handler http.Handler
	http    *http.Server
}

// New builds the router. addr is used by Start only.
func New(addr string, deps Deps) *Server {
	s := &Server{
		deps:    deps,
		logger:  deps.Logger,
		timeout: deps.Timeout,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultRequestTimeout
	}
	s.handler = s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	if h := s.deps.Health; h != nil {
		r.Get("/healthz", h.LivenessHandler)
		r.Get("/readyz", h.ReadinessHandler)
		r.Get("/health", h.LivenessHandler)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/markets", s.mountMarkets)
		api.Route("/activity", s.mountActivity)
		api.Route("/onchain", s.mountOnchain)
		api.Route("/oracle", s.mountOracle)
		api.Route("/token", s.mountToken)
		api.Get("/health/events", s.eventHealth)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, "not_found", r.URL.Path)
	})
	return r
}

// Start serves until ctx is cancelled, then drains for up to five seconds.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

func (s *Server) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

// instrument records request counts and latency by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			endpoint = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if m := s.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
		s.logger.Debug().
			Str("method", r.Method).
			Str("endpoint", endpoint).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
