package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"LendingLedger/internal/chain"
	"LendingLedger/internal/config"
	"LendingLedger/internal/ingestion"
	"LendingLedger/internal/observability"
	"LendingLedger/internal/oracle"
	"LendingLedger/internal/persistence"
	"LendingLedger/internal/query"
	"LendingLedger/internal/server"
	"LendingLedger/internal/token"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := observability.NewLogger("main")
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("lendingd stopped")
	}
	logger.Info().Msg("lendingd shutdown complete")
}

func run(logger zerolog.Logger) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Msg("read .env")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info().Msg("lendingd starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Msg("postgres connected")

	applied, err := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("persistence")).Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker(db)

	// --- Outbound NATS (optional) ---
	var publisher ingestion.Publisher
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("ingestion"))
		if err != nil {
			return err
		}
		defer drainNATS(nc, logger)
		if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
			return err
		}
		publisher = ingestion.NewOutboundPublisher(js)
		logger.Info().Msg("nats connected")
	} else {
		logger.Info().Msg("LENDING_NATS_URL not set, outbound publishing disabled")
	}

	// --- Chain ---
	mainRPC, err := chain.NewClient(chain.Config{URL: cfg.RPCURL, Timeout: cfg.RPCTimeout, Metrics: metrics})
	if err != nil {
		return fmt.Errorf("rpc client: %w", err)
	}
	specRPC, err := chain.NewClient(chain.Config{URL: cfg.SpeculativeRPCURL, Timeout: cfg.RPCTimeout, Metrics: metrics})
	if err != nil {
		return fmt.Errorf("speculative rpc client: %w", err)
	}
	var signer chain.Signer
	if cfg.OracleKey != "" {
		if signer, err = chain.LoadSigner(cfg.OracleKey, cfg.OracleKeyAlgorithm); err != nil {
			return err
		}
	}
	resolver := chain.NewResolver(mainRPC)
	invoker := chain.NewInvoker(chain.InvokerConfig{
		Main:        mainRPC,
		Speculative: specRPC,
		Signer:      signer,
		ChainName:   cfg.ChainName,
		Payment:     cfg.GasPayment,
	})

	// --- Event stream ---
	ingestLogger := observability.NewLogger("ingestion")
	sink := persistence.NewRetryingSink(persistence.NewStore(db), persistence.DefaultRetryPolicy, metrics, observability.NewLogger("persistence"))
	streamer := ingestion.NewStreamer(ingestion.StreamConfig{
		BaseURL:   cfg.StreamURL,
		Packages:  cfg.EventPackages,
		AccessKey: cfg.StreamAccessKey,
		Logger:    &ingestLogger,
		Metrics:   metrics,
	}, sink, publisher)

	// --- Oracle ---
	oracleLogger := observability.NewLogger("oracle")
	var (
		scheduler *oracle.Scheduler
		trigger   server.OracleTrigger
	)
	if cfg.OracleEnabled() {
		source := oracle.NewCoinGecko(oracle.CoinGeckoConfig{
			BaseURL:       cfg.CoinGeckoURL,
			APIKey:        cfg.CoinGeckoAPIKey,
			RatePerMinute: cfg.CoinGeckoRatePerMinute,
			Metrics:       metrics,
			Logger:        oracleLogger,
		})
		submitter := oracle.NewChainSubmitter(invoker, cfg.OracleContractHash, cfg.GasPayment, oracleLogger)
		feeder := oracle.NewFeeder(cfg.Assets, source, submitter, metrics, oracleLogger)
		scheduler = oracle.NewScheduler(feeder, oracle.SchedulerConfig{
			Interval: cfg.OracleInterval,
			Metrics:  metrics,
			Logger:   oracleLogger,
		})
		trigger = scheduler
	} else {
		oracleLogger.Warn().Msg("ORACLE_CONTRACT_HASH or ORACLE_ADMIN_PRIVATE_KEY not set, feeder disabled")
	}

	// --- HTTP API ---
	api := server.New(cfg.HTTPAddr, server.Deps{
		Query:         query.NewService(db),
		Cache:         query.NewCache(query.DefaultCacheTTL, metrics),
		Chain:         resolver,
		Calls:         invoker,
		Tokens:        token.NewReader(resolver, observability.NewLogger("token")),
		Oracle:        trigger,
		Assets:        cfg.Assets,
		OraclePackage: cfg.OraclePackageHash,
		Health:        health,
		Metrics:       metrics,
		Logger:        observability.NewLogger("server"),
	})

	// --- Goroutines ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return streamer.Run(gctx) })
	g.Go(func() error { return api.Start(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, logger) })
	if scheduler != nil {
		scheduler.Start(gctx)
		defer scheduler.Stop()
	}

	health.SetReady(true)
	logger.Info().
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Strs("packages", cfg.EventPackages).
		Int("assets", len(cfg.Assets)).
		Msg("lendingd ready")

	<-gctx.Done()
	health.SetReady(false)
	logger.Info().Msg("shutting down")
	return g.Wait()
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func drainNATS(nc *nats.Conn, logger zerolog.Logger) {
	if err := nc.Drain(); err != nil {
		logger.Warn().Err(err).Msg("nats drain")
	}
}
