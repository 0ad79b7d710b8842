// Package config reads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"LendingLedger/internal/address"
	"LendingLedger/internal/oracle"
)

// StoreConfig is the part of the configuration the database tools need.
type StoreConfig struct {
	DatabaseURL   string
	MigrationsDir string
}

// Config holds all lendingd configuration.
type Config struct {
	StoreConfig

	// HTTP API and metrics
	HTTPAddr    string
	MetricsAddr string

	// Outbound NATS; empty disables publishing
	NATSURL string

	// Chain node
	RPCURL            string
	SpeculativeRPCURL string
	RPCTimeout        time.Duration
	ChainName         string
	GasPayment        *big.Int

	// Event stream
	StreamURL       string
	StreamAccessKey string
	EventPackages   []string

	// Oracle
	OracleInterval     time.Duration
	OraclePackageHash  address.Identity
	OracleContractHash address.Identity
	OracleKey          string
	OracleKeyAlgorithm string

	// Price source
	CoinGeckoURL           string
	CoinGeckoAPIKey        string
	CoinGeckoRatePerMinute int

	Assets []oracle.Asset
}

// LoadStore reads DATABASE_URL and LENDING_MIGRATIONS_DIR.
func LoadStore() (StoreConfig, error) {
	cfg := StoreConfig{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		MigrationsDir: envOrDefault("LENDING_MIGRATIONS_DIR", "migrations"),
	}
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}

// Load reads and validates the full configuration. Every problem found is
// reported, joined into one error.
func Load() (*Config, error) {
	var errs []error
	store, err := LoadStore()
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		StoreConfig:        store,
		HTTPAddr:           ":" + envOrDefault("PORT", "4000"),
		MetricsAddr:        envOrDefault("LENDING_METRICS_ADDR", ":9091"),
		NATSURL:            os.Getenv("LENDING_NATS_URL"),
		RPCURL:             os.Getenv("CSPR_RPC_URL"),
		ChainName:          os.Getenv("CASPER_NETWORK"),
		StreamURL:          envOrDefault("CSPR_WSS_URL", os.Getenv("CSPR_CLOUD_STREAMING_URL")),
		StreamAccessKey:    os.Getenv("CSPR_CLOUD_ACCESS_KEY"),
		OracleKey:          strings.ReplaceAll(os.Getenv("ORACLE_ADMIN_PRIVATE_KEY"), `\n`, "\n"),
		OracleKeyAlgorithm: os.Getenv("ORACLE_KEY_ALGORITHM"),
		CoinGeckoURL:       envOrDefault("COINGECKO_BASE_URL", oracle.DefaultCoinGeckoURL),
		CoinGeckoAPIKey:    os.Getenv("COINGECKO_API_KEY"),
	}
	cfg.SpeculativeRPCURL = envOrDefault("CSPR_SPECULATIVE_RPC_URL", cfg.RPCURL)

	if cfg.RPCURL == "" {
		errs = append(errs, errors.New("CSPR_RPC_URL is required"))
	}
	if cfg.ChainName == "" {
		errs = append(errs, errors.New("CASPER_NETWORK is required"))
	}
	if cfg.StreamURL == "" {
		errs = append(errs, errors.New("CSPR_WSS_URL or CSPR_CLOUD_STREAMING_URL is required"))
	}

	timeoutMS, err := envIntOrDefault("LENDING_RPC_TIMEOUT_MS", 15000)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.RPCTimeout = time.Duration(timeoutMS) * time.Millisecond

	intervalMS, err := envIntOrDefault("ORACLE_UPDATE_INTERVAL_MS", 0)
	switch {
	case err != nil:
		errs = append(errs, err)
	case intervalMS <= 0:
		errs = append(errs, errors.New("ORACLE_UPDATE_INTERVAL_MS must be > 0"))
	}
	cfg.OracleInterval = time.Duration(intervalMS) * time.Millisecond

	if cfg.CoinGeckoRatePerMinute, err = envIntOrDefault("COINGECKO_RATE_PER_MIN", 30); err != nil {
		errs = append(errs, err)
	}

	if v := os.Getenv("CASPER_GAS_PAYMENT"); v != "" {
		p, ok := new(big.Int).SetString(v, 10)
		if !ok || p.Sign() <= 0 {
			errs = append(errs, fmt.Errorf("CASPER_GAS_PAYMENT: %q is not a positive integer", v))
		} else {
			cfg.GasPayment = p
		}
	}

	if cfg.OraclePackageHash, err = optionalIdentity("ORACLE_CONTRACT_PACKAGE_HASH"); err != nil {
		errs = append(errs, err)
	}
	if cfg.OracleContractHash, err = optionalIdentity("ORACLE_CONTRACT_HASH"); err != nil {
		errs = append(errs, err)
	}

	cfg.EventPackages, err = eventPackages(cfg.OraclePackageHash)
	if err != nil {
		errs = append(errs, err)
	}

	if cfg.Assets, err = oracle.LoadAssetMap(os.Getenv("ASSET_ID_MAP"), os.Getenv("ASSET_ID_MAP_PATH")); err != nil {
		errs = append(errs, fmt.Errorf("asset map: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OracleEnabled reports whether the feeder has a contract and a key to
// sign with.
func (c *Config) OracleEnabled() bool {
	return c.OracleContractHash != "" && c.OracleKey != ""
}

func eventPackages(oraclePkg address.Identity) ([]string, error) {
	raw := os.Getenv("EVENT_CONTRACT_PACKAGE_HASHES")
	if strings.TrimSpace(raw) == "" {
		if oraclePkg == "" {
			return nil, nil
		}
		return []string{string(oraclePkg)}, nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := address.NormalizeIdentity(part)
		if err != nil {
			return nil, fmt.Errorf("EVENT_CONTRACT_PACKAGE_HASHES: %w", err)
		}
		out = append(out, string(id))
	}
	return out, nil
}

func optionalIdentity(key string) (address.Identity, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", nil
	}
	id, err := address.NormalizeIdentity(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return id, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}
