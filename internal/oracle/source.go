package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"LendingLedger/internal/observability"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidPrice    = errors.New("invalid price")
	ErrSourceError     = errors.New("price source error")
	ErrCycleInProgress = errors.New("oracle cycle in progress")
)

const (
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	userAgent           = "LendingOracle/1.0"
)

// Fetch retry policy: one try plus three retries, 500ms apart.
var (
	FetchAttempts = uint(4)
	FetchDelay    = 500 * time.Millisecond
)

// Quote is a USD spot price.
type Quote struct {
	ID       string
	PriceUSD float64
}

// PriceSource fetches a USD price by source id.
type PriceSource interface {
	FetchPrice(ctx context.Context, id string) (Quote, error)
}

type CoinGeckoConfig struct {
	BaseURL       string
	APIKey        string
	RatePerMinute int
	HTTPClient    *http.Client
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// CoinGecko reads /simple/price. Requests share one rate limiter.
type CoinGecko struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  zerolog.Logger

	attempts uint
	delay    time.Duration
}

func NewCoinGecko(cfg CoinGeckoConfig) *CoinGecko {
	c := &CoinGecko{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		client:   cfg.HTTPClient,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		attempts: FetchAttempts,
		delay:    FetchDelay,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultCoinGeckoURL
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 10 * time.Second}
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	return c
}

// WithRetry overrides the fetch retry policy.
func (c *CoinGecko) WithRetry(attempts uint, delay time.Duration) *CoinGecko {
	c.attempts, c.delay = attempts, delay
	return c
}

// FetchPrice returns the USD price of id, retrying transient failures.
func (c *CoinGecko) FetchPrice(ctx context.Context, id string) (Quote, error) {
	var q Quote
	err := retry.Do(
		func() error {
			var err error
			q, err = c.fetchOnce(ctx, id)
			return err
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug().Err(err).Uint("attempt", n+1).Str("id", id).Msg("price fetch retry")
		}),
	)
	return q, err
}

func (c *CoinGecko) fetchOnce(ctx context.Context, id string) (Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Quote{}, err
	}

	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.countError("transport")
		return Quote{}, fmt.Errorf("%w: %w", ErrSourceError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.countError("status")
		return Quote{}, fmt.Errorf("%w: coingecko status %d", ErrSourceError, resp.StatusCode)
	}

	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.countError("decode")
		return Quote{}, fmt.Errorf("%w: decode response: %w", ErrSourceError, err)
	}
	price, ok := body[id]["usd"]
	if !ok || price <= 0 {
		c.countError("invalid_price")
		return Quote{}, fmt.Errorf("%w: %s", ErrInvalidPrice, id)
	}
	return Quote{ID: id, PriceUSD: price}, nil
}

func (c *CoinGecko) countError(kind string) {
	if c.metrics != nil {
		c.metrics.OracleFetchErrors.WithLabelValues(kind).Inc()
	}
}
