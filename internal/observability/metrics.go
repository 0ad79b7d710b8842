package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the lending backend.
// Components accept a nil *Metrics and skip recording.
type Metrics struct {
	// --- Event stream ---
	StreamFrames     *prometheus.CounterVec
	StreamReconnects prometheus.Counter
	StreamState      prometheus.Gauge
	ProjectionSkips  *prometheus.CounterVec

	// --- Persistence ---
	RawWritten    prometheus.Counter
	LedgerWritten *prometheus.CounterVec
	PersistErrors *prometheus.CounterVec
	PersistRetry  prometheus.Counter
	PublishErrors prometheus.Counter

	// --- Chain RPC ---
	RPCRequests *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec

	// --- Oracle ---
	OracleCycles        *prometheus.CounterVec
	OracleCycleDuration prometheus.Histogram
	OracleFetchErrors   *prometheus.CounterVec
	OraclePrice         *prometheus.GaugeVec
	OracleSubmissions   prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	rpcBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	return &Metrics{
		// Event stream
		StreamFrames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_stream_frames_total",
			Help: "Event stream frames by outcome",
		}, []string{"result"}),

		StreamReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "lending_stream_reconnects_total",
			Help: "Event stream reconnect attempts",
		}),

		StreamState: f.NewGauge(prometheus.GaugeOpts{
			Name: "lending_stream_state",
			Help: "Event stream state (0 disconnected, 1 connecting, 2 streaming)",
		}),

		ProjectionSkips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_projection_skips_total",
			Help: "Emitted events stored raw only",
		}, []string{"event_type"}),

		// Persistence
		RawWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "lending_persist_raw_written_total",
			Help: "Raw contract events written",
		}),

		LedgerWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_persist_ledger_written_total",
			Help: "Normalized ledger events written",
		}, []string{"kind"}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_persist_errors_total",
			Help: "Persistence errors after retries",
		}, []string{"op"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "lending_persist_retry_total",
			Help: "Persistence retries",
		}),

		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "lending_publish_errors_total",
			Help: "Outbound NATS publish failures",
		}),

		// Chain RPC
		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_rpc_requests_total",
			Help: "Chain JSON-RPC requests",
		}, []string{"method", "status"}),

		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lending_rpc_duration_seconds",
			Help:    "Chain JSON-RPC latency",
			Buckets: rpcBuckets,
		}, []string{"method"}),

		// Oracle
		OracleCycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_oracle_cycles_total",
			Help: "Oracle feeder cycles by outcome",
		}, []string{"outcome"}),

		OracleCycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lending_oracle_cycle_duration_seconds",
			Help:    "Oracle feeder cycle duration including retries",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		OracleFetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_oracle_fetch_errors_total",
			Help: "Price source failures",
		}, []string{"kind"}),

		OraclePrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lending_oracle_price_usd",
			Help: "Last fetched USD price",
		}, []string{"symbol"}),

		OracleSubmissions: f.NewCounter(prometheus.CounterOpts{
			Name: "lending_oracle_submissions_total",
			Help: "set_price deploys accepted by the node",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lending_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"endpoint"}),

		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "lending_cache_hits_total",
			Help: "Read cache hits",
		}),

		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "lending_cache_misses_total",
			Help: "Read cache misses",
		}),
	}
}
