package ingestion_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"LendingLedger/internal/event"
	"LendingLedger/internal/ingestion"
	"LendingLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pkgHex     = strings.Repeat("ab", 32)
	accountHex = strings.Repeat("cd", 32)
)

// memorySink records writes; rawErr / ledgerErr make the matching write fail.
type memorySink struct {
	mu        sync.Mutex
	raws      []event.RawRecord
	ledger    []event.Event
	ledgerRaw []uuid.UUID
	rawErr    error
	ledgerErr error
}

func (m *memorySink) WriteRaw(ctx context.Context, rec event.RawRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rawErr != nil {
		return m.rawErr
	}
	m.raws = append(m.raws, rec)
	return nil
}

func (m *memorySink) WriteLedgerEvent(ctx context.Context, rawID uuid.UUID, ev event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ledgerErr != nil {
		return m.ledgerErr
	}
	m.ledger = append(m.ledger, ev)
	m.ledgerRaw = append(m.ledgerRaw, rawID)
	return nil
}

func (m *memorySink) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.raws), len(m.ledger)
}

type recordingPublisher struct {
	mu   sync.Mutex
	seen []event.Kind
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, ev.Kind())
	return p.err
}

func depositFrame(amount string) string {
	return `{"action":"emitted","data":{"contract_package_hash":"contract-package-` + pkgHex + `","name":"Deposit",
		"data":{"account":"account-hash-` + accountHex + `","amount":` + amount + `}},
		"extra":{"deploy_hash":"d1","block_hash":"b1"}}`
}

func newTestStreamer(t *testing.T, sink ingestion.Sink, pub ingestion.Publisher, logs *bytes.Buffer) (*ingestion.Streamer, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetrics(prometheus.NewRegistry())
	logger := zerolog.New(logs)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := ingestion.NewStreamer(ingestion.StreamConfig{
		BaseURL: "wss://streaming.example/",
		Logger:  &logger,
		Metrics: m,
		Now:     func() time.Time { return fixed },
	}, sink, pub)
	return s, m
}

func TestBuildURL(t *testing.T) {
	cases := []struct {
		name     string
		base     string
		packages []string
		want     string
	}{
		{"bare", "wss://x", nil, "wss://x/contract-events?includes=raw_data"},
		{"trailing slash", "wss://x/", []string{"aa"}, "wss://x/contract-events?contract_package_hash=aa&includes=raw_data"},
		{"already has path", "wss://x/contract-events", []string{"aa", "bb"}, "wss://x/contract-events?contract_package_hash=aa,bb&includes=raw_data"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ingestion.BuildURL(c.base, c.packages))
		})
	}
}

func TestHandleMessage_EmittedDepositWritesBoth(t *testing.T) {
	sink := &memorySink{}
	pub := &recordingPublisher{}
	s, m := newTestStreamer(t, sink, pub, &bytes.Buffer{})

	s.HandleMessage(context.Background(), []byte(depositFrame(`"1000000000000000000000"`)))

	require.Len(t, sink.raws, 1)
	raw := sink.raws[0]
	assert.Equal(t, pkgHex, raw.ContractPackage)
	assert.Equal(t, "Deposit", raw.EventType)
	assert.Equal(t, "d1", raw.DeployHash)
	assert.Equal(t, "b1", raw.BlockHash)
	assert.Contains(t, string(raw.Payload), "1000000000000000000000")

	require.Len(t, sink.ledger, 1)
	dep, ok := sink.ledger[0].(*event.Deposit)
	require.True(t, ok)
	assert.Equal(t, accountHex, string(dep.Account))
	assert.Equal(t, "1000000000000000000000", dep.Amount)
	assert.Equal(t, raw.ID, sink.ledgerRaw[0])
	assert.Equal(t, pkgHex, dep.Provenance().ContractPackage)

	assert.Equal(t, []event.Kind{event.KindDeposit}, pub.seen)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.StreamFrames.WithLabelValues("projected")))
}

func TestHandleMessage_NumericAmountTruncated(t *testing.T) {
	sink := &memorySink{}
	s, _ := newTestStreamer(t, sink, nil, &bytes.Buffer{})

	s.HandleMessage(context.Background(), []byte(depositFrame(`12.9`)))
	require.Len(t, sink.ledger, 1)
	assert.Equal(t, "12", sink.ledger[0].(*event.Deposit).Amount)
}

func TestHandleMessage_IgnoredFrames(t *testing.T) {
	sink := &memorySink{}
	s, m := newTestStreamer(t, sink, nil, &bytes.Buffer{})

	for _, msg := range []string{
		"Ping",
		"Pong",
		`{"action":"removed","data":{"name":"Deposit","data":{}}}`,
		`{"action":"emitted"}`,
	} {
		s.HandleMessage(context.Background(), []byte(msg))
	}

	raws, ledger := sink.counts()
	assert.Zero(t, raws)
	assert.Zero(t, ledger)
	assert.Equal(t, 2.0, promtest.ToFloat64(m.StreamFrames.WithLabelValues("keepalive")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.StreamFrames.WithLabelValues("ignored")))
}

func TestHandleMessage_MalformedIsLogged(t *testing.T) {
	sink := &memorySink{}
	var logs bytes.Buffer
	s, m := newTestStreamer(t, sink, nil, &logs)

	s.HandleMessage(context.Background(), []byte(`{not json`))
	s.HandleMessage(context.Background(), []byte(depositFrame(`"5"`)))

	assert.Contains(t, logs.String(), "events.ws.parse_failed")
	assert.Equal(t, 1.0, promtest.ToFloat64(m.StreamFrames.WithLabelValues("malformed")))
	raws, ledger := sink.counts()
	assert.Equal(t, 1, raws, "the stream keeps going after a bad frame")
	assert.Equal(t, 1, ledger)
}

func TestHandleMessage_UnknownKindStoresRawOnly(t *testing.T) {
	sink := &memorySink{}
	pub := &recordingPublisher{}
	s, m := newTestStreamer(t, sink, pub, &bytes.Buffer{})

	s.HandleMessage(context.Background(), []byte(`{"action":"emitted","data":{"contract_package_hash":"`+pkgHex+`","name":"Transfer","data":{"x":1}}}`))
	s.HandleMessage(context.Background(), []byte(`{"action":"emitted","data":{"contract_package_hash":"`+pkgHex+`","name":"Deposit","data":{"account":"zz","amount":"1"}}}`))

	raws, ledger := sink.counts()
	assert.Equal(t, 2, raws)
	assert.Zero(t, ledger)
	assert.Empty(t, pub.seen)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ProjectionSkips.WithLabelValues("Transfer")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ProjectionSkips.WithLabelValues("Deposit")))
}

func TestHandleMessage_PriceUpdatedWithoutPriceStoresRawOnly(t *testing.T) {
	sink := &memorySink{}
	pub := &recordingPublisher{}
	s, m := newTestStreamer(t, sink, pub, &bytes.Buffer{})

	s.HandleMessage(context.Background(), []byte(`{"action":"emitted","data":{"contract_package_hash":"`+pkgHex+`","name":"PriceUpdated","data":{"asset":"`+accountHex+`","timestamp":1700000000}}}`))

	raws, ledger := sink.counts()
	assert.Equal(t, 1, raws)
	assert.Zero(t, ledger)
	assert.Empty(t, pub.seen)
	assert.Equal(t, "PriceUpdated", sink.raws[0].EventType)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ProjectionSkips.WithLabelValues("PriceUpdated")))
}

func TestHandleMessage_MissingPayloadStoredAsNull(t *testing.T) {
	sink := &memorySink{}
	s, _ := newTestStreamer(t, sink, nil, &bytes.Buffer{})

	s.HandleMessage(context.Background(), []byte(`{"action":"emitted","data":{"contract_package_hash":"not-a-hash ","name":"Deposit"}}`))

	require.Len(t, sink.raws, 1)
	assert.Equal(t, "null", string(sink.raws[0].Payload))
	assert.Equal(t, "not-a-hash", sink.raws[0].ContractPackage)
	assert.Empty(t, sink.ledger)
}

func TestHandleMessage_RawFailureSkipsProjection(t *testing.T) {
	sink := &memorySink{rawErr: errors.New("db down")}
	var logs bytes.Buffer
	s, _ := newTestStreamer(t, sink, nil, &logs)

	s.HandleMessage(context.Background(), []byte(depositFrame(`"5"`)))
	_, ledger := sink.counts()
	assert.Zero(t, ledger)
	assert.Contains(t, logs.String(), "events.persist.raw_failed")
}

func TestHandleMessage_PublishFailureIsNonFatal(t *testing.T) {
	sink := &memorySink{}
	pub := &recordingPublisher{err: errors.New("nats down")}
	s, m := newTestStreamer(t, sink, pub, &bytes.Buffer{})

	s.HandleMessage(context.Background(), []byte(depositFrame(`"5"`)))
	_, ledger := sink.counts()
	assert.Equal(t, 1, ledger)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.PublishErrors))
}

// --- end to end over a websocket ---

func newFeedServer(t *testing.T, frames []string, gotAuth chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case gotAuth <- r.Header.Get("Authorization") + " " + r.URL.RequestURI():
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamerRun_ProcessesAndReconnects(t *testing.T) {
	gotAuth := make(chan string, 8)
	srv := newFeedServer(t, []string{"Ping", depositFrame(`"7"`)}, gotAuth)

	sink := &memorySink{}
	m := observability.NewMetrics(prometheus.NewRegistry())
	logger := zerolog.New(&bytes.Buffer{})
	s := ingestion.NewStreamer(ingestion.StreamConfig{
		BaseURL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		Packages:       []string{pkgHex},
		AccessKey:      "secret-key",
		ReconnectDelay: 20 * time.Millisecond,
		Logger:         &logger,
		Metrics:        m,
	}, sink, nil)
	assert.Equal(t, ingestion.StateDisconnected, s.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ledger := sink.counts()
		return ledger >= 2
	}, 5*time.Second, 10*time.Millisecond, "second connection after reconnect delivers again")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, ingestion.StateDisconnected, s.State())
	assert.GreaterOrEqual(t, promtest.ToFloat64(m.StreamReconnects), 1.0)

	first := <-gotAuth
	assert.Equal(t, "secret-key /contract-events?contract_package_hash="+pkgHex+"&includes=raw_data", first)
}

func TestStreamerRun_DialFailureRetries(t *testing.T) {
	var (
		mu    sync.Mutex
		dials int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials++
		mu.Unlock()
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	logger := zerolog.New(&bytes.Buffer{})
	s := ingestion.NewStreamer(ingestion.StreamConfig{
		BaseURL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay: 10 * time.Millisecond,
		Logger:         &logger,
	}, &memorySink{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials >= 3
	}, 5*time.Second, 5*time.Millisecond)
}
