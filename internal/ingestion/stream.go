package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"LendingLedger/internal/event"
	"LendingLedger/internal/observability"
	"LendingLedger/internal/projection"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultReconnectDelay is the pause between a closed connection and the
// next dial.
const DefaultReconnectDelay = 5 * time.Second

// State of the streamer connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Sink stores what the stream produces. WriteRaw is called for every
// emitted frame; WriteLedgerEvent only for frames that project.
type Sink interface {
	WriteRaw(ctx context.Context, rec event.RawRecord) error
	WriteLedgerEvent(ctx context.Context, rawID uuid.UUID, ev event.Event) error
}

// Publisher forwards stored ledger events downstream.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}

// StreamConfig configures a Streamer.
type StreamConfig struct {
	BaseURL        string
	Packages       []string
	AccessKey      string
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Logger         *zerolog.Logger
	Metrics        *observability.Metrics
	Now            func() time.Time
}

// Streamer holds one subscription to the contract-events feed, writes every
// emitted frame, and reconnects after the connection closes.
type Streamer struct {
	url       string
	header    http.Header
	delay     time.Duration
	dialer    *websocket.Dialer
	sink      Sink
	publisher Publisher
	logger    zerolog.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	state          atomic.Int32
	reconnectArmed atomic.Bool
	wake           chan struct{}
}

// NewStreamer creates a streamer. publisher may be nil.
func NewStreamer(cfg StreamConfig, sink Sink, publisher Publisher) *Streamer {
	s := &Streamer{
		url:       BuildURL(cfg.BaseURL, cfg.Packages),
		header:    http.Header{},
		delay:     cfg.ReconnectDelay,
		dialer:    cfg.Dialer,
		sink:      sink,
		publisher: publisher,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		wake:      make(chan struct{}, 1),
	}
	if cfg.AccessKey != "" {
		s.header.Set("authorization", cfg.AccessKey)
	}
	if s.delay <= 0 {
		s.delay = DefaultReconnectDelay
	}
	if s.dialer == nil {
		s.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		}
	}
	if cfg.Logger != nil {
		s.logger = *cfg.Logger
	} else {
		s.logger = observability.NewLogger("ingestion")
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// BuildURL appends /contract-events to base unless it is already present,
// then adds the package filter and includes=raw_data.
func BuildURL(base string, packages []string) string {
	u := base
	if !strings.Contains(base, "/contract-events") {
		u = strings.TrimSuffix(base, "/") + "/contract-events"
	}
	var params []string
	if len(packages) > 0 {
		params = append(params, "contract_package_hash="+strings.Join(packages, ","))
	}
	params = append(params, "includes=raw_data")
	return u + "?" + strings.Join(params, "&")
}

// URL is the address the streamer dials.
func (s *Streamer) URL() string {
	return s.url
}

// State returns the current connection state.
func (s *Streamer) State() State {
	return State(s.state.Load())
}

func (s *Streamer) setState(st State) {
	s.state.Store(int32(st))
	if s.metrics != nil {
		s.metrics.StreamState.Set(float64(st))
	}
}

// Run connects and processes frames until ctx is cancelled. A failed dial
// or a closed connection schedules one reconnect after the configured delay.
func (s *Streamer) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)

	for {
		if err := s.connectAndStream(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Str("url", s.url).Msg("events.ws.error")
		}
		if ctx.Err() != nil {
			return nil
		}

		s.scheduleReconnect()
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
			if s.metrics != nil {
				s.metrics.StreamReconnects.Inc()
			}
		}
	}
}

// scheduleReconnect arms a single timer. A request made while one is
// already pending is dropped.
func (s *Streamer) scheduleReconnect() {
	if !s.reconnectArmed.CompareAndSwap(false, true) {
		return
	}
	time.AfterFunc(s.delay, func() {
		s.reconnectArmed.Store(false)
		select {
		case s.wake <- struct{}{}:
		default:
		}
	})
}

func (s *Streamer) connectAndStream(ctx context.Context) error {
	s.setState(StateConnecting)
	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("dial contract events: %w", err)
	}
	s.setState(StateStreaming)
	s.logger.Info().Str("url", s.url).Msg("events.ws.open")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	defer func() {
		conn.Close()
		s.setState(StateDisconnected)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				ev := s.logger.Warn().Err(err)
				if ce, ok := err.(*websocket.CloseError); ok {
					ev = ev.Int("code", ce.Code).Str("reason", ce.Text)
				}
				ev.Msg("events.ws.closed")
			}
			return nil
		}
		s.HandleMessage(ctx, msg)
	}
}

// HandleMessage processes one text frame. Frames are handled in arrival
// order; no failure here closes the connection.
func (s *Streamer) HandleMessage(ctx context.Context, msg []byte) {
	if isKeepalive(msg) {
		s.countFrame("keepalive")
		return
	}

	frame, err := ParseFrame(msg)
	if err != nil {
		s.countFrame("malformed")
		s.logger.Warn().Err(err).Msg("events.ws.parse_failed")
		return
	}
	if frame == nil {
		s.countFrame("ignored")
		return
	}

	src := frame.Provenance(s.now().UTC())
	raw := frame.RawRecord(src)
	if err := s.sink.WriteRaw(ctx, raw); err != nil {
		s.countFrame("persist_failed")
		s.logger.Error().Err(err).
			Str("event_type", raw.EventType).
			Str("deploy_hash", raw.DeployHash).
			Msg("events.persist.raw_failed")
		return
	}

	ev, err := projection.ProjectRaw(raw.EventType, src, raw.Payload)
	if err != nil {
		s.countFrame("raw_only")
		if s.metrics != nil {
			s.metrics.ProjectionSkips.WithLabelValues(raw.EventType).Inc()
		}
		s.logger.Debug().Err(err).Str("event_type", raw.EventType).Msg("events.projection.skipped")
		return
	}

	if err := s.sink.WriteLedgerEvent(ctx, raw.ID, ev); err != nil {
		s.countFrame("persist_failed")
		s.logger.Error().Err(err).
			Str("kind", ev.Kind().String()).
			Str("raw_event_id", raw.ID.String()).
			Msg("events.persist.ledger_failed")
		return
	}
	s.countFrame("projected")

	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		if s.metrics != nil {
			s.metrics.PublishErrors.Inc()
		}
		s.logger.Warn().Err(err).Str("kind", ev.Kind().String()).Msg("events.publish_failed")
	}
}

func (s *Streamer) countFrame(result string) {
	if s.metrics != nil {
		s.metrics.StreamFrames.WithLabelValues(result).Inc()
	}
}
