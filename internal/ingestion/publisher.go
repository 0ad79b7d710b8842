package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"LendingLedger/internal/event"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// OutboundStream holds every published ledger event.
	OutboundStream = "LENDING_LEDGER_EVENTS"
	// OutboundSubjectPrefix is followed by .{kind}.{contract_package}.
	OutboundSubjectPrefix = "lending.events"
)

// streamPublisher is the part of jetstream.JetStream the publisher uses.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes stored ledger events to NATS for downstream
// consumers. Events are published only after the ledger write succeeded.
type OutboundPublisher struct {
	js streamPublisher
}

// PublishedEvent is the JSON body of an outbound message.
type PublishedEvent struct {
	Kind                string          `json:"kind"`
	ContractPackageHash string          `json:"contract_package_hash"`
	DeployHash          string          `json:"deploy_hash"`
	BlockHash           string          `json:"block_hash"`
	ReceivedAt          time.Time       `json:"received_at"`
	Fields              json.RawMessage `json:"fields"`
}

func NewOutboundPublisher(js streamPublisher) *OutboundPublisher {
	return &OutboundPublisher{js: js}
}

// Subject is lending.events.{kind}.{contract_package}, without the package
// token when the package is unknown.
func Subject(ev event.Event) string {
	subject := fmt.Sprintf("%s.%s", OutboundSubjectPrefix, ev.Kind())
	if pkg := ev.Provenance().ContractPackage; pkg != "" {
		subject = fmt.Sprintf("%s.%s", subject, pkg)
	}
	return subject
}

func (op *OutboundPublisher) Publish(ctx context.Context, ev event.Event) error {
	fields, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Kind(), err)
	}
	src := ev.Provenance()
	data, err := json.Marshal(PublishedEvent{
		Kind:                ev.Kind().String(),
		ContractPackageHash: src.ContractPackage,
		DeployHash:          src.DeployHash,
		BlockHash:           src.BlockHash,
		ReceivedAt:          src.ReceivedAt,
		Fields:              fields,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = op.js.Publish(ctx, Subject(ev), data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      OutboundStream,
		Subjects:  []string{OutboundSubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", OutboundStream).Msg("ensured outbound stream")
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("lendingd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

var _ Publisher = (*OutboundPublisher)(nil)
