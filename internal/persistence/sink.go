package persistence

import (
	"context"
	"fmt"
	"time"

	"LendingLedger/internal/event"
	"LendingLedger/internal/observability"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventWriter is the write side of the store.
type EventWriter interface {
	WriteRaw(ctx context.Context, rec event.RawRecord) error
	WriteLedgerEvent(ctx context.Context, rawID uuid.UUID, ev event.Event) error
}

// RetryPolicy bounds the retries of a single write.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

// DefaultRetryPolicy rides out a short Postgres restart without holding up
// the stream for long.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 5,
	Delay:    100 * time.Millisecond,
	MaxDelay: 5 * time.Second,
}

// RetryingSink retries each write with exponential backoff. Writes are
// idempotent on the raw id, so a retry after an ambiguous failure is safe.
// Once the attempts are spent the error is returned and counted.
type RetryingSink struct {
	writer  EventWriter
	policy  RetryPolicy
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewRetryingSink(writer EventWriter, policy RetryPolicy, metrics *observability.Metrics, logger zerolog.Logger) *RetryingSink {
	if policy.Attempts == 0 {
		policy = DefaultRetryPolicy
	}
	return &RetryingSink{
		writer:  writer,
		policy:  policy,
		metrics: metrics,
		logger:  logger,
	}
}

func (rs *RetryingSink) WriteRaw(ctx context.Context, rec event.RawRecord) error {
	err := rs.do(ctx, "write_raw", func() error {
		return rs.writer.WriteRaw(ctx, rec)
	})
	if err != nil {
		return err
	}
	if rs.metrics != nil {
		rs.metrics.RawWritten.Inc()
	}
	return nil
}

func (rs *RetryingSink) WriteLedgerEvent(ctx context.Context, rawID uuid.UUID, ev event.Event) error {
	err := rs.do(ctx, "write_ledger", func() error {
		return rs.writer.WriteLedgerEvent(ctx, rawID, ev)
	})
	if err != nil {
		return err
	}
	if rs.metrics != nil {
		rs.metrics.LedgerWritten.WithLabelValues(ev.Kind().String()).Inc()
	}
	return nil
}

func (rs *RetryingSink) do(ctx context.Context, op string, fn func() error) error {
	err := retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(rs.policy.Attempts),
		retry.Delay(rs.policy.Delay),
		retry.MaxDelay(rs.policy.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if rs.metrics != nil {
				rs.metrics.PersistRetry.Inc()
			}
			rs.logger.Warn().Err(err).Str("op", op).Uint("attempt", n+1).Msg("persistence retry")
		}),
	)
	if err != nil {
		if rs.metrics != nil {
			rs.metrics.PersistErrors.WithLabelValues(op).Inc()
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
