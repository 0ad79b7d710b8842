package oracle_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"LendingLedger/internal/observability"
	"LendingLedger/internal/oracle"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingCycler holds each cycle until release is closed.
type blockingCycler struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newBlockingCycler() *blockingCycler {
	return &blockingCycler{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingCycler) RunCycle(ctx context.Context) ([]string, error) {
	b.calls.Add(1)
	b.started <- struct{}{}
	select {
	case <-b.release:
		return []string{"h"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type funcCycler func(ctx context.Context) ([]string, error)

func (f funcCycler) RunCycle(ctx context.Context) ([]string, error) {
	return f(ctx)
}

func TestScheduler_RunsImmediately(t *testing.T) {
	ran := make(chan struct{}, 1)
	c := funcCycler(func(ctx context.Context) ([]string, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil, nil
	})
	s := oracle.NewScheduler(c, oracle.SchedulerConfig{Interval: time.Hour, Logger: zerolog.Nop()})
	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not run on start")
	}
}

func TestScheduler_SkipsOverlappingTicks(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	c := newBlockingCycler()
	s := oracle.NewScheduler(c, oracle.SchedulerConfig{Interval: 20 * time.Millisecond, Metrics: m, Logger: zerolog.Nop()})
	s.Start(context.Background())

	<-c.started
	require.Eventually(t, func() bool {
		return promtest.ToFloat64(m.OracleCycles.WithLabelValues("skipped")) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), c.calls.Load())
	assert.True(t, s.Busy())

	close(c.release)
	s.Stop()
	assert.False(t, s.Busy())
}

func TestScheduler_TriggerOnceWhileBusy(t *testing.T) {
	c := newBlockingCycler()
	s := oracle.NewScheduler(c, oracle.SchedulerConfig{Interval: time.Hour, Logger: zerolog.Nop()})
	s.Start(context.Background())
	<-c.started

	_, err := s.TriggerOnce(context.Background())
	assert.ErrorIs(t, err, oracle.ErrCycleInProgress)

	close(c.release)
	s.Stop()

	hashes, err := s.TriggerOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"h"}, hashes)
}

func TestScheduler_RetriesFailedCycle(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	var calls atomic.Int32
	c := funcCycler(func(ctx context.Context) ([]string, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return []string{"ok"}, nil
	})
	s := oracle.NewScheduler(c, oracle.SchedulerConfig{
		Interval: time.Hour,
		Delay:    time.Millisecond,
		Metrics:  m,
		Logger:   zerolog.Nop(),
	})
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return promtest.ToFloat64(m.OracleCycles.WithLabelValues("complete")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestScheduler_CycleFailsAfterAttempts(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	var calls atomic.Int32
	c := funcCycler(func(ctx context.Context) ([]string, error) {
		calls.Add(1)
		return nil, oracle.ErrSourceError
	})
	s := oracle.NewScheduler(c, oracle.SchedulerConfig{
		Interval: time.Hour,
		Delay:    time.Millisecond,
		Metrics:  m,
		Logger:   zerolog.Nop(),
	})
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return promtest.ToFloat64(m.OracleCycles.WithLabelValues("failed")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}
