package oracle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"LendingLedger/internal/observability"

	"github.com/avast/retry-go/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Cycle retry policy: one try plus two retries, one second apart.
var (
	CycleAttempts = uint(3)
	CycleDelay    = time.Second
)

// Cycler runs one feeder pass.
type Cycler interface {
	RunCycle(ctx context.Context) ([]string, error)
}

// fixedInterval fires every interval after the previous activation. The
// cron package's own Every rounds to whole seconds.
type fixedInterval time.Duration

func (f fixedInterval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(f))
}

type SchedulerConfig struct {
	Interval time.Duration
	Attempts uint
	Delay    time.Duration
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

// Scheduler runs the feeder on a fixed interval. At most one cycle runs at
// a time; a tick that finds a cycle running is skipped, not queued.
type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	attempts uint
	delay    time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger

	cron   *cron.Cron
	busy   atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cycler Cycler, cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		cycler:   cycler,
		interval: cfg.Interval,
		attempts: cfg.Attempts,
		delay:    cfg.Delay,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		cron:     cron.New(),
	}
	if s.attempts == 0 {
		s.attempts = CycleAttempts
	}
	if s.delay <= 0 {
		s.delay = CycleDelay
	}
	return s
}

// Start runs one cycle immediately and then one per interval until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if s.interval > 0 {
		s.cron.Schedule(fixedInterval(s.interval), cron.FuncJob(s.tick))
		s.cron.Start()
	}
	s.logger.Info().Dur("interval", s.interval).Msg("oracle.scheduler.start")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick()
	}()
}

// Stop cancels in-flight retries and waits for running cycles to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info().Msg("oracle.scheduler.stop")
}

// Busy reports whether a cycle is running.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

func (s *Scheduler) tick() {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Warn().Str("reason", "previous_run_in_progress").Msg("oracle.scheduler.skipped")
		s.count("skipped")
		return
	}
	defer s.busy.Store(false)

	start := time.Now()
	var hashes []string
	err := retry.Do(
		func() error {
			var err error
			hashes, err = s.cycler.RunCycle(s.ctx)
			return err
		},
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(s.ctx),
	)
	if s.metrics != nil {
		s.metrics.OracleCycleDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("oracle.scheduler.cycle_failed")
		s.count("failed")
		return
	}
	s.logger.Info().Strs("deploy_hashes", hashes).Msg("oracle.scheduler.cycle_complete")
	s.count("complete")
}

// TriggerOnce runs one cycle now, without retry. It returns
// ErrCycleInProgress when a cycle is already running.
func (s *Scheduler) TriggerOnce(ctx context.Context) ([]string, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer s.busy.Store(false)

	hashes, err := s.cycler.RunCycle(ctx)
	if err != nil {
		s.count("failed")
		return hashes, err
	}
	s.count("complete")
	return hashes, nil
}

func (s *Scheduler) count(outcome string) {
	if s.metrics != nil {
		s.metrics.OracleCycles.WithLabelValues(outcome).Inc()
	}
}
