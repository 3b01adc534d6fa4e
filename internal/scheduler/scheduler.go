// Package scheduler runs the acquire, fire, run and complete cycle against
// a clustered job store. Any number of nodes may run it against the same
// store; the store's version checks decide which node fires each trigger.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/djlord-it/cronstore/internal/domain"
)

// JobStore is the slice of the job store the scheduler drives.
type JobStore interface {
	AcquireNextTriggers(ctx context.Context, noLaterThan time.Time, maxCount int, timeWindow time.Duration) ([]domain.Trigger, error)
	TriggersFired(ctx context.Context, triggers []domain.Trigger) []domain.FireResult
	ReleaseAcquiredTrigger(ctx context.Context, trigger domain.Trigger)
	TriggeredJobComplete(ctx context.Context, trigger domain.Trigger, job domain.Job, inst domain.CompletionInstruction)
}

// Runner executes one fired job.
type Runner interface {
	Run(ctx context.Context, bundle domain.FireBundle) error
}

// AnalyticsSink records fire counts. Best effort: errors are logged only.
type AnalyticsSink interface {
	Write(ctx context.Context, bundle domain.FireBundle, config domain.AnalyticsConfig) error
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, fired int, err error)
	TickDrift(drift time.Duration)
}

type Config struct {
	// TickInterval is the idle wait between acquisitions. Triggers due
	// within the next interval are acquired early and waited for.
	TickInterval time.Duration

	// BatchSize caps the triggers acquired per cycle.
	BatchSize int

	// TimeWindow widens the acquisition window beyond TickInterval.
	TimeWindow time.Duration

	// Workers bounds the number of jobs running at once.
	Workers int
}

// DrainTimeout is the maximum time to wait for running jobs during shutdown.
const DrainTimeout = 30 * time.Second

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	return c
}

type Scheduler struct {
	config          Config
	store           JobStore
	runner          Runner
	wake            <-chan struct{}
	analytics       AnalyticsSink // optional, nil = disabled
	analyticsConfig domain.AnalyticsConfig
	metrics         MetricsSink // optional, nil = disabled
	log             zerolog.Logger
	clock           func() time.Time
	lastTick        time.Time

	inFlight atomic.Int64
	wg       sync.WaitGroup
}

func New(config Config, store JobStore, runner Runner) *Scheduler {
	return &Scheduler{
		config: config.withDefaults(),
		store:  store,
		runner: runner,
		log:    zerolog.Nop(),
		clock:  time.Now,
	}
}

// WithWakeup makes the loop run a cycle as soon as ch delivers, without
// waiting for the next tick.
func (s *Scheduler) WithWakeup(ch <-chan struct{}) *Scheduler {
	s.wake = ch
	return s
}

func (s *Scheduler) WithAnalytics(sink AnalyticsSink, config domain.AnalyticsConfig) *Scheduler {
	s.analytics = sink
	s.analyticsConfig = config
	return s
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) WithLogger(log zerolog.Logger) *Scheduler {
	s.log = log.With().Str("component", "scheduler").Logger()
	return s
}

func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run blocks until ctx is cancelled, then waits up to DrainTimeout for
// running jobs to complete.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.log.Info().
		Dur("tick", s.config.TickInterval).
		Int("batch", s.config.BatchSize).
		Int("workers", s.config.Workers).
		Msg("scheduler: started")
	s.lastTick = s.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			s.log.Info().Msg("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-s.wake:
		}
		s.tick(ctx)
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	start := s.clock()
	if s.metrics != nil {
		s.metrics.TickStarted()
		s.metrics.TickDrift(start.Sub(s.lastTick) - s.config.TickInterval)
	}
	s.lastTick = start

	fired, err := s.ProcessOnce(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduler: cycle error")
	}
	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().Sub(start), fired, err)
	}
}

// ProcessOnce runs one acquire and fire cycle and returns the number of
// jobs started. Started jobs keep running after it returns.
func (s *Scheduler) ProcessOnce(ctx context.Context) (int, error) {
	free := s.config.Workers - int(s.inFlight.Load())
	if free <= 0 {
		return 0, nil
	}
	maxCount := min(s.config.BatchSize, free)

	now := s.clock()
	triggers, err := s.store.AcquireNextTriggers(ctx, now.Add(s.config.TickInterval), maxCount, s.config.TimeWindow)
	if len(triggers) == 0 {
		return 0, err
	}

	if !s.waitUntil(ctx, earliest(triggers)) {
		s.release(triggers)
		return 0, errors.Join(err, ctx.Err())
	}

	results := s.store.TriggersFired(ctx, triggers)
	started := 0
	for i, r := range results {
		if r.Err != nil {
			s.log.Warn().Err(r.Err).Str("trigger", triggers[i].Key.String()).Msg("scheduler: trigger not fired")
			s.store.ReleaseAcquiredTrigger(context.WithoutCancel(ctx), triggers[i])
			continue
		}
		s.start(ctx, *r.Bundle)
		started++
	}
	return started, err
}

// waitUntil sleeps until the given fire time. It returns false if ctx ends
// first.
func (s *Scheduler) waitUntil(ctx context.Context, at *time.Time) bool {
	if at == nil {
		return ctx.Err() == nil
	}
	d := at.Sub(s.clock())
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scheduler) release(triggers []domain.Trigger) {
	ctx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()
	for _, t := range triggers {
		s.store.ReleaseAcquiredTrigger(ctx, t)
	}
	s.log.Info().Int("count", len(triggers)).Msg("scheduler: released unfired triggers")
}

// start runs one fired bundle on its own goroutine. Jobs are not cancelled
// by scheduler shutdown; drain waits for them instead.
func (s *Scheduler) start(ctx context.Context, b domain.FireBundle) {
	s.inFlight.Add(1)
	s.wg.Add(1)
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer s.wg.Done()
		defer s.inFlight.Add(-1)

		s.recordAnalytics(runCtx, b)
		err := s.runner.Run(runCtx, b)
		inst := Instruction(b, err)
		s.store.TriggeredJobComplete(runCtx, b.Trigger, b.Job, inst)

		s.log.Debug().
			Str("trigger", b.Trigger.Key.String()).
			Str("instruction", inst.String()).
			Msg("scheduler: job complete")
	}()
}

func (s *Scheduler) recordAnalytics(ctx context.Context, b domain.FireBundle) {
	if s.analytics == nil || !s.analyticsConfig.Enabled {
		return
	}
	if err := s.analytics.Write(ctx, b, s.analyticsConfig); err != nil {
		s.log.Warn().Err(err).Str("job", b.Job.Key.String()).Msg("scheduler: analytics write failed")
	}
}

// drain waits for running jobs, giving up after DrainTimeout.
func (s *Scheduler) drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(DrainTimeout):
		s.log.Warn().Int64("in_flight", s.inFlight.Load()).Msg("scheduler: drain timeout")
	}
}

// Wait blocks until every started job has completed.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Instruction picks the completion instruction for a finished run.
func Instruction(b domain.FireBundle, err error) domain.CompletionInstruction {
	switch {
	case errors.Is(err, domain.ErrUnschedule):
		return domain.InstructionSetTriggerError
	case b.NextFireTime == nil:
		return domain.InstructionDeleteTrigger
	default:
		return domain.InstructionNoop
	}
}

func earliest(triggers []domain.Trigger) *time.Time {
	var out *time.Time
	for _, t := range triggers {
		if t.NextFireTime == nil {
			continue
		}
		if out == nil || t.NextFireTime.Before(*out) {
			out = t.NextFireTime
		}
	}
	return out
}
