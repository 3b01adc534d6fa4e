// Package reconciler returns stranded triggers to the pool.
//
// A trigger is stranded when the node that acquired or fired it stopped
// before releasing or completing it: it sits in ACQUIRED or EXECUTING and
// no live node will ever move it again.
//
// The reconciler periodically asks the store to move such triggers back to
// WAITING. Every move is version-checked, so a slow but live owner that
// completes the trigger first simply wins and the reconciler skips it.
package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/djlord-it/cronstore/internal/dispatcher"
)

// Store defines the interface for recovering stranded triggers.
type Store interface {
	RecoverStrandedTriggers(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// MetricsSink records how many triggers each cycle recovered.
type MetricsSink interface {
	StrandedTriggersRecovered(count int)
}

// SafetyMargin is added to the longest possible job run when computing the
// default threshold.
const SafetyMargin = 5 * time.Minute

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 1 minute.
	Interval time.Duration

	// Threshold is how long a trigger may stay ACQUIRED or EXECUTING
	// before it is considered stranded. It must exceed the longest job
	// run, or live runs get fired twice.
	// Default: dispatcher.MaxRetryDuration() + SafetyMargin.
	Threshold time.Duration

	// BatchSize is the maximum number of triggers recovered per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  time.Minute,
		Threshold: dispatcher.MaxRetryDuration() + SafetyMargin,
		BatchSize: 100,
	}
}

// Reconciler recovers stranded triggers.
type Reconciler struct {
	config  Config
	store   Store
	metrics MetricsSink // optional, nil = disabled
	log     zerolog.Logger
	clock   func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store) *Reconciler {
	return &Reconciler{
		config: config,
		store:  store,
		log:    zerolog.Nop(),
		clock:  time.Now,
	}
}

func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

func (r *Reconciler) WithLogger(log zerolog.Logger) *Reconciler {
	r.log = log.With().Str("component", "reconciler").Logger()
	return r
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.log.Info().
		Dur("interval", r.config.Interval).
		Dur("threshold", r.config.Threshold).
		Int("batch", r.config.BatchSize).
		Msg("reconciler: started")

	// Run immediately on startup, then on ticker
	r.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reconciler: stopped")
			return
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle executes one reconciliation cycle and returns the number of
// triggers recovered.
func (r *Reconciler) RunCycle(ctx context.Context) int {
	olderThan := r.clock().UTC().Add(-r.config.Threshold)

	n, err := r.store.RecoverStrandedTriggers(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		// Store error: log and abort cycle. Will retry next interval.
		r.log.Error().Err(err).Msg("reconciler: recovery failed")
		return 0
	}
	if n == 0 {
		return 0
	}

	if r.metrics != nil {
		r.metrics.StrandedTriggersRecovered(n)
	}
	r.log.Info().Int("recovered", n).Time("older_than", olderThan).Msg("reconciler: cycle complete")
	return n
}
