package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/djlord-it/cronstore/internal/domain"
)

// ErrUnknownJobClass is returned when a fired job names a class with no
// registered runner. It wraps domain.ErrUnschedule: such a trigger can never
// succeed and should stop firing.
var ErrUnknownJobClass = fmt.Errorf("%w: unknown job class", domain.ErrUnschedule)

// Runner executes one firing of a job.
type Runner interface {
	Run(ctx context.Context, bundle domain.FireBundle) error
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(ctx context.Context, bundle domain.FireBundle) error

func (f RunnerFunc) Run(ctx context.Context, bundle domain.FireBundle) error {
	return f(ctx, bundle)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	JobRunCompleted(jobClass string, duration time.Duration, err error)
	RunsInFlightIncr()
	RunsInFlightDecr()
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryAttempt(retryable bool)
}

// Registry maps job class names to runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register binds class to r, replacing any earlier binding.
func (r *Registry) Register(class string, runner Runner) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[class] = runner
	return r
}

func (r *Registry) Lookup(class string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[class]
	return runner, ok
}

// Known reports whether class has a runner.
func (r *Registry) Known(class string) bool {
	_, ok := r.Lookup(class)
	return ok
}

// Classes returns the registered class names in sorted order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.runners))
	for c := range r.runners {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Dispatcher resolves a fired job's class to a runner and runs it.
type Dispatcher struct {
	registry *Registry
	metrics  MetricsSink // optional, nil = disabled
	log      zerolog.Logger
}

func New(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		log:      zerolog.Nop(),
	}
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

func (d *Dispatcher) WithLogger(log zerolog.Logger) *Dispatcher {
	d.log = log.With().Str("component", "dispatcher").Logger()
	return d
}

// Run implements the scheduler's Runner interface.
func (d *Dispatcher) Run(ctx context.Context, bundle domain.FireBundle) error {
	return d.Dispatch(ctx, bundle)
}

// Dispatch runs the job carried by bundle. Errors wrapping
// domain.ErrUnschedule ask the caller to stop the trigger.
func (d *Dispatcher) Dispatch(ctx context.Context, bundle domain.FireBundle) error {
	class := bundle.Job.JobClass
	runner, ok := d.registry.Lookup(class)
	if !ok {
		d.log.Error().
			Str("job", bundle.Job.Key.String()).
			Str("class", class).
			Msg("dispatcher: no runner for job class")
		return fmt.Errorf("%w %q", ErrUnknownJobClass, class)
	}

	if d.metrics != nil {
		d.metrics.RunsInFlightIncr()
		defer d.metrics.RunsInFlightDecr()
	}

	start := time.Now()
	err := runner.Run(ctx, bundle)
	if d.metrics != nil {
		d.metrics.JobRunCompleted(class, time.Since(start), err)
	}

	switch {
	case err == nil:
		d.log.Debug().
			Str("job", bundle.Job.Key.String()).
			Str("trigger", bundle.Trigger.Key.String()).
			Dur("duration", time.Since(start)).
			Msg("dispatcher: job run complete")
	case errors.Is(err, domain.ErrUnschedule):
		d.log.Error().Err(err).
			Str("job", bundle.Job.Key.String()).
			Str("trigger", bundle.Trigger.Key.String()).
			Msg("dispatcher: job failed, unscheduling trigger")
	default:
		d.log.Warn().Err(err).
			Str("job", bundle.Job.Key.String()).
			Str("trigger", bundle.Trigger.Key.String()).
			Msg("dispatcher: job failed")
	}
	return err
}
