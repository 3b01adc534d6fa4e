// Package jobstore persists jobs and triggers in a shared document store
// and coordinates trigger ownership between scheduler nodes without locks.
//
// Every state change reads the trigger document, checks its state, and
// writes it back conditioned on the version it read. A node that loses the
// version check backs off; the trigger stays with whoever won. This is the
// only mutual exclusion between nodes.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/djlord-it/cronstore/internal/codec"
	"github.com/djlord-it/cronstore/internal/cron"
	"github.com/djlord-it/cronstore/internal/docstore"
	"github.com/djlord-it/cronstore/internal/domain"
)

type Store struct {
	client     docstore.Client
	opts       Options
	calculator *cron.Calculator
	clock      func() time.Time
	log        zerolog.Logger
	metrics    MetricsSink

	mu       sync.RWMutex
	signaler Signaler
}

// New validates opts and returns a Store over client.
func New(client docstore.Client, opts Options) (*Store, error) {
	if client == nil {
		return nil, errors.New("jobstore: document store client is required")
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("jobstore: %w", err)
	}
	return &Store{
		client:     client,
		opts:       opts,
		calculator: cron.NewCalculator(cron.NewParser()),
		clock:      time.Now,
		log:        zerolog.Nop(),
		signaler:   noopSignaler{},
	}, nil
}

func (s *Store) WithLogger(l zerolog.Logger) *Store {
	s.log = l.With().Str("component", "jobstore").Logger()
	return s
}

func (s *Store) WithMetrics(m MetricsSink) *Store {
	s.metrics = m
	return s
}

// WithClock sets the time source for state timestamps and fire times.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	s.calculator = s.calculator.WithClock(clock)
	return s
}

func (s *Store) WithCalculator(c *cron.Calculator) *Store {
	s.calculator = c
	return s
}

// Initialize wires the scheduler's change signaler.
func (s *Store) Initialize(signaler Signaler) {
	if signaler == nil {
		signaler = noopSignaler{}
	}
	s.mu.Lock()
	s.signaler = signaler
	s.mu.Unlock()
	s.log.Info().Str("instance_id", s.opts.InstanceID).Msg("jobstore: initialized")
}

func (s *Store) InstanceID() string { return s.opts.InstanceID }

func (s *Store) SchedulerStarted() {}
func (s *Store) SchedulerPaused()  {}
func (s *Store) SchedulerResumed() {}
func (s *Store) Shutdown()         {}

func (s *Store) SupportsPersistence() bool { return true }
func (s *Store) IsClustered() bool         { return true }

func (s *Store) EstimatedTimeToReleaseAndAcquireTrigger() time.Duration {
	return EstimatedTimeToReleaseAndAcquire
}

// StoreJob writes job. Without replace an existing job is an
// *ObjectAlreadyExistsError.
func (s *Store) StoreJob(ctx context.Context, job domain.Job, replace bool) error {
	id := job.Key.String()
	body, err := codec.MarshalJob(job)
	if err != nil {
		return persistence("encode job", id, err)
	}

	_, err = s.client.Put(ctx, CollectionJob, id, body, docstore.PutOptions{CreateOnly: !replace})
	if errors.Is(err, docstore.ErrDocumentExists) {
		return &ObjectAlreadyExistsError{Kind: "job", Key: id}
	}
	if err != nil {
		return persistence("store job", id, err)
	}

	s.log.Info().Str("job", id).Msg("jobstore: stored job")
	return nil
}

// StoreJobAndTrigger stores both without replacing.
func (s *Store) StoreJobAndTrigger(ctx context.Context, job domain.Job, trigger domain.Trigger) error {
	if err := s.StoreJob(ctx, job, false); err != nil {
		return err
	}
	return s.StoreTrigger(ctx, trigger, false)
}

// JobWithTriggers pairs a job with the triggers to store for it.
type JobWithTriggers struct {
	Job      domain.Job
	Triggers []domain.Trigger
}

func (s *Store) StoreJobsAndTriggers(ctx context.Context, items []JobWithTriggers, replace bool) error {
	for _, item := range items {
		if err := s.StoreJob(ctx, item.Job, replace); err != nil {
			return err
		}
		for _, t := range item.Triggers {
			if err := s.StoreTrigger(ctx, t, replace); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveJob deletes the job and every trigger pointing at it. It reports
// whether the job document existed.
func (s *Store) RemoveJob(ctx context.Context, key domain.JobKey) (bool, error) {
	triggers, err := s.TriggersForJob(ctx, key)
	if err != nil {
		return false, err
	}
	for _, t := range triggers {
		if _, err := s.RemoveTrigger(ctx, t.Key); err != nil {
			return false, err
		}
	}

	ok, err := s.client.Delete(ctx, CollectionJob, key.String())
	if err != nil {
		return false, persistence("remove job", key.String(), err)
	}
	if !ok {
		s.log.Warn().Str("job", key.String()).Msg("jobstore: job to remove not found")
	}
	return ok, nil
}

// RemoveJobs reports whether every job existed.
func (s *Store) RemoveJobs(ctx context.Context, keys []domain.JobKey) (bool, error) {
	all := true
	for _, k := range keys {
		ok, err := s.RemoveJob(ctx, k)
		if err != nil {
			return false, err
		}
		all = all && ok
	}
	return all, nil
}

func (s *Store) RetrieveJob(ctx context.Context, key domain.JobKey) (domain.Job, error) {
	doc, err := s.client.Get(ctx, CollectionJob, key.String())
	if err != nil {
		return domain.Job{}, persistence("retrieve job", key.String(), err)
	}
	if !doc.Found {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	job, err := codec.UnmarshalJob(doc.Source)
	if err != nil {
		return domain.Job{}, persistence("decode job", key.String(), err)
	}
	return job, nil
}

func (s *Store) CheckJobExists(ctx context.Context, key domain.JobKey) (bool, error) {
	doc, err := s.client.Get(ctx, CollectionJob, key.String())
	if err != nil {
		return false, persistence("check job", key.String(), err)
	}
	return doc.Found, nil
}

func (s *Store) NumberOfJobs(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, CollectionJob)
	if err != nil {
		return 0, persistence("count", CollectionJob, err)
	}
	return n, nil
}

// StoreTrigger writes trigger in WAITING state. The schedule must be valid;
// fire times are stored as given. A missing start time defaults to the
// next fire time, or to now when that is unset too.
func (s *Store) StoreTrigger(ctx context.Context, trigger domain.Trigger, replace bool) error {
	id := trigger.Key.String()
	if err := s.calculator.Validate(trigger); err != nil {
		return err
	}
	if trigger.StartTime == nil {
		start := s.now()
		if trigger.NextFireTime != nil {
			start = *trigger.NextFireTime
		}
		trigger.StartTime = &start
	}

	trigger.State = domain.StateWaiting
	trigger.InstanceID = ""
	trigger.StateChangedAt = domain.TimePtr(s.now())
	body, err := codec.MarshalTrigger(trigger)
	if err != nil {
		return err
	}

	_, err = s.client.Put(ctx, CollectionTrigger, id, body, docstore.PutOptions{CreateOnly: !replace})
	if errors.Is(err, docstore.ErrDocumentExists) {
		return &ObjectAlreadyExistsError{Kind: "trigger", Key: id}
	}
	if err != nil {
		return persistence("store trigger", id, err)
	}

	s.log.Info().Str("trigger", id).Str("job", trigger.JobKey.String()).Msg("jobstore: stored trigger")
	s.signal(trigger.NextFireTime)
	return nil
}

func (s *Store) RemoveTrigger(ctx context.Context, key domain.TriggerKey) (bool, error) {
	ok, err := s.client.Delete(ctx, CollectionTrigger, key.String())
	if err != nil {
		return false, persistence("remove trigger", key.String(), err)
	}
	if ok {
		s.log.Debug().Str("trigger", key.String()).Msg("jobstore: removed trigger")
	} else {
		s.log.Warn().Str("trigger", key.String()).Msg("jobstore: trigger to remove not found")
	}
	return ok, nil
}

// RemoveTriggers reports whether every trigger existed.
func (s *Store) RemoveTriggers(ctx context.Context, keys []domain.TriggerKey) (bool, error) {
	all := true
	for _, k := range keys {
		ok, err := s.RemoveTrigger(ctx, k)
		if err != nil {
			return false, err
		}
		all = all && ok
	}
	return all, nil
}

// ReplaceTrigger removes key and stores trigger in its place. When key
// does not exist nothing is stored and it reports false.
func (s *Store) ReplaceTrigger(ctx context.Context, key domain.TriggerKey, trigger domain.Trigger) (bool, error) {
	removed, err := s.RemoveTrigger(ctx, key)
	if err != nil || !removed {
		return false, err
	}
	if err := s.StoreTrigger(ctx, trigger, false); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Store) RetrieveTrigger(ctx context.Context, key domain.TriggerKey) (domain.Trigger, error) {
	doc, err := s.client.Get(ctx, CollectionTrigger, key.String())
	if err != nil {
		return domain.Trigger{}, persistence("retrieve trigger", key.String(), err)
	}
	if !doc.Found {
		return domain.Trigger{}, fmt.Errorf("%w: %s", ErrTriggerNotFound, key)
	}
	return codec.UnmarshalTrigger(doc.Source, domain.Version(doc.Version))
}

func (s *Store) CheckTriggerExists(ctx context.Context, key domain.TriggerKey) (bool, error) {
	doc, err := s.client.Get(ctx, CollectionTrigger, key.String())
	if err != nil {
		return false, persistence("check trigger", key.String(), err)
	}
	return doc.Found, nil
}

// TriggerState returns the persisted state of key.
func (s *Store) TriggerState(ctx context.Context, key domain.TriggerKey) (domain.TriggerState, error) {
	t, err := s.RetrieveTrigger(ctx, key)
	if err != nil {
		return 0, err
	}
	return t.State, nil
}

// TriggersForJob searches the trigger collection by job key. Results come
// from the search index and may lag behind recent writes.
func (s *Store) TriggersForJob(ctx context.Context, key domain.JobKey) ([]domain.Trigger, error) {
	hits, err := s.client.Search(ctx, CollectionTrigger, docstore.Query{
		Terms: []docstore.Term{
			{Field: "jobName", Values: []any{key.Name}},
			{Field: "jobGroup", Values: []any{key.Group}},
		},
	})
	if err != nil {
		return nil, persistence("triggers for job", key.String(), err)
	}

	triggers := make([]domain.Trigger, 0, len(hits))
	for _, h := range hits {
		t, err := codec.UnmarshalTrigger(h.Source, domain.Version(h.Version))
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, nil
}

func (s *Store) NumberOfTriggers(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, CollectionTrigger)
	if err != nil {
		return 0, persistence("count", CollectionTrigger, err)
	}
	return n, nil
}

func (s *Store) signal(candidate *time.Time) {
	s.mu.RLock()
	sig := s.signaler
	s.mu.RUnlock()
	sig.SignalSchedulingChange(candidate)
}

func (s *Store) now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}
