package jobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/djlord-it/cronstore/internal/codec"
	"github.com/djlord-it/cronstore/internal/docstore"
	"github.com/djlord-it/cronstore/internal/domain"
)

// TriggersFired moves each acquired trigger to EXECUTING and returns one
// result per input, in input order. A trigger that is missing, not
// ACQUIRED, or changed under us gets an error result and the rest of the
// batch carries on.
func (s *Store) TriggersFired(ctx context.Context, triggers []domain.Trigger) []domain.FireResult {
	results := make([]domain.FireResult, len(triggers))
	for i, t := range triggers {
		bundle, err := s.fire(ctx, t.Key)
		if err != nil {
			s.log.Debug().Err(err).Str("trigger", t.Key.String()).Msg("jobstore: trigger not fired")
		}
		if s.metrics != nil {
			s.metrics.TriggerFired(err == nil)
		}
		results[i] = domain.FireResult{Bundle: bundle, Err: err}
	}
	return results
}

func (s *Store) fire(ctx context.Context, key domain.TriggerKey) (*domain.FireBundle, error) {
	id := key.String()

	doc, err := s.client.Get(ctx, CollectionTrigger, id)
	if err != nil {
		return nil, persistence("fire", id, err)
	}
	if !doc.Found {
		return nil, fmt.Errorf("%w: %s", ErrTriggerNotFound, id)
	}

	stored, err := codec.UnmarshalTrigger(doc.Source, domain.Version(doc.Version))
	if err != nil {
		return nil, err
	}
	next, _, ok := domain.Transition(stored.State, domain.EventFire, domain.InstructionNoop)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotAcquired, id, stored.State)
	}

	// Resolve everything that can fail before the write so a failed firing
	// leaves the trigger ACQUIRED for release. A trigger whose job is gone
	// would fail again on every acquisition, so it is parked in ERROR.
	job, err := s.RetrieveJob(ctx, stored.JobKey)
	if errors.Is(err, ErrJobNotFound) {
		s.park(ctx, id, stored, doc.Version)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	fired := stored.Clone()
	scheduled := fired.NextFireTime
	previous := fired.PreviousFireTime
	if err := s.calculator.Triggered(&fired); err != nil {
		return nil, fmt.Errorf("advance %s: %w", id, err)
	}

	now := s.now()
	stored.State = next
	stored.StateChangedAt = domain.TimePtr(now)
	body, err := codec.MarshalTrigger(stored)
	if err != nil {
		return nil, err
	}

	res, err := s.client.Put(ctx, CollectionTrigger, id, body, docstore.PutOptions{IfVersion: doc.Version})
	if errors.Is(err, docstore.ErrVersionConflict) {
		s.conflict("fire")
		return nil, fmt.Errorf("%w: %s", ErrStaleVersion, id)
	}
	if err != nil {
		return nil, persistence("fire", id, err)
	}

	fired.State = next
	fired.StateChangedAt = stored.StateChangedAt
	fired.Version = domain.Version(res.Version)

	return &domain.FireBundle{
		FireInstanceID:    uuid.New(),
		Job:               job,
		Trigger:           fired,
		FireTime:          now,
		ScheduledFireTime: scheduled,
		PreviousFireTime:  previous,
		NextFireTime:      fired.NextFireTime,
	}, nil
}

// park moves an acquired trigger that cannot fire to ERROR under the
// version it was read at.
func (s *Store) park(ctx context.Context, id string, t domain.Trigger, version docstore.Version) {
	log := s.log.With().Str("trigger", id).Str("job", t.JobKey.String()).Logger()

	to, _, ok := domain.Transition(t.State, domain.EventFail, domain.InstructionNoop)
	if !ok {
		return
	}
	t.State = to
	t.InstanceID = ""
	t.StateChangedAt = domain.TimePtr(s.now())
	body, err := codec.MarshalTrigger(t)
	if err != nil {
		log.Warn().Err(err).Msg("jobstore: park encode failed")
		return
	}

	_, err = s.client.Put(ctx, CollectionTrigger, id, body, docstore.PutOptions{IfVersion: version})
	if errors.Is(err, docstore.ErrVersionConflict) {
		s.conflict("park")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("jobstore: park write failed")
		return
	}
	log.Warn().Msg("jobstore: trigger has no job, moved to error")
}
