package jobstore

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/djlord-it/cronstore/internal/codec"
	"github.com/djlord-it/cronstore/internal/docstore"
	"github.com/djlord-it/cronstore/internal/domain"
)

// TriggeredJobComplete records the outcome of a job run. trigger is the
// one handed out in the fire bundle, carrying the fire times to persist.
//
// The job has already run, so nothing here returns an error: failures are
// logged and counted. The scheduler is signalled afterwards unless the
// trigger was deleted with nothing left to fire.
func (s *Store) TriggeredJobComplete(ctx context.Context, trigger domain.Trigger, job domain.Job, inst domain.CompletionInstruction) {
	log := s.log.With().
		Str("trigger", trigger.Key.String()).
		Str("job", job.Key.String()).
		Stringer("instruction", inst).
		Logger()
	log.Debug().Msg("jobstore: job completed")

	switch {
	case inst == domain.InstructionReExecuteJob:
		log.Warn().Msg("jobstore: re-execute instruction is not supported")
	case inst.JobWide():
		s.completeJobTriggers(ctx, log, job.Key, inst)
	default:
		s.completeTrigger(ctx, log, trigger, inst)
	}

	if inst == domain.InstructionDeleteTrigger && trigger.NextFireTime == nil {
		return
	}
	s.signal(trigger.NextFireTime)
}

// completeTrigger applies inst to the trigger that fired. The stored copy
// must still be EXECUTING; the caller's fire times are written with the
// new state under the version just read.
func (s *Store) completeTrigger(ctx context.Context, log zerolog.Logger, trigger domain.Trigger, inst domain.CompletionInstruction) {
	id := trigger.Key.String()

	doc, err := s.client.Get(ctx, CollectionTrigger, id)
	if err != nil {
		log.Error().Err(err).Msg("jobstore: completion read failed")
		s.completed(inst, false)
		return
	}
	if !doc.Found {
		log.Warn().Msg("jobstore: completed trigger no longer exists")
		s.completed(inst, false)
		return
	}

	stored, err := codec.UnmarshalTrigger(doc.Source, domain.Version(doc.Version))
	if err != nil {
		log.Error().Err(err).Msg("jobstore: completion decode failed")
		s.completed(inst, false)
		return
	}

	to, removed, ok := domain.Transition(stored.State, domain.EventComplete, inst)
	if !ok {
		log.Warn().Stringer("state", stored.State).Msg("jobstore: completed trigger is not executing")
		s.completed(inst, false)
		return
	}

	if removed {
		if _, err := s.client.Delete(ctx, CollectionTrigger, id); err != nil {
			log.Error().Err(err).Msg("jobstore: completion delete failed")
			s.completed(inst, false)
			return
		}
		log.Debug().Msg("jobstore: deleted completed trigger")
		s.completed(inst, true)
		return
	}

	updated := trigger.Clone()
	updated.State = to
	updated.InstanceID = ""
	updated.StateChangedAt = domain.TimePtr(s.now())
	s.completed(inst, s.write(ctx, log, id, updated, doc.Version))
}

// completeJobTriggers moves every trigger of the job to the instruction's
// target state, whatever state each one is in.
func (s *Store) completeJobTriggers(ctx context.Context, log zerolog.Logger, key domain.JobKey, inst domain.CompletionInstruction) {
	target := domain.StateCompleted
	if inst == domain.InstructionSetAllJobTriggersError {
		target = domain.StateError
	}

	triggers, err := s.TriggersForJob(ctx, key)
	if err != nil {
		log.Error().Err(err).Msg("jobstore: listing job triggers failed")
		s.completed(inst, false)
		return
	}

	for _, t := range triggers {
		id := t.Key.String()
		tlog := log.With().Str("member", id).Logger()

		doc, err := s.client.Get(ctx, CollectionTrigger, id)
		if err != nil {
			tlog.Error().Err(err).Msg("jobstore: completion read failed")
			s.completed(inst, false)
			continue
		}
		if !doc.Found {
			continue
		}
		stored, err := codec.UnmarshalTrigger(doc.Source, domain.Version(doc.Version))
		if err != nil {
			tlog.Error().Err(err).Msg("jobstore: completion decode failed")
			s.completed(inst, false)
			continue
		}

		stored.State = target
		stored.InstanceID = ""
		stored.StateChangedAt = domain.TimePtr(s.now())
		s.completed(inst, s.write(ctx, tlog, id, stored, doc.Version))
	}
}

func (s *Store) write(ctx context.Context, log zerolog.Logger, id string, t domain.Trigger, version docstore.Version) bool {
	body, err := codec.MarshalTrigger(t)
	if err != nil {
		log.Error().Err(err).Msg("jobstore: completion encode failed")
		return false
	}

	_, err = s.client.Put(ctx, CollectionTrigger, id, body, docstore.PutOptions{IfVersion: version})
	if errors.Is(err, docstore.ErrVersionConflict) {
		s.conflict("complete")
		log.Warn().Int64("version", int64(version)).Msg("jobstore: trigger changed before completion was written")
		return false
	}
	if err != nil {
		log.Error().Err(err).Msg("jobstore: completion write failed")
		return false
	}
	log.Debug().Stringer("state", t.State).Msg("jobstore: trigger updated")
	return true
}

func (s *Store) completed(inst domain.CompletionInstruction, ok bool) {
	if s.metrics != nil {
		s.metrics.TriggerCompleted(inst.String(), ok)
	}
}
