package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/djlord-it/cronstore/internal/codec"
	"github.com/djlord-it/cronstore/internal/docstore"
	"github.com/djlord-it/cronstore/internal/domain"
)

// RecoverStrandedTriggers returns ACQUIRED and EXECUTING triggers whose
// state last changed at or before olderThan to WAITING. Such triggers
// belong to a node that stopped before releasing or completing them.
// An EXECUTING trigger still holds the fire time it was fired for, so it
// fires again once recovered.
//
// Each trigger is moved under the version just read; a trigger its owner
// touched in the meantime is left alone.
func (s *Store) RecoverStrandedTriggers(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	cutoff := olderThan.UnixMilli()
	hits, err := s.client.Search(ctx, CollectionTrigger, docstore.Query{
		Terms: []docstore.Term{{Field: "state", Values: []any{
			int(domain.StateAcquired), int(domain.StateExecuting),
		}}},
		Ranges: []docstore.Range{{Field: "stateTime", Gte: docstore.Int64(0), Lte: docstore.Int64(cutoff)}},
		Limit:  limit,
	})
	if err != nil {
		return 0, persistence("recover", CollectionTrigger, err)
	}

	recovered := 0
	for _, hit := range hits {
		if err := ctx.Err(); err != nil {
			break
		}
		if s.recover(ctx, hit.ID, cutoff) {
			recovered++
		}
	}

	if recovered > 0 {
		s.log.Info().Int("recovered", recovered).Int("candidates", len(hits)).Msg("jobstore: recovered stranded triggers")
		s.signal(nil)
	}
	return recovered, nil
}

func (s *Store) recover(ctx context.Context, id string, cutoff int64) bool {
	log := s.log.With().Str("trigger", id).Logger()

	doc, err := s.client.Get(ctx, CollectionTrigger, id)
	if err != nil {
		log.Warn().Err(err).Msg("jobstore: recovery read failed")
		return false
	}
	if !doc.Found {
		return false
	}
	t, err := codec.UnmarshalTrigger(doc.Source, domain.Version(doc.Version))
	if err != nil {
		log.Warn().Err(err).Msg("jobstore: recovery decode failed")
		return false
	}
	if t.State != domain.StateAcquired && t.State != domain.StateExecuting {
		return false
	}
	if t.StateChangedAt != nil && t.StateChangedAt.UnixMilli() > cutoff {
		return false
	}

	owner := t.InstanceID
	from := t.State
	t.State = domain.StateWaiting
	t.InstanceID = ""
	t.StateChangedAt = domain.TimePtr(s.now())
	body, err := codec.MarshalTrigger(t)
	if err != nil {
		log.Warn().Err(err).Msg("jobstore: recovery encode failed")
		return false
	}

	_, err = s.client.Put(ctx, CollectionTrigger, id, body, docstore.PutOptions{IfVersion: doc.Version})
	if errors.Is(err, docstore.ErrVersionConflict) {
		s.conflict("recover")
		return false
	}
	if err != nil {
		log.Warn().Err(err).Msg("jobstore: recovery write failed")
		return false
	}
	log.Info().Str("owner", owner).Stringer("from", from).Msg("jobstore: stranded trigger returned to waiting")
	return true
}
