package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/djlord-it/cronstore/internal/codec"
	"github.com/djlord-it/cronstore/internal/docstore"
	"github.com/djlord-it/cronstore/internal/domain"
)

// AcquireNextTriggers claims up to maxCount WAITING triggers due no later
// than noLaterThan+timeWindow. Each candidate from the search is re-read
// and claimed with a version-checked write; candidates that vanished,
// changed state, or were claimed by another node first are skipped.
//
// Finding nothing is not an error, and a failed candidate search is
// logged and treated as nothing found. A transport failure while claiming
// a candidate, or an undecodable trigger variant, stops the batch: the
// triggers claimed so far are returned together with the error.
func (s *Store) AcquireNextTriggers(ctx context.Context, noLaterThan time.Time, maxCount int, timeWindow time.Duration) ([]domain.Trigger, error) {
	start := time.Now()
	if maxCount <= 0 {
		maxCount = 1
	}

	limit := noLaterThan.Add(timeWindow).UnixMilli()
	hits, err := s.client.Search(ctx, CollectionTrigger, docstore.Query{
		Terms:  []docstore.Term{{Field: "state", Values: []any{int(domain.StateWaiting)}}},
		Ranges: []docstore.Range{{Field: "nextFireTime", Gte: docstore.Int64(0), Lte: docstore.Int64(limit)}},
		Limit:  s.opts.SearchLimit,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("jobstore: candidate search failed")
		s.recordAcquire(0, 0, start)
		return nil, nil
	}

	if s.opts.SortCandidates {
		sortCandidates(hits)
	}

	acquired := make([]domain.Trigger, 0, maxCount)
	for _, hit := range hits {
		if len(acquired) >= maxCount {
			break
		}
		if err := ctx.Err(); err != nil {
			break
		}

		t, ok, err := s.claim(ctx, hit.ID, limit)
		if err != nil {
			s.recordAcquire(len(hits), len(acquired), start)
			return acquired, err
		}
		if ok {
			acquired = append(acquired, t)
		}
	}

	s.recordAcquire(len(hits), len(acquired), start)
	if len(acquired) > 0 {
		s.log.Debug().Int("candidates", len(hits)).Int("acquired", len(acquired)).Msg("jobstore: acquired triggers")
	}
	return acquired, nil
}

// claim re-reads one candidate and moves it from WAITING to ACQUIRED under
// the version it read.
func (s *Store) claim(ctx context.Context, id string, limit int64) (domain.Trigger, bool, error) {
	log := s.log.With().Str("trigger", id).Logger()

	doc, err := s.client.Get(ctx, CollectionTrigger, id)
	if err != nil {
		log.Error().Err(err).Msg("jobstore: candidate re-read failed")
		return domain.Trigger{}, false, persistence("acquire", id, err)
	}
	if !doc.Found {
		log.Debug().Msg("jobstore: candidate deleted before claim")
		return domain.Trigger{}, false, nil
	}

	t, err := codec.UnmarshalTrigger(doc.Source, domain.Version(doc.Version))
	if errors.Is(err, codec.ErrUnsupportedVariant) {
		log.Error().Err(err).Msg("jobstore: undecodable trigger")
		return domain.Trigger{}, false, err
	}
	if err != nil {
		log.Warn().Err(err).Msg("jobstore: candidate decode failed")
		return domain.Trigger{}, false, nil
	}

	next, _, ok := domain.Transition(t.State, domain.EventAcquire, domain.InstructionNoop)
	if !ok {
		log.Debug().Stringer("state", t.State).Msg("jobstore: candidate no longer waiting")
		return domain.Trigger{}, false, nil
	}
	// The search index may have matched an older copy of the fire time.
	if ms := fireMillis(t.NextFireTime); ms < 0 || ms > limit {
		log.Debug().Msg("jobstore: candidate rescheduled past window")
		return domain.Trigger{}, false, nil
	}

	t.State = next
	t.InstanceID = s.opts.InstanceID
	t.StateChangedAt = domain.TimePtr(s.now())
	body, err := codec.MarshalTrigger(t)
	if err != nil {
		log.Warn().Err(err).Msg("jobstore: candidate encode failed")
		return domain.Trigger{}, false, nil
	}

	res, err := s.client.Put(ctx, CollectionTrigger, id, body, docstore.PutOptions{IfVersion: doc.Version})
	if errors.Is(err, docstore.ErrVersionConflict) {
		log.Debug().Int64("version", int64(doc.Version)).Msg("jobstore: lost claim to another node")
		s.conflict("acquire")
		return domain.Trigger{}, false, nil
	}
	if err != nil {
		log.Error().Err(err).Msg("jobstore: claim write failed")
		return domain.Trigger{}, false, persistence("acquire", id, err)
	}

	t.Version = domain.Version(res.Version)
	return t, true, nil
}

// ReleaseAcquiredTrigger hands a trigger this node acquired but will not
// fire back to WAITING. trigger must be the copy returned by
// AcquireNextTriggers: if the stored version has moved on, the claim is no
// longer ours and nothing is written. Failures are logged; the reconciler
// recovers anything left behind.
func (s *Store) ReleaseAcquiredTrigger(ctx context.Context, trigger domain.Trigger) {
	id := trigger.Key.String()
	log := s.log.With().Str("trigger", id).Logger()

	doc, err := s.client.Get(ctx, CollectionTrigger, id)
	if err != nil {
		log.Warn().Err(err).Msg("jobstore: release read failed")
		return
	}
	if !doc.Found {
		return
	}
	if domain.Version(doc.Version) != trigger.Version {
		log.Debug().
			Int64("version", int64(doc.Version)).
			Int64("held", int64(trigger.Version)).
			Msg("jobstore: trigger to release changed since acquisition")
		return
	}

	t, err := codec.UnmarshalTrigger(doc.Source, domain.Version(doc.Version))
	if err != nil {
		log.Warn().Err(err).Msg("jobstore: release decode failed")
		return
	}
	next, _, ok := domain.Transition(t.State, domain.EventRelease, domain.InstructionNoop)
	if !ok {
		log.Debug().Stringer("state", t.State).Msg("jobstore: trigger to release is not acquired")
		return
	}

	t.State = next
	t.InstanceID = ""
	t.StateChangedAt = domain.TimePtr(s.now())
	body, err := codec.MarshalTrigger(t)
	if err != nil {
		log.Warn().Err(err).Msg("jobstore: release encode failed")
		return
	}

	_, err = s.client.Put(ctx, CollectionTrigger, id, body, docstore.PutOptions{IfVersion: doc.Version})
	if errors.Is(err, docstore.ErrVersionConflict) {
		s.conflict("release")
		log.Debug().Msg("jobstore: trigger changed before release")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("jobstore: release write failed")
		return
	}
	log.Debug().Msg("jobstore: released trigger")
}

type candidateOrder struct {
	NextFireTime int64 `json:"nextFireTime"`
	Priority     int   `json:"priority"`
}

// sortCandidates orders hits by next fire time, then highest priority.
// Hits whose source cannot be read keep their relative order at the end.
func sortCandidates(hits []docstore.Hit) {
	keys := make(map[string]candidateOrder, len(hits))
	bad := make(map[string]bool)
	for _, h := range hits {
		var k candidateOrder
		if err := json.Unmarshal(h.Source, &k); err != nil {
			bad[h.ID] = true
			continue
		}
		keys[h.ID] = k
	}

	sort.SliceStable(hits, func(i, j int) bool {
		bi, bj := bad[hits[i].ID], bad[hits[j].ID]
		if bi || bj {
			return !bi && bj
		}
		ki, kj := keys[hits[i].ID], keys[hits[j].ID]
		if ki.NextFireTime != kj.NextFireTime {
			return ki.NextFireTime < kj.NextFireTime
		}
		return ki.Priority > kj.Priority
	})
}

func fireMillis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

func (s *Store) recordAcquire(candidates, acquired int, start time.Time) {
	if s.metrics != nil {
		s.metrics.TriggersAcquired(candidates, acquired, time.Since(start))
	}
}

func (s *Store) conflict(op string) {
	if s.metrics != nil {
		s.metrics.VersionConflict(op)
	}
}
