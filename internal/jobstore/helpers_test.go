package jobstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/djlord-it/cronstore/internal/docstore"
	"github.com/djlord-it/cronstore/internal/docstore/memstore"
	"github.com/djlord-it/cronstore/internal/domain"
	"github.com/djlord-it/cronstore/internal/testutil"
)

var (
	testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	testJob = domain.JobKey{Name: "Job1", Group: "Group1"}
)

type recordingSignaler struct {
	mu    sync.Mutex
	calls []*time.Time
}

func (r *recordingSignaler) SignalSchedulingChange(candidate *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, candidate)
}

func (r *recordingSignaler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recordingMetrics struct {
	mu        sync.Mutex
	acquired  int
	conflicts map[string]int
	fired     map[bool]int
	completed map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		conflicts: make(map[string]int),
		fired:     make(map[bool]int),
		completed: make(map[string]int),
	}
}

func (m *recordingMetrics) TriggersAcquired(candidates, acquired int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired += acquired
}

func (m *recordingMetrics) VersionConflict(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[op]++
}

func (m *recordingMetrics) TriggerFired(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fired[success]++
}

func (m *recordingMetrics) TriggerCompleted(instruction string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.completed[instruction]++
	}
}

type node struct {
	store    *Store
	signaler *recordingSignaler
}

func newNode(t *testing.T, client docstore.Client, instanceID string, opts ...func(*Options)) node {
	t.Helper()
	o := Options{InstanceID: instanceID}
	for _, fn := range opts {
		fn(&o)
	}
	s, err := New(client, o)
	require.NoError(t, err)

	clock := testutil.NewFakeClock(testNow)
	s.WithClock(clock.Now)
	sig := &recordingSignaler{}
	s.Initialize(sig)
	return node{store: s, signaler: sig}
}

func simpleTrigger(name string, next *time.Time) domain.Trigger {
	return domain.Trigger{
		Key:    domain.TriggerKey{Name: name, Group: "Group1"},
		JobKey: testJob,
		Schedule: domain.SimpleSchedule{
			RepeatCount:    domain.RepeatIndefinitely,
			RepeatInterval: 30 * time.Second,
		},
		Priority:     domain.DefaultPriority,
		StartTime:    domain.TimePtr(testNow.Add(-time.Hour)),
		NextFireTime: next,
	}
}

func seedJob(t *testing.T, s *Store) {
	t.Helper()
	err := s.StoreJob(context.Background(), domain.Job{Key: testJob, JobClass: "log"}, false)
	require.NoError(t, err)
}

func seedTrigger(t *testing.T, s *Store, tr domain.Trigger) {
	t.Helper()
	require.NoError(t, s.StoreTrigger(context.Background(), tr, false))
}

// executing acquires and fires name so it sits in EXECUTING. Every other
// trigger acquired on the way is released.
func executing(t *testing.T, s *Store, name string) domain.FireBundle {
	t.Helper()
	ctx := context.Background()
	acquired, err := s.AcquireNextTriggers(ctx, testNow.Add(time.Hour), 100, 0)
	require.NoError(t, err)

	var target *domain.Trigger
	for i, tr := range acquired {
		if tr.Key.Name == name {
			target = &acquired[i]
			continue
		}
		s.ReleaseAcquiredTrigger(ctx, tr)
	}
	if target == nil {
		t.Fatalf("trigger %s was not acquired", name)
	}

	results := s.TriggersFired(ctx, []domain.Trigger{*target})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	return *results[0].Bundle
}

// failingSearch wraps a client and fails every search.
type failingSearch struct {
	docstore.Client
}

func (failingSearch) Search(context.Context, string, docstore.Query) ([]docstore.Hit, error) {
	return nil, errors.New("search unavailable")
}

var _ docstore.Client = failingSearch{Client: memstore.New()}

// failingGet wraps a client and fails every Get of one document.
type failingGet struct {
	docstore.Client
	id string
}

func (f failingGet) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if id == f.id {
		return docstore.Document{}, fmt.Errorf("%w: connection reset", docstore.ErrTransport)
	}
	return f.Client.Get(ctx, collection, id)
}
