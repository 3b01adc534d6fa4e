package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/cronstore/internal/docstore/memstore"
	"github.com/djlord-it/cronstore/internal/domain"
	"github.com/djlord-it/cronstore/internal/jobstore"
	"github.com/djlord-it/cronstore/internal/testutil"
)

// countingRunner counts runs per trigger across every node.
type countingRunner struct {
	mu   sync.Mutex
	runs map[string]int
}

func (r *countingRunner) Run(_ context.Context, b domain.FireBundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[b.Trigger.Key.Name]++
	return nil
}

func newClusterNode(t *testing.T, mem *memstore.Store, id string, clock *testutil.FakeClock, runner Runner) *Scheduler {
	t.Helper()
	js, err := jobstore.New(mem, jobstore.Options{InstanceID: id})
	require.NoError(t, err)
	js.WithClock(clock.Now)
	return New(Config{TickInterval: time.Second, BatchSize: 5, Workers: 5}, js, runner).WithClock(clock.Now)
}

func TestCluster_EachFiringRunsOnce(t *testing.T) {
	ctx := testutil.TestContext(t)
	mem := memstore.New()
	clock := testutil.NewFakeClock(testNow)

	seed, err := jobstore.New(mem, jobstore.Options{})
	require.NoError(t, err)
	seed.WithClock(clock.Now)

	job := domain.Job{Key: domain.JobKey{Name: "Job1", Group: "G"}, JobClass: "test"}
	require.NoError(t, seed.StoreJob(ctx, job, false))

	const triggers = 12
	for i := 0; i < triggers; i++ {
		require.NoError(t, seed.StoreTrigger(ctx, domain.Trigger{
			Key:    domain.TriggerKey{Name: fmt.Sprintf("T%02d", i), Group: "G"},
			JobKey: job.Key,
			Schedule: domain.SimpleSchedule{
				RepeatCount:    domain.RepeatIndefinitely,
				RepeatInterval: time.Minute,
			},
			StartTime:    domain.TimePtr(testNow),
			NextFireTime: domain.TimePtr(testNow),
		}, false))
	}

	runner := &countingRunner{runs: make(map[string]int)}
	nodes := []*Scheduler{
		newClusterNode(t, mem, "node-a", clock, runner),
		newClusterNode(t, mem, "node-b", clock, runner),
		newClusterNode(t, mem, "node-c", clock, runner),
	}

	// Every node keeps cycling until nothing due is left.
	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(n *Scheduler) {
			defer wg.Done()
			for round := 0; round < 10; round++ {
				if _, err := n.ProcessOnce(ctx); err != nil {
					t.Errorf("ProcessOnce: %v", err)
					return
				}
				n.Wait()
			}
		}(n)
	}
	wg.Wait()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.runs, triggers)
	for name, n := range runner.runs {
		assert.Equal(t, 1, n, "trigger %s ran %d times", name, n)
	}

	for i := 0; i < triggers; i++ {
		key := domain.TriggerKey{Name: fmt.Sprintf("T%02d", i), Group: "G"}
		tr, err := seed.RetrieveTrigger(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, domain.StateWaiting, tr.State, "trigger %s", key)
		require.NotNil(t, tr.NextFireTime)
		assert.True(t, tr.NextFireTime.Equal(testNow.Add(time.Minute)), "trigger %s next=%v", key, tr.NextFireTime)
	}
}
