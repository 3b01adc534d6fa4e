package channel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingMetrics struct {
	coalesced atomic.Int64
}

func (m *countingMetrics) SignalCoalesced() { m.coalesced.Add(1) }

func TestSignal_WakesReceiver(t *testing.T) {
	s := NewSignal()
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	s.SignalSchedulingChange(&at)

	select {
	case <-s.C():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for signal")
	}
	got := s.Take()
	if got == nil || !got.Equal(at) {
		t.Errorf("Take() = %v, want %v", got, at)
	}
	if again := s.Take(); again != nil {
		t.Errorf("second Take() = %v, want nil", again)
	}
}

func TestSignal_CoalescesAndKeepsEarliest(t *testing.T) {
	m := &countingMetrics{}
	s := NewSignal().WithMetrics(m)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	late := base.Add(time.Hour)
	early := base.Add(time.Minute)
	s.SignalSchedulingChange(&late)
	s.SignalSchedulingChange(nil)
	s.SignalSchedulingChange(&early)

	<-s.C()
	select {
	case <-s.C():
		t.Fatal("expected a single pending wake-up")
	default:
	}

	if got := s.Take(); got == nil || !got.Equal(early) {
		t.Errorf("Take() = %v, want %v", got, early)
	}
	if n := m.coalesced.Load(); n != 2 {
		t.Errorf("coalesced = %d, want 2", n)
	}
}

func TestSignal_NilCandidateStillWakes(t *testing.T) {
	s := NewSignal()
	s.SignalSchedulingChange(nil)

	select {
	case <-s.C():
	default:
		t.Fatal("expected wake-up")
	}
	if got := s.Take(); got != nil {
		t.Errorf("Take() = %v, want nil", got)
	}
}

func TestSignal_ConcurrentSendersNeverBlock(t *testing.T) {
	s := NewSignal()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := now.Add(time.Duration(i) * time.Second)
			s.SignalSchedulingChange(&at)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("senders blocked")
	}

	<-s.C()
	if got := s.Take(); got == nil || !got.Equal(now) {
		t.Errorf("Take() = %v, want %v", got, now)
	}
}
