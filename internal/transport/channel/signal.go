package channel

import (
	"sync"
	"time"
)

// MetricsSink records signals merged into one already pending.
type MetricsSink interface {
	SignalCoalesced()
}

// Signal is a coalescing wake-up channel. Any number of scheduling-change
// notifications between two receives collapse into one wake-up carrying the
// earliest candidate fire time seen.
type Signal struct {
	ch chan struct{}

	mu       sync.Mutex
	earliest *time.Time
	pending  bool

	metrics MetricsSink // optional, nil = disabled
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

func (s *Signal) WithMetrics(sink MetricsSink) *Signal {
	s.metrics = sink
	return s
}

// SignalSchedulingChange never blocks. A nil candidate means "something
// changed, time unknown".
func (s *Signal) SignalSchedulingChange(candidate *time.Time) {
	s.mu.Lock()
	if candidate != nil && (s.earliest == nil || candidate.Before(*s.earliest)) {
		c := *candidate
		s.earliest = &c
	}
	coalesced := s.pending
	s.pending = true
	s.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	default:
		coalesced = true
	}
	if coalesced && s.metrics != nil {
		s.metrics.SignalCoalesced()
	}
}

// C is closed over by the scheduler loop; a receive means at least one
// signal arrived since the last Take.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}

// Take returns the earliest candidate since the previous Take and resets it.
func (s *Signal) Take() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.earliest
	s.earliest = nil
	s.pending = false
	return t
}
