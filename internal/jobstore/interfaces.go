package jobstore

import "time"

// Signaler is told when scheduling state changed so the scheduler can
// re-evaluate what to wait for. candidate is the earliest new fire time
// if known, nil otherwise.
type Signaler interface {
	SignalSchedulingChange(candidate *time.Time)
}

// MetricsSink records job store metrics. Implementations must not block.
type MetricsSink interface {
	TriggersAcquired(candidates, acquired int, duration time.Duration)
	VersionConflict(op string)
	TriggerFired(success bool)
	TriggerCompleted(instruction string, success bool)
}

type noopSignaler struct{}

func (noopSignaler) SignalSchedulingChange(*time.Time) {}
