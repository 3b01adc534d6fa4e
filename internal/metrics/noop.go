package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                              {}
func (n *NoopSink) TickCompleted(duration time.Duration, fired int, err error)                {}
func (n *NoopSink) TickDrift(drift time.Duration)                                             {}
func (n *NoopSink) TriggersAcquired(candidates, acquired int, duration time.Duration)         {}
func (n *NoopSink) VersionConflict(op string)                                                 {}
func (n *NoopSink) TriggerFired(success bool)                                                 {}
func (n *NoopSink) TriggerCompleted(instruction string, success bool)                         {}
func (n *NoopSink) JobRunCompleted(jobClass string, duration time.Duration, err error)        {}
func (n *NoopSink) RunsInFlightIncr()                                                         {}
func (n *NoopSink) RunsInFlightDecr()                                                         {}
func (n *NoopSink) DeliveryAttemptCompleted(attempt int, statusClass string, d time.Duration) {}
func (n *NoopSink) DeliveryOutcome(outcome string)                                            {}
func (n *NoopSink) RetryAttempt(retryable bool)                                               {}
func (n *NoopSink) SignalCoalesced()                                                          {}
func (n *NoopSink) StrandedTriggersRecovered(count int)                                       {}
