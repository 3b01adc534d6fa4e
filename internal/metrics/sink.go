package metrics

import (
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler node metrics
	TickStarted()
	TickCompleted(duration time.Duration, fired int, err error)
	TickDrift(drift time.Duration)

	// Job store metrics
	TriggersAcquired(candidates, acquired int, duration time.Duration)
	VersionConflict(op string)
	TriggerFired(success bool)
	TriggerCompleted(instruction string, success bool)

	// Job runner metrics
	JobRunCompleted(jobClass string, duration time.Duration, err error)
	RunsInFlightIncr()
	RunsInFlightDecr()

	// Webhook delivery metrics
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryAttempt(retryable bool)

	// Signal metrics
	SignalCoalesced()

	// Reconciler metrics
	StrandedTriggersRecovered(count int)
}

// Outcome constants for DeliveryOutcome metric.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
)

// StatusClass constants for DeliveryAttemptCompleted metric.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassCircuitOpen     = "circuit_open"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "circuit breaker is open"):
			return StatusClassCircuitOpen
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
			return StatusClassTimeout
		case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "dial"):
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
