package domain

import (
	"time"

	"github.com/google/uuid"
)

// FireBundle carries everything a scheduler needs to run one firing of a
// trigger.
type FireBundle struct {
	FireInstanceID uuid.UUID

	Job     Job
	Trigger Trigger // already advanced past this firing

	FireTime          time.Time  // actual time of firing
	ScheduledFireTime *time.Time // intended fire time
	PreviousFireTime  *time.Time
	NextFireTime      *time.Time
}

// FireResult is the outcome of firing one trigger. Exactly one of Bundle
// and Err is set.
type FireResult struct {
	Bundle *FireBundle
	Err    error
}
