package domain

import "time"

// TriggerKey identifies a trigger. The pair is unique within the store.
type TriggerKey struct {
	Name  string
	Group string
}

// String renders the key as the document id, "group.name".
func (k TriggerKey) String() string {
	return k.Group + "." + k.Name
}

// Version is the store-assigned revision of a persisted trigger. It is
// only ever compared and passed back to the store, never interpreted.
// The zero value means the trigger has not been read from the store.
type Version int64

// Trigger is a schedule bound to a job.
type Trigger struct {
	Key      TriggerKey
	JobKey   JobKey
	Schedule Schedule
	State    TriggerState
	Priority int

	StartTime        *time.Time
	EndTime          *time.Time
	NextFireTime     *time.Time
	PreviousFireTime *time.Time

	// InstanceID and StateChangedAt record which node last moved the
	// trigger and when; the reconciler uses them to find stranded claims.
	InstanceID     string
	StateChangedAt *time.Time

	Version Version
}

// DefaultPriority matches the priority given to triggers that do not set one.
const DefaultPriority = 5

// Clone returns a deep copy so callers can mutate times without aliasing
// a snapshot held elsewhere.
func (t Trigger) Clone() Trigger {
	c := t
	c.StartTime = cloneTime(t.StartTime)
	c.EndTime = cloneTime(t.EndTime)
	c.NextFireTime = cloneTime(t.NextFireTime)
	c.PreviousFireTime = cloneTime(t.PreviousFireTime)
	c.StateChangedAt = cloneTime(t.StateChangedAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr is a convenience for building triggers with optional times.
func TimePtr(t time.Time) *time.Time {
	return &t
}
