// Package codec maps jobs and triggers to and from the flat records kept in
// the document store.
//
// Times travel as epoch milliseconds with 0 meaning "unset". That overlaps
// with the instant 1970-01-01T00:00:00Z, which therefore cannot be stored.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/djlord-it/cronstore/internal/domain"
)

// ErrUnsupportedVariant means a record carries a trigger class this build
// does not know. It indicates version skew or corruption and is not
// retryable.
var ErrUnsupportedVariant = errors.New("unsupported trigger variant")

// ErrInvalidState means a record carries an unknown state code.
var ErrInvalidState = errors.New("invalid trigger state")

// TriggerRecord is the persisted form of a trigger.
type TriggerRecord struct {
	Name             string `json:"name"`
	Group            string `json:"group"`
	TriggerClass     string `json:"triggerClass"`
	JobName          string `json:"jobName"`
	JobGroup         string `json:"jobGroup"`
	State            int    `json:"state"`
	StartTime        int64  `json:"startTime"`
	EndTime          int64  `json:"endTime"`
	NextFireTime     int64  `json:"nextFireTime"`
	PreviousFireTime int64  `json:"previousFireTime"`
	Priority         int    `json:"priority"`

	// SIMPLE
	RepeatCount    int   `json:"repeatCount,omitempty"`
	RepeatInterval int64 `json:"repeatInterval,omitempty"`
	TimesTriggered int   `json:"timesTriggered,omitempty"`

	// CRON
	CronExpression string `json:"cronExpression,omitempty"`
	Timezone       string `json:"timezone,omitempty"`

	InstanceID string `json:"instanceId,omitempty"`
	StateTime  int64  `json:"stateTime"`
}

// JobRecord is the persisted form of a job.
type JobRecord struct {
	Name     string         `json:"name"`
	Group    string         `json:"group"`
	JobClass string         `json:"jobClass"`
	DataMap  map[string]any `json:"dataMap"`
}

// EncodeTrigger flattens t into a record. The version token is not part of
// the record; it travels beside the document.
func EncodeTrigger(t domain.Trigger) (TriggerRecord, error) {
	rec := TriggerRecord{
		Name:             t.Key.Name,
		Group:            t.Key.Group,
		JobName:          t.JobKey.Name,
		JobGroup:         t.JobKey.Group,
		State:            int(t.State),
		StartTime:        toMillis(t.StartTime),
		EndTime:          toMillis(t.EndTime),
		NextFireTime:     toMillis(t.NextFireTime),
		PreviousFireTime: toMillis(t.PreviousFireTime),
		Priority:         t.Priority,
		InstanceID:       t.InstanceID,
		StateTime:        toMillis(t.StateChangedAt),
	}

	switch s := t.Schedule.(type) {
	case domain.SimpleSchedule:
		rec.TriggerClass = string(domain.ScheduleKindSimple)
		rec.RepeatCount = s.RepeatCount
		rec.RepeatInterval = s.RepeatInterval.Milliseconds()
		rec.TimesTriggered = s.TimesTriggered
	case domain.CronSchedule:
		rec.TriggerClass = string(domain.ScheduleKindCron)
		rec.CronExpression = s.Expression
		rec.Timezone = s.Timezone
	case nil:
		return TriggerRecord{}, fmt.Errorf("%w: trigger %s has no schedule", ErrUnsupportedVariant, t.Key)
	default:
		return TriggerRecord{}, fmt.Errorf("%w: %s", ErrUnsupportedVariant, s.Kind())
	}

	return rec, nil
}

// DecodeTrigger rebuilds a trigger from its record.
func DecodeTrigger(rec TriggerRecord) (domain.Trigger, error) {
	state := domain.TriggerState(rec.State)
	if !state.Valid() {
		return domain.Trigger{}, fmt.Errorf("%w: %d", ErrInvalidState, rec.State)
	}

	t := domain.Trigger{
		Key:              domain.TriggerKey{Name: rec.Name, Group: rec.Group},
		JobKey:           domain.JobKey{Name: rec.JobName, Group: rec.JobGroup},
		State:            state,
		Priority:         rec.Priority,
		StartTime:        fromMillis(rec.StartTime),
		EndTime:          fromMillis(rec.EndTime),
		NextFireTime:     fromMillis(rec.NextFireTime),
		PreviousFireTime: fromMillis(rec.PreviousFireTime),
		InstanceID:       rec.InstanceID,
		StateChangedAt:   fromMillis(rec.StateTime),
	}

	switch domain.ScheduleKind(rec.TriggerClass) {
	case domain.ScheduleKindSimple:
		t.Schedule = domain.SimpleSchedule{
			RepeatCount:    rec.RepeatCount,
			RepeatInterval: time.Duration(rec.RepeatInterval) * time.Millisecond,
			TimesTriggered: rec.TimesTriggered,
		}
	case domain.ScheduleKindCron:
		t.Schedule = domain.CronSchedule{
			Expression: rec.CronExpression,
			Timezone:   rec.Timezone,
		}
	default:
		return domain.Trigger{}, fmt.Errorf("%w: %q", ErrUnsupportedVariant, rec.TriggerClass)
	}

	return t, nil
}

// MarshalTrigger encodes t straight to a document body.
func MarshalTrigger(t domain.Trigger) ([]byte, error) {
	rec, err := EncodeTrigger(t)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

// UnmarshalTrigger decodes a document body into a trigger carrying version.
func UnmarshalTrigger(body []byte, version domain.Version) (domain.Trigger, error) {
	var rec TriggerRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return domain.Trigger{}, fmt.Errorf("decode trigger: %w", err)
	}
	t, err := DecodeTrigger(rec)
	if err != nil {
		return domain.Trigger{}, err
	}
	t.Version = version
	return t, nil
}

func EncodeJob(j domain.Job) JobRecord {
	data := j.Data
	if data == nil {
		data = map[string]any{}
	}
	return JobRecord{
		Name:     j.Key.Name,
		Group:    j.Key.Group,
		JobClass: j.JobClass,
		DataMap:  data,
	}
}

func DecodeJob(rec JobRecord) domain.Job {
	data := rec.DataMap
	if data == nil {
		data = map[string]any{}
	}
	return domain.Job{
		Key:      domain.JobKey{Name: rec.Name, Group: rec.Group},
		JobClass: rec.JobClass,
		Data:     data,
	}
}

func MarshalJob(j domain.Job) ([]byte, error) {
	return json.Marshal(EncodeJob(j))
}

func UnmarshalJob(body []byte) (domain.Job, error) {
	var rec JobRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return domain.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return DecodeJob(rec), nil
}

func toMillis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
