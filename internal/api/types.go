package api

import "time"

type CreateJobRequest struct {
	Name     string         `json:"name"`
	Group    string         `json:"group"`
	JobClass string         `json:"job_class"`
	Data     map[string]any `json:"data,omitempty"`

	Trigger TriggerRequest `json:"trigger"`
}

// TriggerRequest describes the single trigger created with a job. Exactly
// one of CronExpression and RepeatIntervalSeconds selects the variant; a
// request with neither is a one-shot simple trigger.
type TriggerRequest struct {
	Name     string `json:"name,omitempty"`  // defaults to the job name
	Group    string `json:"group,omitempty"` // defaults to the job group
	Priority *int   `json:"priority,omitempty"`

	CronExpression string `json:"cron_expression,omitempty"`
	Timezone       string `json:"timezone,omitempty"`

	RepeatCount           int `json:"repeat_count,omitempty"` // -1 repeats until end_time
	RepeatIntervalSeconds int `json:"repeat_interval_seconds,omitempty"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

type JobResponse struct {
	Name     string            `json:"name"`
	Group    string            `json:"group"`
	JobClass string            `json:"job_class"`
	Data     map[string]any    `json:"data,omitempty"`
	Triggers []TriggerResponse `json:"triggers"`
}

type TriggerResponse struct {
	Name     string `json:"name"`
	Group    string `json:"group"`
	JobName  string `json:"job_name"`
	JobGroup string `json:"job_group"`
	Kind     string `json:"kind"`
	State    string `json:"state"`
	Priority int    `json:"priority"`

	CronExpression string `json:"cron_expression,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	RepeatCount    *int   `json:"repeat_count,omitempty"`
	RepeatInterval string `json:"repeat_interval,omitempty"`
	TimesTriggered *int   `json:"times_triggered,omitempty"`

	StartTime        string `json:"start_time,omitempty"`
	EndTime          string `json:"end_time,omitempty"`
	NextFireTime     string `json:"next_fire_time,omitempty"`
	PreviousFireTime string `json:"previous_fire_time,omitempty"`
	InstanceID       string `json:"instance_id,omitempty"`
}

type StatsResponse struct {
	Jobs     int `json:"jobs"`
	Triggers int `json:"triggers"`

	// Runs is the analytics counter for the requested job's current
	// window. Present only when a job is named and analytics are enabled.
	Runs *int64 `json:"runs,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
