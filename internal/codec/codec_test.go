package codec

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/cronstore/internal/domain"
)

func TestTriggerRecord_RoundTrip(t *testing.T) {
	records := map[string]TriggerRecord{
		"simple all times": {
			Name: "Trigger1", Group: "Group1", TriggerClass: "SIMPLE",
			JobName: "Job1", JobGroup: "Group1", State: 1,
			StartTime: 1700000000000, EndTime: 1800000000000,
			NextFireTime: 1700000030000, PreviousFireTime: 1700000000000,
			Priority: 5, RepeatCount: -1, RepeatInterval: 30000, TimesTriggered: 1,
			InstanceID: "node-a", StateTime: 1700000000500,
		},
		"simple unset times": {
			Name: "Trigger2", Group: "Group1", TriggerClass: "SIMPLE",
			JobName: "Job1", JobGroup: "Group1", State: 0,
			RepeatCount: 0, RepeatInterval: 0,
		},
		"cron": {
			Name: "Trigger3", Group: "Group2", TriggerClass: "CRON",
			JobName: "Job2", JobGroup: "Group2", State: 7,
			StartTime: 1700000000000, NextFireTime: 1700000060000,
			Priority: 10, CronExpression: "0 * * * *", Timezone: "Europe/Stockholm",
		},
		"cron unset times": {
			Name: "Trigger4", Group: "Group2", TriggerClass: "CRON",
			JobName: "Job2", JobGroup: "Group2", State: 3,
			CronExpression: "@daily",
		},
	}

	for name, rec := range records {
		t.Run(name, func(t *testing.T) {
			tr, err := DecodeTrigger(rec)
			require.NoError(t, err)

			got, err := EncodeTrigger(tr)
			require.NoError(t, err)
			assert.Equal(t, rec, got)
		})
	}
}

func TestDecodeTrigger_UnsetTimesAreNil(t *testing.T) {
	tr, err := DecodeTrigger(TriggerRecord{Name: "T", Group: "G", TriggerClass: "SIMPLE"})
	require.NoError(t, err)

	assert.Nil(t, tr.StartTime)
	assert.Nil(t, tr.EndTime)
	assert.Nil(t, tr.NextFireTime)
	assert.Nil(t, tr.PreviousFireTime)
	assert.Nil(t, tr.StateChangedAt)
	assert.Equal(t, domain.StateWaiting, tr.State)
}

func TestDecodeTrigger_UnsupportedVariant(t *testing.T) {
	for _, class := range []string{"", "CALENDAR_INTERVAL", "SIMPLE_TRIGGER_IMPL"} {
		_, err := DecodeTrigger(TriggerRecord{Name: "T", Group: "G", TriggerClass: class})
		assert.ErrorIs(t, err, ErrUnsupportedVariant, "class %q", class)
	}
}

func TestDecodeTrigger_InvalidState(t *testing.T) {
	_, err := DecodeTrigger(TriggerRecord{Name: "T", Group: "G", TriggerClass: "SIMPLE", State: 4})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEncodeTrigger_NoSchedule(t *testing.T) {
	_, err := EncodeTrigger(domain.Trigger{Key: domain.TriggerKey{Name: "T", Group: "G"}})
	assert.ErrorIs(t, err, ErrUnsupportedVariant)
}

func TestTrigger_DomainRoundTrip(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	in := domain.Trigger{
		Key:          domain.TriggerKey{Name: "Trigger1", Group: "Group1"},
		JobKey:       domain.JobKey{Name: "Job1", Group: "Group1"},
		Schedule:     domain.SimpleSchedule{RepeatCount: domain.RepeatIndefinitely, RepeatInterval: 30 * time.Second},
		State:        domain.StateWaiting,
		Priority:     domain.DefaultPriority,
		StartTime:    &start,
		NextFireTime: &start,
	}

	body, err := MarshalTrigger(in)
	require.NoError(t, err)

	out, err := UnmarshalTrigger(body, 42)
	require.NoError(t, err)

	assert.Equal(t, domain.Version(42), out.Version)
	assert.Equal(t, in.Key, out.Key)
	assert.Equal(t, in.JobKey, out.JobKey)
	assert.Equal(t, in.Schedule, out.Schedule)
	assert.True(t, out.StartTime.Equal(start))
	assert.True(t, out.NextFireTime.Equal(start))
	assert.Nil(t, out.EndTime)
}

func TestMarshalTrigger_WireFieldNames(t *testing.T) {
	start := time.UnixMilli(1700000000000).UTC()
	body, err := MarshalTrigger(domain.Trigger{
		Key:          domain.TriggerKey{Name: "T", Group: "G"},
		JobKey:       domain.JobKey{Name: "J", Group: "G"},
		Schedule:     domain.CronSchedule{Expression: "0 * * * *"},
		State:        domain.StateAcquired,
		NextFireTime: &start,
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Equal(t, "CRON", raw["triggerClass"])
	assert.EqualValues(t, 1, raw["state"])
	assert.EqualValues(t, 1700000000000, raw["nextFireTime"])
	assert.EqualValues(t, 0, raw["startTime"])
	assert.Equal(t, "0 * * * *", raw["cronExpression"])
}

func TestJob_RoundTrip(t *testing.T) {
	in := domain.Job{
		Key:      domain.JobKey{Name: "Job1", Group: "Group1"},
		JobClass: "webhook",
		Data:     map[string]any{"url": "https://example.com/hook", "retries": float64(3), "enabled": true},
	}

	body, err := MarshalJob(in)
	require.NoError(t, err)

	out, err := UnmarshalJob(body)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeJob_NilDataMap(t *testing.T) {
	job := DecodeJob(JobRecord{Name: "J", Group: "G", JobClass: "log"})
	assert.NotNil(t, job.Data)
	assert.Empty(t, job.Data)
}
