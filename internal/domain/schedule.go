package domain

import "time"

// ScheduleKind is the wire discriminator of a trigger variant.
type ScheduleKind string

const (
	ScheduleKindSimple ScheduleKind = "SIMPLE"
	ScheduleKindCron   ScheduleKind = "CRON"
)

// RepeatIndefinitely makes a simple schedule repeat until its end time.
const RepeatIndefinitely = -1

// Schedule is the variant part of a trigger. The set of implementations is
// closed; new variants are added here and to the codec switch.
type Schedule interface {
	Kind() ScheduleKind
	isSchedule()
}

// SimpleSchedule fires at StartTime and then every RepeatInterval,
// RepeatCount more times (or forever with RepeatIndefinitely).
type SimpleSchedule struct {
	RepeatCount    int
	RepeatInterval time.Duration
	TimesTriggered int
}

func (SimpleSchedule) Kind() ScheduleKind { return ScheduleKindSimple }
func (SimpleSchedule) isSchedule()        {}

// CronSchedule fires on a cron expression evaluated in Timezone.
type CronSchedule struct {
	Expression string
	Timezone   string // IANA timezone, defaults to UTC
}

func (CronSchedule) Kind() ScheduleKind { return ScheduleKindCron }
func (CronSchedule) isSchedule()        {}
