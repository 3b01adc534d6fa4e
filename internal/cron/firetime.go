package cron

import (
	"errors"
	"fmt"
	"time"

	"github.com/djlord-it/cronstore/internal/domain"
)

// ErrInvalidSchedule is returned for triggers whose schedule can never
// produce a fire time (zero interval with repeats, missing expression).
var ErrInvalidSchedule = errors.New("invalid trigger schedule")

// Calculator computes fire times for both trigger variants. Times are kept
// at millisecond precision, the resolution the store persists.
type Calculator struct {
	parser *Parser
	clock  func() time.Time
}

func NewCalculator(parser *Parser) *Calculator {
	return &Calculator{parser: parser, clock: time.Now}
}

// WithClock replaces the time source used for defaulting start times.
func (c *Calculator) WithClock(clock func() time.Time) *Calculator {
	c.clock = clock
	return c
}

// Validate checks that the trigger's schedule is usable.
func (c *Calculator) Validate(t domain.Trigger) error {
	switch s := t.Schedule.(type) {
	case domain.SimpleSchedule:
		if s.RepeatCount < domain.RepeatIndefinitely {
			return fmt.Errorf("%w: repeat count %d", ErrInvalidSchedule, s.RepeatCount)
		}
		if s.RepeatCount != 0 && s.RepeatInterval <= 0 {
			return fmt.Errorf("%w: repeating trigger needs a positive interval", ErrInvalidSchedule)
		}
		return nil
	case domain.CronSchedule:
		if s.Expression == "" {
			return fmt.Errorf("%w: empty cron expression", ErrInvalidSchedule)
		}
		if _, err := c.parser.Parse(s.Expression, s.Timezone); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
		return nil
	case nil:
		return fmt.Errorf("%w: no schedule", ErrInvalidSchedule)
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrInvalidSchedule, s.Kind())
	}
}

// FireTimeAfter returns the first fire time strictly after after, or nil
// when the schedule is exhausted.
func (c *Calculator) FireTimeAfter(t domain.Trigger, after time.Time) (*time.Time, error) {
	if t.StartTime == nil {
		return nil, fmt.Errorf("%w: trigger %s has no start time", ErrInvalidSchedule, t.Key)
	}

	var next time.Time
	switch s := t.Schedule.(type) {
	case domain.SimpleSchedule:
		n, ok := simpleFireTimeAfter(s, *t.StartTime, after)
		if !ok {
			return nil, nil
		}
		next = n
	case domain.CronSchedule:
		sched, err := c.parser.Parse(s.Expression, s.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
		if after.Before(*t.StartTime) {
			after = t.StartTime.Add(-time.Second)
		}
		next = sched.Next(after)
		if next.IsZero() {
			return nil, nil
		}
	default:
		return nil, c.Validate(t)
	}

	next = next.UTC().Truncate(time.Millisecond)
	if t.EndTime != nil && !next.Before(*t.EndTime) {
		return nil, nil
	}
	return &next, nil
}

func simpleFireTimeAfter(s domain.SimpleSchedule, start, after time.Time) (time.Time, bool) {
	if s.RepeatCount != domain.RepeatIndefinitely && s.TimesTriggered > s.RepeatCount {
		return time.Time{}, false
	}
	if after.Before(start) {
		return start, true
	}
	if s.RepeatCount == 0 || s.RepeatInterval <= 0 {
		return time.Time{}, false
	}

	executed := int64(after.Sub(start)/s.RepeatInterval) + 1
	if s.RepeatCount != domain.RepeatIndefinitely && executed > int64(s.RepeatCount) {
		return time.Time{}, false
	}
	return start.Add(time.Duration(executed) * s.RepeatInterval), true
}

// ComputeFirstFireTime defaults the start time to now and sets the first
// fire time of a trigger that has never been stored.
func (c *Calculator) ComputeFirstFireTime(t *domain.Trigger) error {
	if err := c.Validate(*t); err != nil {
		return err
	}
	if t.StartTime == nil {
		start := c.clock().UTC().Truncate(time.Millisecond)
		t.StartTime = &start
	}
	next, err := c.FireTimeAfter(*t, t.StartTime.Add(-time.Millisecond))
	if err != nil {
		return err
	}
	t.NextFireTime = next
	return nil
}

// Triggered advances a trigger past its current fire time: the current
// next fire time becomes the previous one and a new next is computed.
// A trigger stored without a next fire time fires now and continues from
// the clock. A nil NextFireTime afterwards means the schedule is exhausted.
func (c *Calculator) Triggered(t *domain.Trigger) error {
	if s, ok := t.Schedule.(domain.SimpleSchedule); ok {
		s.TimesTriggered++
		t.Schedule = s
	}

	after := c.clock().UTC().Truncate(time.Millisecond)
	if t.NextFireTime != nil {
		after = *t.NextFireTime
	}
	if t.StartTime == nil {
		start := after
		t.StartTime = &start
	}

	t.PreviousFireTime = t.NextFireTime
	next, err := c.FireTimeAfter(*t, after)
	if err != nil {
		return err
	}
	t.NextFireTime = next
	return nil
}
