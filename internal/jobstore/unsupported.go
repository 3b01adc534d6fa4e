package jobstore

import (
	"context"

	"github.com/djlord-it/cronstore/internal/domain"
)

// Calendars, pausing and group listing are not supported. These methods
// accept their arguments and do nothing so a scheduler can call them.

func (s *Store) StoreCalendar(ctx context.Context, name string, replace bool) error { return nil }
func (s *Store) RemoveCalendar(ctx context.Context, name string) (bool, error)      { return false, nil }
func (s *Store) NumberOfCalendars(ctx context.Context) (int, error)                 { return 0, nil }
func (s *Store) CalendarNames(ctx context.Context) ([]string, error)                { return nil, nil }

func (s *Store) JobKeys(ctx context.Context, group string) ([]domain.JobKey, error) { return nil, nil }
func (s *Store) TriggerKeys(ctx context.Context, group string) ([]domain.TriggerKey, error) {
	return nil, nil
}
func (s *Store) JobGroupNames(ctx context.Context) ([]string, error)       { return nil, nil }
func (s *Store) TriggerGroupNames(ctx context.Context) ([]string, error)   { return nil, nil }
func (s *Store) PausedTriggerGroups(ctx context.Context) ([]string, error) { return nil, nil }

func (s *Store) PauseTrigger(ctx context.Context, key domain.TriggerKey) error  { return nil }
func (s *Store) ResumeTrigger(ctx context.Context, key domain.TriggerKey) error { return nil }
func (s *Store) PauseJob(ctx context.Context, key domain.JobKey) error          { return nil }
func (s *Store) ResumeJob(ctx context.Context, key domain.JobKey) error         { return nil }
func (s *Store) PauseAll(ctx context.Context) error                             { return nil }
func (s *Store) ResumeAll(ctx context.Context) error                            { return nil }

func (s *Store) ClearAllSchedulingData(ctx context.Context) error { return nil }
