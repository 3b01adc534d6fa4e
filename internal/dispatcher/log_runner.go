package dispatcher

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/djlord-it/cronstore/internal/domain"
)

// ClassLog is the job class of LogRunner.
const ClassLog = "log"

// LogRunner writes one log line per firing. Useful as a smoke-test job.
type LogRunner struct {
	log zerolog.Logger
}

func NewLogRunner(log zerolog.Logger) *LogRunner {
	return &LogRunner{log: log}
}

func (r *LogRunner) Run(_ context.Context, b domain.FireBundle) error {
	ev := r.log.Info().
		Str("job", b.Job.Key.String()).
		Str("trigger", b.Trigger.Key.String()).
		Str("fire_instance", b.FireInstanceID.String()).
		Time("fired_at", b.FireTime)
	if b.ScheduledFireTime != nil {
		ev = ev.Time("scheduled_at", *b.ScheduledFireTime)
	}
	if msg, ok := b.Job.Data["message"].(string); ok {
		ev = ev.Str("message", msg)
	}
	ev.Msg("job fired")
	return nil
}
