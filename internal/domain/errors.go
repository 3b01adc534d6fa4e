package domain

import "errors"

// ErrUnschedule marks a job failure after which the trigger must not fire
// again. Runners wrap it; the scheduler completes such runs with
// SET_TRIGGER_ERROR.
var ErrUnschedule = errors.New("job requested unschedule")
