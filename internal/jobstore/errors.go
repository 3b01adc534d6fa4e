package jobstore

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence wraps failures to read or write the document store.
	ErrPersistence = errors.New("job persistence failure")

	// ErrObjectAlreadyExists is matched by *ObjectAlreadyExistsError.
	ErrObjectAlreadyExists = errors.New("object already exists")

	ErrJobNotFound     = errors.New("job not found")
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrNotAcquired is the error result for a trigger that was not in
	// ACQUIRED state when firing. Another node fired or released it.
	ErrNotAcquired = errors.New("trigger is not acquired")

	// ErrStaleVersion is the error result for a trigger whose firing write
	// lost the version check.
	ErrStaleVersion = errors.New("trigger changed while firing")
)

// ObjectAlreadyExistsError is returned when a create-only store finds the
// key taken.
type ObjectAlreadyExistsError struct {
	Kind string // "job" or "trigger"
	Key  string
}

func (e *ObjectAlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.Key)
}

func (e *ObjectAlreadyExistsError) Is(target error) bool {
	return target == ErrObjectAlreadyExists
}

func persistence(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrPersistence, op, key, err)
}
