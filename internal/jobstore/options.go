package jobstore

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Collection names in the document store.
const (
	CollectionJob     = "job"
	CollectionTrigger = "trigger"
)

// EstimatedTimeToReleaseAndAcquire is what the scheduler should budget for
// a release followed by a fresh acquisition.
const EstimatedTimeToReleaseAndAcquire = 10 * time.Millisecond

// Options configure a Store.
type Options struct {
	// InstanceID is written into claimed triggers so operators can see
	// which node holds them. Defaults to a random UUID.
	InstanceID string

	// SortCandidates orders acquisition candidates by next fire time, then
	// by priority (highest first), before claiming. When false candidates
	// are claimed in the order the store returns them.
	SortCandidates bool

	// SearchLimit caps the candidates fetched per acquisition. Zero leaves
	// it to the store.
	SearchLimit int
}

func (o Options) withDefaults() Options {
	if o.InstanceID == "" {
		o.InstanceID = uuid.NewString()
	}
	return o
}

func (o Options) validate() error {
	if o.SearchLimit < 0 {
		return errors.New("search limit must not be negative")
	}
	return nil
}
