// Package docstore defines the document store the job store coordinates
// through. The only mutual-exclusion primitive it offers is a per-document
// version check on write: Get returns a version, and a Put conditioned on
// that version fails with ErrVersionConflict if anyone wrote in between.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrTransport wraps network failures, timeouts and unexpected
	// responses. Callers decide whether to retry.
	ErrTransport = errors.New("document store transport failure")

	// ErrVersionConflict is returned by a conditional Put whose expected
	// version is stale.
	ErrVersionConflict = errors.New("document version conflict")

	// ErrDocumentExists is returned by a create-only Put on an id that is
	// already taken.
	ErrDocumentExists = errors.New("document already exists")
)

// Version is the store's revision counter for a document. Zero means
// "unknown" and is never sent as a condition.
type Version int64

// Document is the result of a Get.
type Document struct {
	Found   bool
	Version Version
	Source  json.RawMessage
}

// PutOptions condition a write.
type PutOptions struct {
	// IfVersion, when non-zero, makes the write fail with
	// ErrVersionConflict unless the stored version still equals it.
	IfVersion Version

	// CreateOnly makes the write fail with ErrDocumentExists if the id is
	// already taken.
	CreateOnly bool
}

// PutResult reports whether the write created a new document and the
// version it was stored under.
type PutResult struct {
	Created bool
	Version Version
}

// Hit is one search result. Source is the indexed copy and may lag behind
// the document itself.
type Hit struct {
	ID      string
	Version Version
	Source  json.RawMessage
}

// Client is the document store as seen by the job store.
type Client interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Put(ctx context.Context, collection, id string, body []byte, opts PutOptions) (PutResult, error)
	Delete(ctx context.Context, collection, id string) (bool, error)
	Search(ctx context.Context, collection string, q Query) ([]Hit, error)
	Count(ctx context.Context, collection string) (int, error)
}
