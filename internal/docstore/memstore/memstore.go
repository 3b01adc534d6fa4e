// Package memstore is an in-process docstore.Client. Writes are atomic per
// document under a single mutex. The search index can be made to lag
// behind writes to reproduce the weakly consistent search of a real
// document store.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/djlord-it/cronstore/internal/docstore"
)

type entry struct {
	version docstore.Version
	body    json.RawMessage
}

// Store holds documents per collection.
type Store struct {
	mu          sync.Mutex
	docs        map[string]map[string]entry
	index       map[string]map[string]entry
	deleted     map[string]map[string]docstore.Version // last version of deleted ids
	manualIndex bool
	onGet       func(collection, id string)
}

// Option configures a Store.
type Option func(*Store)

// WithManualRefresh makes Search read from an index that only catches up
// with writes when Refresh is called.
func WithManualRefresh() Option {
	return func(s *Store) { s.manualIndex = true }
}

// WithGetHook runs fn after every Get has read its document and before it
// returns, outside the store lock. Tests use it to interleave writers.
func WithGetHook(fn func(collection, id string)) Option {
	return func(s *Store) { s.onGet = fn }
}

func New(opts ...Option) *Store {
	s := &Store{
		docs:    make(map[string]map[string]entry),
		index:   make(map[string]map[string]entry),
		deleted: make(map[string]map[string]docstore.Version),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh copies the current documents into the search index.
func (s *Store) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = make(map[string]map[string]entry, len(s.docs))
	for c, docs := range s.docs {
		cp := make(map[string]entry, len(docs))
		for id, e := range docs {
			cp[id] = e
		}
		s.index[c] = cp
	}
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}

	s.mu.Lock()
	e, ok := s.docs[collection][id]
	s.mu.Unlock()

	if s.onGet != nil {
		s.onGet(collection, id)
	}

	if !ok {
		return docstore.Document{}, nil
	}
	return docstore.Document{Found: true, Version: e.version, Source: clone(e.body)}, nil
}

func (s *Store) Put(ctx context.Context, collection, id string, body []byte, opts docstore.PutOptions) (docstore.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return docstore.PutResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.docs[collection]
	if !ok {
		docs = make(map[string]entry)
		s.docs[collection] = docs
	}

	cur, exists := docs[id]
	if exists && opts.CreateOnly {
		return docstore.PutResult{}, docstore.ErrDocumentExists
	}
	if opts.IfVersion != 0 && (!exists || cur.version != opts.IfVersion) {
		return docstore.PutResult{}, docstore.ErrVersionConflict
	}

	// Versions keep increasing across delete and re-create.
	if !exists {
		cur.version = s.deleted[collection][id]
		delete(s.deleted[collection], id)
	}
	e := entry{version: cur.version + 1, body: clone(body)}
	docs[id] = e
	if !s.manualIndex {
		s.indexLocked(collection)[id] = e
	}

	return docstore.PutResult{Created: !exists, Version: e.version}, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.docs[collection][id]
	if !ok {
		return false, nil
	}
	delete(s.docs[collection], id)
	if s.deleted[collection] == nil {
		s.deleted[collection] = make(map[string]docstore.Version)
	}
	s.deleted[collection][id] = cur.version
	if !s.manualIndex {
		delete(s.index[collection], id)
	}
	return true, nil
}

// Search returns matching hits ordered by id.
func (s *Store) Search(ctx context.Context, collection string, q docstore.Query) ([]docstore.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.index[collection]))
	snapshot := make(map[string]entry, len(s.index[collection]))
	for id, e := range s.index[collection] {
		ids = append(ids, id)
		snapshot[id] = e
	}
	s.mu.Unlock()

	sort.Strings(ids)

	var hits []docstore.Hit
	for _, id := range ids {
		e := snapshot[id]
		ok, err := q.MatchSource(e.body)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		hits = append(hits, docstore.Hit{ID: id, Version: e.version, Source: clone(e.body)})
		if q.Limit > 0 && len(hits) >= q.Limit {
			break
		}
	}
	return hits, nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[collection]), nil
}

func (s *Store) indexLocked(collection string) map[string]entry {
	idx, ok := s.index[collection]
	if !ok {
		idx = make(map[string]entry)
		s.index[collection] = idx
	}
	return idx
}

func clone(b []byte) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ docstore.Client = (*Store)(nil)
