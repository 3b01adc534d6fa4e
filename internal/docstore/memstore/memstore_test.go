package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/cronstore/internal/docstore"
)

func TestStore_PutGetVersions(t *testing.T) {
	ctx := context.Background()
	s := New()

	res, err := s.Put(ctx, "trigger", "G.T", []byte(`{"state":0}`), docstore.PutOptions{})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, docstore.Version(1), res.Version)

	doc, err := s.Get(ctx, "trigger", "G.T")
	require.NoError(t, err)
	assert.True(t, doc.Found)
	assert.Equal(t, docstore.Version(1), doc.Version)
	assert.JSONEq(t, `{"state":0}`, string(doc.Source))

	res, err = s.Put(ctx, "trigger", "G.T", []byte(`{"state":1}`), docstore.PutOptions{IfVersion: 1})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, docstore.Version(2), res.Version)

	_, err = s.Put(ctx, "trigger", "G.T", []byte(`{"state":2}`), docstore.PutOptions{IfVersion: 1})
	assert.ErrorIs(t, err, docstore.ErrVersionConflict)
}

func TestStore_CreateOnly(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Put(ctx, "job", "G.J", []byte(`{}`), docstore.PutOptions{CreateOnly: true})
	require.NoError(t, err)

	_, err = s.Put(ctx, "job", "G.J", []byte(`{}`), docstore.PutOptions{CreateOnly: true})
	assert.ErrorIs(t, err, docstore.ErrDocumentExists)
}

func TestStore_ConditionalPutOnMissingDocument(t *testing.T) {
	_, err := New().Put(context.Background(), "trigger", "G.T", []byte(`{}`), docstore.PutOptions{IfVersion: 3})
	assert.ErrorIs(t, err, docstore.ErrVersionConflict)
}

func TestStore_DeleteAndCount(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, id := range []string{"G.A", "G.B"} {
		_, err := s.Put(ctx, "job", id, []byte(`{}`), docstore.PutOptions{})
		require.NoError(t, err)
	}

	n, err := s.Count(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := s.Delete(ctx, "job", "G.A")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, "job", "G.A")
	require.NoError(t, err)
	assert.False(t, ok)

	doc, err := s.Get(ctx, "job", "G.A")
	require.NoError(t, err)
	assert.False(t, doc.Found)
}

func TestStore_RecreatedDocumentKeepsVersionsIncreasing(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Put(ctx, "trigger", "G.T", []byte(`{"state":0}`), docstore.PutOptions{})
	require.NoError(t, err)
	res, err := s.Put(ctx, "trigger", "G.T", []byte(`{"state":1}`), docstore.PutOptions{IfVersion: 1})
	require.NoError(t, err)
	require.Equal(t, docstore.Version(2), res.Version)

	ok, err := s.Delete(ctx, "trigger", "G.T")
	require.NoError(t, err)
	require.True(t, ok)

	res, err = s.Put(ctx, "trigger", "G.T", []byte(`{"state":0}`), docstore.PutOptions{CreateOnly: true})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, docstore.Version(3), res.Version)

	_, err = s.Put(ctx, "trigger", "G.T", []byte(`{"state":1}`), docstore.PutOptions{IfVersion: 1})
	assert.ErrorIs(t, err, docstore.ErrVersionConflict, "a pre-delete version must not match")
}

func TestStore_ManualRefreshLagsSearch(t *testing.T) {
	ctx := context.Background()
	s := New(WithManualRefresh())
	q := docstore.Query{Terms: []docstore.Term{{Field: "state", Values: []any{0}}}}

	_, err := s.Put(ctx, "trigger", "G.T", []byte(`{"state":0}`), docstore.PutOptions{})
	require.NoError(t, err)

	hits, err := s.Search(ctx, "trigger", q)
	require.NoError(t, err)
	assert.Empty(t, hits)

	s.Refresh()
	_, err = s.Put(ctx, "trigger", "G.T", []byte(`{"state":1}`), docstore.PutOptions{IfVersion: 1})
	require.NoError(t, err)

	hits, err = s.Search(ctx, "trigger", q)
	require.NoError(t, err)
	require.Len(t, hits, 1, "stale index should still report the waiting copy")
	assert.Equal(t, "G.T", hits[0].ID)
}

func TestStore_ConcurrentConditionalWritesOneWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Put(ctx, "trigger", "G.T", []byte(`{"state":0}`), docstore.PutOptions{})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Put(ctx, "trigger", "G.T", []byte(`{"state":1}`), docstore.PutOptions{IfVersion: 1}); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
