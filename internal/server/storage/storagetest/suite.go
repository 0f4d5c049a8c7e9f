// Package storagetest holds the behavioural checks every storage.Store
// backend must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dmitrijs2005/levelstore/internal/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) storage.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("PutGetRoundTrip", func(t *testing.T) { testPutGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("PutOverwrites", func(t *testing.T) { testOverwrite(t, newStore(t)) })
	t.Run("PutWithoutNamespace", func(t *testing.T) { testNoNamespace(t, newStore(t)) })
	t.Run("EnsureNamespaceIdempotent", func(t *testing.T) { testEnsureIdempotent(t, newStore(t)) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ListSortedAndIsolated", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("InvalidNames", func(t *testing.T) { testInvalidNames(t, newStore(t)) })
	t.Run("ValueIsCopied", func(t *testing.T) { testValueCopied(t, newStore(t)) })
	t.Run("ConcurrentPutsDistinctKeys", func(t *testing.T) { testConcurrent(t, newStore(t)) })
}

func testPutGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureNamespace(ctx, "projects"))
	require.NoError(t, s.Put(ctx, "projects", "p1", []byte(`{"objects":[]}`)))

	got, err := s.Get(ctx, "projects", "p1")
	require.NoError(t, err)
	assert.Equal(t, `{"objects":[]}`, string(got))
}

func testGetMissing(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.Get(ctx, "never-created", "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.EnsureNamespace(ctx, "projects"))
	_, err = s.Get(ctx, "projects", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testOverwrite(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureNamespace(ctx, "projects"))
	require.NoError(t, s.Put(ctx, "projects", "p1", []byte("v1")))
	require.NoError(t, s.Put(ctx, "projects", "p1", []byte("v2")))

	got, err := s.Get(ctx, "projects", "p1")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
}

func testNoNamespace(t *testing.T, s storage.Store) {
	err := s.Put(context.Background(), "ghost", "k", []byte("v"))
	assert.ErrorIs(t, err, storage.ErrNoNamespace)
}

func testEnsureIdempotent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureNamespace(ctx, "users"))
	require.NoError(t, s.Put(ctx, "users", "u1", []byte("alice")))
	require.NoError(t, s.EnsureNamespace(ctx, "users"))

	got, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", string(got), "re-ensuring must not wipe data")
}

func testDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureNamespace(ctx, "sessions"))
	require.NoError(t, s.Put(ctx, "sessions", "t1", []byte("x")))

	require.NoError(t, s.Delete(ctx, "sessions", "t1"))
	require.NoError(t, s.Delete(ctx, "sessions", "t1"))
	require.NoError(t, s.Delete(ctx, "sessions", "never"))

	_, err := s.Get(ctx, "sessions", "t1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testList(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureNamespace(ctx, "a"))
	require.NoError(t, s.EnsureNamespace(ctx, "b"))

	for _, k := range []string{"k3", "k1", "k2"} {
		require.NoError(t, s.Put(ctx, "a", k, []byte(k)))
	}
	require.NoError(t, s.Put(ctx, "b", "other", []byte("x")))

	keys, err := s.List(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2", "k3"}, keys)

	again, err := s.List(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, keys, again, "listing must be stable")

	empty, err := s.List(ctx, "never-created")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testInvalidNames(t *testing.T, s storage.Store) {
	ctx := context.Background()
	assert.ErrorIs(t, s.EnsureNamespace(ctx, "../escape"), storage.ErrInvalidName)

	require.NoError(t, s.EnsureNamespace(ctx, "ok"))
	assert.ErrorIs(t, s.Put(ctx, "ok", "a/b", []byte("x")), storage.ErrInvalidName)
	_, err := s.Get(ctx, "ok", ".hidden")
	assert.ErrorIs(t, err, storage.ErrInvalidName)
}

func testValueCopied(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureNamespace(ctx, "ns"))

	v := []byte("original")
	require.NoError(t, s.Put(ctx, "ns", "k", v))
	copy(v, "mutated!")

	got, err := s.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}

func testConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureNamespace(ctx, "ns"))

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%02d", i)
			if err := s.Put(ctx, "ns", key, []byte(key)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent put: %v", err)
	}

	keys, err := s.List(ctx, "ns")
	require.NoError(t, err)
	assert.Len(t, keys, n)
}
