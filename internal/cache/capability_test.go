package cache_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/cache"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/fhirsource"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string][]byte{}}
}

func (f *fakeStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.data[key]
	return val, ok, nil
}

func (f *fakeStore) Put(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeStore) Invalidate(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

type fakeCapabilitySource struct {
	calls int
	cs    fhirsource.CapabilityStatement
	err   error
}

func (f *fakeCapabilitySource) Capability(ctx context.Context) (fhirsource.CapabilityStatement, error) {
	f.calls++
	return f.cs, f.err
}

func TestCachedCapabilitySource_CachesAfterFirstFetch(t *testing.T) {
	cs := fhirsource.CapabilityStatement{}
	cs.Rest = append(cs.Rest, struct {
		Resource []struct {
			Type        string `json:"type"`
			Interaction []struct {
				Code string `json:"code"`
			} `json:"interaction"`
		} `json:"resource"`
	}{})

	source := &fakeCapabilitySource{cs: cs}
	store := newFakeStore()
	wrapped := cache.WrapCapability(source, store, "dir-1")

	_, err := wrapped.Capability(context.Background())
	require.NoError(t, err)
	_, err = wrapped.Capability(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, source.calls, "second call must be served from cache, not the underlying source")
}

func TestCachedCapabilitySource_PropagatesUnderlyingError(t *testing.T) {
	source := &fakeCapabilitySource{err: assert.AnError}
	store := newFakeStore()
	wrapped := cache.WrapCapability(source, store, "dir-1")

	_, err := wrapped.Capability(context.Background())
	assert.Error(t, err)
}

func TestCachedCapabilitySource_DistinctDirectoriesDoNotShareCacheEntries(t *testing.T) {
	source := &fakeCapabilitySource{cs: fhirsource.CapabilityStatement{}}
	store := newFakeStore()

	wrappedA := cache.WrapCapability(source, store, "dir-a")
	wrappedB := cache.WrapCapability(source, store, "dir-b")

	_, err := wrappedA.Capability(context.Background())
	require.NoError(t, err)
	_, err = wrappedB.Capability(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, source.calls, "each directory's capability statement must be fetched and cached independently")
}
