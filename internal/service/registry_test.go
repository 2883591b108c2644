package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/catalog"
	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, st *mockStore, idleTTL time.Duration) *Registry {
	t.Helper()

	cat := catalog.NewMemoryCatalog()
	cat.SetProduct(domain.Product{ID: 1, Title: "Runner"})
	cat.SetStock(1, 10)

	r := NewRegistry("@Storefront:cart", idleTTL, Deps{
		Store:    st,
		Catalog:  cat,
		Notifier: &mockNotifier{},
	})
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegistry_Key(t *testing.T) {
	r := newTestRegistry(t, newMockStore(), 0)
	assert.Equal(t, "@Storefront:cart:abc", r.Key("abc"))
}

func TestRegistry_GetReturnsSameManager(t *testing.T) {
	r := newTestRegistry(t, newMockStore(), 0)
	ctx := context.Background()

	a, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	b, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	c, err := r.Get(ctx, "s2")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_SessionsAreIsolated(t *testing.T) {
	st := newMockStore()
	r := newTestRegistry(t, st, 0)
	ctx := context.Background()

	a, _ := r.Get(ctx, "alice")
	b, _ := r.Get(ctx, "bob")

	require.Equal(t, OutcomeUpdated, a.AddProduct(ctx, 1).Outcome)
	assert.Len(t, a.Products(), 1)
	assert.Empty(t, b.Products())

	_, err := st.MemoryStore.Get(ctx, r.Key("alice"))
	assert.NoError(t, err)
	_, err = st.MemoryStore.Get(ctx, r.Key("bob"))
	assert.Error(t, err)
}

func TestRegistry_LoadsPersistedCart(t *testing.T) {
	st := newMockStore()
	require.NoError(t, st.MemoryStore.Set(context.Background(), "@Storefront:cart:s1", `[{"id":1,"amount":2}]`))
	r := newTestRegistry(t, st, 0)

	m, err := r.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Products()[0].Amount)
}

func TestRegistry_EmptySession(t *testing.T) {
	r := newTestRegistry(t, newMockStore(), 0)

	_, err := r.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestRegistry_StoreErrorIsNotCached(t *testing.T) {
	st := newMockStore()
	st.getErr = errors.New("mongo unreachable")
	r := newTestRegistry(t, st, 0)

	_, err := r.Get(context.Background(), "s1")
	require.ErrorContains(t, err, "mongo unreachable")
	assert.Equal(t, 0, r.Len())

	st.m.Lock()
	st.getErr = nil
	st.m.Unlock()

	_, err = r.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ConcurrentFirstAccessLoadsOnce(t *testing.T) {
	st := newMockStore()
	r := newTestRegistry(t, st, 0)

	var wg sync.WaitGroup
	managers := make([]*CartManager, 20)
	for i := range managers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := r.Get(context.Background(), "same")
			assert.NoError(t, err)
			managers[i] = m
		}(i)
	}
	wg.Wait()

	for _, m := range managers {
		assert.Same(t, managers[0], m)
	}
	assert.Equal(t, 1, st.hits())
}

func TestRegistry_EvictIdle(t *testing.T) {
	st := newMockStore()
	r := newTestRegistry(t, st, time.Minute)
	ctx := context.Background()

	m, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	m.AddProduct(ctx, 1)

	assert.Equal(t, 0, r.evictIdle(time.Now()))
	assert.Equal(t, 1, r.evictIdle(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, r.Len())

	// evicted state comes back from the store
	reloaded, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	assert.NotSame(t, m, reloaded)
	assert.Equal(t, 1, reloaded.Products()[0].Amount)
}

func TestRegistry_EvictSkipsBusyManager(t *testing.T) {
	r := newTestRegistry(t, newMockStore(), time.Minute)

	m, err := r.Get(context.Background(), "busy")
	require.NoError(t, err)

	m.mu.Lock()
	assert.Equal(t, 0, r.evictIdle(time.Now().Add(time.Hour)))
	m.mu.Unlock()

	assert.Equal(t, 1, r.Len())
}

// blockingStore holds every Get until release is closed, honouring ctx
type blockingStore struct {
	*store.MemoryStore
	release chan struct{}
	gets    atomic.Int32
}

func (s *blockingStore) Get(ctx context.Context, key string) (string, error) {
	s.gets.Add(1)
	select {
	case <-s.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return s.MemoryStore.Get(ctx, key)
}

func TestRegistry_FirstCallerCancelDoesNotFailOthers(t *testing.T) {
	st := &blockingStore{MemoryStore: store.NewMemoryStore(), release: make(chan struct{})}
	require.NoError(t, st.MemoryStore.Set(context.Background(), "@Storefront:cart:s1", `[{"id":1,"amount":2}]`))

	r := NewRegistry("@Storefront:cart", 0, Deps{
		Store:       st,
		Catalog:     catalog.NewMemoryCatalog(),
		Notifier:    &mockNotifier{},
		LoadTimeout: 5 * time.Second,
	})
	t.Cleanup(func() { r.Close() })

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.Get(ctxA, "s1")
		errA <- err
	}()
	require.Eventually(t, func() bool { return st.gets.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		m   *CartManager
		err error
	}
	resB := make(chan result, 1)
	go func() {
		m, err := r.Get(context.Background(), "s1")
		resB <- result{m, err}
	}()
	time.Sleep(50 * time.Millisecond) // second caller joins the in-flight load

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(st.release)
	select {
	case res := <-resB:
		require.NoError(t, res.err)
		assert.Equal(t, 2, res.m.Products()[0].Amount)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
	assert.Equal(t, int32(1), st.gets.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_OperationsKeepManagerAlive(t *testing.T) {
	r := newTestRegistry(t, newMockStore(), time.Minute)
	ctx := context.Background()

	m, err := r.Get(ctx, "s1")
	require.NoError(t, err)

	// handed out long ago, used just now
	m.lastUsed.Store(time.Now().Add(-time.Hour).UnixNano())
	require.True(t, m.AddProduct(ctx, 1).OK())

	assert.Equal(t, 0, r.evictIdle(time.Now()))
	got, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Same(t, m, got)
}
