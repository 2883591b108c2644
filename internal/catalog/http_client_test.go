package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCatalogServer serves the two lookup paths with canned payloads
func fakeCatalogServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	r := chi.NewRouter()
	r.Get("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch chi.URLParam(r, "id") {
		case "1":
			w.Write([]byte(`{"id":1,"title":"Tênis de Caminhada","price":179.9,"image":"https://img/1.jpg"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	r.Get("/stock/{id}", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch chi.URLParam(r, "id") {
		case "1":
			w.Write([]byte(`{"id":1,"amount":3}`))
		case "2":
			w.Write([]byte(`{"amount":-4}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient_GetProduct(t *testing.T) {
	var hits atomic.Int32
	srv := fakeCatalogServer(t, &hits)
	client := NewHTTPClient(srv.URL+"/", HTTPClientOptions{Timeout: time.Second})

	p, err := client.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, "Tênis de Caminhada", p.Title)
	assert.Equal(t, 179.9, p.Price)
	assert.Equal(t, 0, p.Amount)
}

func TestHTTPClient_GetStock(t *testing.T) {
	var hits atomic.Int32
	srv := fakeCatalogServer(t, &hits)
	client := NewHTTPClient(srv.URL, HTTPClientOptions{})

	s, err := client.GetStock(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Amount)

	// missing id is filled in, negative stock clamps to zero
	s, err = client.GetStock(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.ID)
	assert.Equal(t, 0, s.Amount)
}

func TestHTTPClient_NotFound(t *testing.T) {
	var hits atomic.Int32
	srv := fakeCatalogServer(t, &hits)
	client := NewHTTPClient(srv.URL, HTTPClientOptions{MaxFailures: 2})

	_, err := client.GetProduct(context.Background(), 99)
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = client.GetStock(context.Background(), 99)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestHTTPClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := fakeCatalogServer(t, &hits)
	client := NewHTTPClient(srv.URL, HTTPClientOptions{MaxFailures: 2})

	for i := 0; i < 5; i++ {
		_, err := client.GetStock(context.Background(), 42)
		require.ErrorIs(t, err, ErrProductNotFound)
	}

	s, err := client.GetStock(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Amount)
}

func TestHTTPClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := NewHTTPClient(srv.URL, HTTPClientOptions{MaxFailures: 2, OpenTimeout: time.Minute})
	ctx := context.Background()

	_, err := client.GetStock(ctx, 1)
	require.ErrorContains(t, err, "returned status 500")
	_, err = client.GetStock(ctx, 1)
	require.ErrorContains(t, err, "returned status 500")

	_, err = client.GetStock(ctx, 1)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), hits.Load(), "open breaker must not reach the server")
}

func TestHTTPClient_BadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":`))
	}))
	t.Cleanup(srv.Close)

	client := NewHTTPClient(srv.URL, HTTPClientOptions{})
	_, err := client.GetProduct(context.Background(), 1)
	require.ErrorContains(t, err, "decode catalog response")
}

func TestHTTPClient_MismatchedProductID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":5,"title":"other"}`))
	}))
	t.Cleanup(srv.Close)

	client := NewHTTPClient(srv.URL, HTTPClientOptions{})
	_, err := client.GetProduct(context.Background(), 1)
	require.Error(t, err)
}

func TestHTTPClient_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewHTTPClient(url, HTTPClientOptions{Timeout: 200 * time.Millisecond})
	_, err := client.GetStock(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProductNotFound)
}

func TestHTTPClient_CancelledCallersDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := fakeCatalogServer(t, &hits)
	client := NewHTTPClient(srv.URL, HTTPClientOptions{MaxFailures: 3, OpenTimeout: time.Minute})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		_, err := client.GetStock(cancelled, 1)
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, int32(0), hits.Load())

	s, err := client.GetStock(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Amount)
}

func TestHTTPClient_SharedLookupSurvivesFirstCallerCancel(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Write([]byte(`{"id":1,"amount":3}`))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	client := NewHTTPClient(srv.URL, HTTPClientOptions{MaxFailures: 1, OpenTimeout: time.Minute})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := client.GetStock(ctxA, 1)
		errA <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		stock int
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		s, err := client.GetStock(context.Background(), 1)
		resB <- result{s.Amount, err}
	}()
	time.Sleep(50 * time.Millisecond) // let the second caller join the in-flight lookup

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(release)
	select {
	case r := <-resB:
		require.NoError(t, r.err)
		assert.Equal(t, 3, r.stock)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
	assert.Equal(t, int32(1), hits.Load())
}
