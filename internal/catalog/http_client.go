package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

const maxBodySize = 1 << 20 // 1MB

type HTTPClientOptions struct {
	Timeout     time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
}

// HTTPClient talks to the catalog over plain GET requests:
// /products/{id} and /stock/{id}.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	sfg     singleflight.Group // collapses identical in-flight lookups
	timeout time.Duration
}

func NewHTTPClient(baseURL string, opts HTTPClientOptions) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		// an unknown product is a valid answer, not a sick catalog; a
		// cancelled caller says nothing about the catalog either
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrProductNotFound) || errors.Is(err, context.Canceled)
		},
	})

	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: breaker,
		timeout: opts.Timeout,
	}
}

func (c *HTTPClient) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var p domain.Product
	if err := c.fetch(ctx, fmt.Sprintf("/products/%d", id), &p); err != nil {
		return domain.Product{}, err
	}
	if p.ID == 0 {
		p.ID = id
	}
	if p.ID != id {
		return domain.Product{}, fmt.Errorf("catalog returned product %d for id %d", p.ID, id)
	}
	return p, nil
}

func (c *HTTPClient) GetStock(ctx context.Context, id int64) (domain.Stock, error) {
	var s domain.Stock
	if err := c.fetch(ctx, fmt.Sprintf("/stock/%d", id), &s); err != nil {
		return domain.Stock{}, err
	}
	if s.ID == 0 {
		s.ID = id
	}
	if s.Amount < 0 {
		s.Amount = 0
	}
	return s, nil
}

// fetch shares one request per path between concurrent callers. The shared
// request runs detached from any single caller and is bounded by the client
// timeout; each caller stops waiting when its own ctx is done.
func (c *HTTPClient) fetch(ctx context.Context, path string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := c.sfg.DoChan(path, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.breaker.Execute(func() ([]byte, error) {
			return c.get(shared, path)
		})
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res = <-ch:
	}

	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	if err := json.Unmarshal(v.([]byte), out); err != nil {
		return fmt.Errorf("decode catalog response %s: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrProductNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("catalog %s returned status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read catalog response %s: %w", path, err)
	}
	return body, nil
}
