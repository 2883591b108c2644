package catalog

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
)

// Client is the read-only view of the remote catalog the cart depends on.
type Client interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	GetStock(ctx context.Context, id int64) (domain.Stock, error)
}

var (
	ErrProductNotFound = errors.New("product not found")
	ErrUnavailable     = errors.New("catalog unavailable")
)
