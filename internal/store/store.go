package store

import (
	"context"
	"errors"
)

// KVStore persists one string value per key. Implementations must be safe
// for concurrent use.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Ping(ctx context.Context) error
	Close() error
}

var ErrNotFound = errors.New("key not found")
