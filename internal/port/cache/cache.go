// Package cache defines the port interface for the shared response store
// that backs the in-process response cache.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. Keys are response
// fingerprints; values are encoded responses. A found=false result with a nil
// error is a plain miss; a non-nil error means the backend is unreachable.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
