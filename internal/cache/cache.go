// Package cache is the hot byte cache fronting provider API calls. It is an
// optimization layer only; every user degrades gracefully when it errors.
package cache

import (
	"context"
	"time"
)

// Cache stores serialized provider responses with a TTL.
type Cache interface {
	// Get returns the cached value, or nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Health reports backend reachability.
	Health(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

// Error wraps a cache operation failure with its key.
type Error struct {
	Operation string
	Key       string
	Err       error
}

func (e *Error) Error() string {
	return "cache " + e.Operation + " failed for key '" + e.Key + "': " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
