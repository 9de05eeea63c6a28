package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key doesn't exist or has expired.
var ErrNotFound = errors.New("key not found")

// KV abstracts the key-value store shared by sessions, cursor tokens and
// reply markers. Implementations must be safe for concurrent use.
type KV interface {
	// Get retrieves the value for a key.
	// Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Keys returns all keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}
