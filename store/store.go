package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// Store is the shared key/value backend all components coordinate through.
// No component keeps authoritative state outside it, which is what lets the
// layer survive restarts and run across multiple server instances.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key. A ttl of 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX writes value only if key does not already exist.
	// Returns true if the write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Incr atomically increments the counter at key and returns the new
	// value. The ttl is applied when the counter is first created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// AddToSet adds member to the set at key and returns the set size.
	// The ttl is refreshed on every add.
	AddToSet(ctx context.Context, key, member string, ttl time.Duration) (int64, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Ping checks backend liveness.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
