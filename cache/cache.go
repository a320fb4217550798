package cache

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for cache operations.
var (
	ErrNilCache   = errors.New("cache: cache is nil")
	ErrInvalidKey = errors.New("cache: key is empty")

	// ErrMissingDir indicates a disk-backed strategy was configured without a directory.
	ErrMissingDir = errors.New("cache: directory is required for disk and hybrid strategies")

	// ErrUnknownStrategy indicates a strategy name other than memory, disk or hybrid.
	ErrUnknownStrategy = errors.New("cache: unknown strategy")

	// ErrCorruptRecord indicates an on-disk record could not be read or decoded.
	ErrCorruptRecord = errors.New("cache: corrupt record")
)

// Cache is the interface shared by every cache in this package.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: methods should honor cancellation/deadlines where applicable.
//   - Errors: Get never errors; it returns (nil, false) on miss. Set and Delete
//     only report invalid keys, never storage failures.
type Cache interface {
	// Get retrieves a cached value. Returns (nil, false) on miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value. ttl <= 0 selects the cache's default TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a cached value. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error
}

// ValidateKey rejects the empty key. Any other string is a valid key: the
// disk tier names files by a hash of the key, never by the key itself.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}
