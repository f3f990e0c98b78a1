// Package cache provides the key-value cache backends used by the
// permission engine and jail lookups. Values are opaque encoded blobs;
// callers own the encoding (in practice JSON).
package cache

import (
	"context"
	"time"
)

// Backend is the minimal cache surface. There is no compare-and-set; Set is
// not atomic with a preceding Get and callers must tolerate stale reads.
type Backend interface {
	// Get returns the value for key, or ok=false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key. ttl <= 0 means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Removing an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)
	// Close releases backend resources.
	Close() error
}
