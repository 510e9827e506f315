package cache

import (
	"context"
	"time"
)

// Cache defines the interface for price payload caching with freshness bounds.
// Values are opaque byte payloads (typically raw JSON bodies) stamped with a
// write time. A "fresh" read and a "stale" read differ only in the maximum
// acceptable age; stale reads are the degraded-mode fallback when live
// fetches fail.
type Cache interface {
	// Set stores a value under key, stamping it with the current time
	Set(ctx context.Context, key string, value []byte) error

	// Get returns the value if it was written within maxAge
	Get(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool)

	// GetStale returns the value if it was written within maxStale.
	// Used as a last-resort fallback with a larger threshold than Get.
	GetStale(ctx context.Context, key string, maxStale time.Duration) ([]byte, bool)

	// Remove deletes a single entry
	Remove(ctx context.Context, key string) error

	// Clear deletes all entries
	Clear(ctx context.Context) error

	// Close releases the cache resources
	Close() error

	// IsConnected returns true if the cache backend is available
	IsConnected() bool
}
