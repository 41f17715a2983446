package cache

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidCapacity = errors.New("cache capacity must be positive")

// Loader produces the value for a key that is not resident. It is invoked at
// most once per cold key no matter how many callers are waiting on it.
type Loader[V any] interface {
	Load(ctx context.Context, key string) (V, error)
}

// LoaderFunc adapts a plain function to the Loader interface.
type LoaderFunc[V any] func(ctx context.Context, key string) (V, error)

func (f LoaderFunc[V]) Load(ctx context.Context, key string) (V, error) {
	return f(ctx, key)
}

// Options configures a Cache.
type Options struct {
	// Capacity is the maximum number of resident entries.
	Capacity int
	// TTL expires entries this long after their load completed. Zero
	// disables expiry.
	TTL time.Duration
}

// EntryInfo describes one resident entry.
type EntryInfo struct {
	Key        string    `json:"key"`
	LoadedAt   time.Time `json:"loaded_at"`
	LastAccess time.Time `json:"last_access"`
}

// Stats is a point-in-time view of the cache for dashboards and metrics.
type Stats struct {
	Capacity int
	TTL      time.Duration
	// Entries are ordered most recently used first.
	Entries []EntryInfo
	Pending int

	Hits         uint64
	Misses       uint64
	Coalesced    uint64
	Loads        uint64
	LoadFailures uint64
	Evictions    uint64
	Expirations  uint64
}
