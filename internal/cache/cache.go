// Package cache provides the caching layer for gem-relay.
//
// The relay caches slow-changing upstream data, most prominently the model
// list served from /v1beta/models, behind a single Cache interface with
// three backends:
//   - Single mode (Ristretto): local in-memory cache for one relay instance
//   - HA mode (Olric): distributed cache shared by a relay cluster
//   - Disabled mode (Noop): passthrough when caching is off
//
// All implementations are safe for concurrent use.
//
//	c, err := cache.New(ctx, cache.Config{
//		Mode:      cache.ModeSingle,
//		Ristretto: cache.DefaultRistrettoConfig(),
//	})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	err = c.SetWithTTL(ctx, "models", payload, time.Hour)
//	data, err := c.Get(ctx, "models")
//	if errors.Is(err, cache.ErrNotFound) {
//		// miss
//	}
package cache

import (
	"context"
	"time"
)

// Cache is the interface every backend implements.
// All implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves a value. Returns ErrNotFound when the key does not
	// exist and ErrClosed after Close.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with no expiration.
	Set(ctx context.Context, key string, value []byte) error

	// SetWithTTL stores a value that expires after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases backend resources. Afterwards all operations
	// return ErrClosed. Close is idempotent.
	Close() error
}

// Stats provides cache statistics for the admin status surface.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	KeyCount  uint64 `json:"key_count"`
	BytesUsed uint64 `json:"bytes_used"`
	Evictions uint64 `json:"evictions"`
}

// StatsProvider is implemented by backends that track statistics.
//
//	if sp, ok := c.(cache.StatsProvider); ok {
//		stats := sp.Stats()
//	}
type StatsProvider interface {
	Stats() Stats
}

// Pinger is implemented by backends with a meaningful connectivity check.
// Local backends always report healthy; the distributed backend validates
// cluster reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
