package cache

import (
	"context"
	"errors"
	"time"

	"github.com/samber/ro"
)

// ErrFetchFailed is returned by GetOrFetch when the source observable
// completes without emitting a value.
var ErrFetchFailed = errors.New("cache: fetch produced no value")

// ROCache wraps a Cache with observable operations for stream-based
// callers. The models handler uses it to serve the upstream model list
// through a get-or-fetch pipeline with a fixed TTL.
type ROCache struct {
	cache Cache
	ttl   time.Duration
}

// NewROCache wraps cache; defaultTTL applies to GetOrFetch and Set.
func NewROCache(cache Cache, defaultTTL time.Duration) *ROCache {
	return &ROCache{
		cache: cache,
		ttl:   defaultTTL,
	}
}

// GetOrFetch emits the cached value for key, or subscribes to fetch,
// caches its result with the default TTL, and emits that. Cache write
// failures are ignored: a value that could not be cached is still served.
func (c *ROCache) GetOrFetch(
	ctx context.Context,
	key string,
	fetch func() ro.Observable[[]byte],
) ro.Observable[[]byte] {
	return ro.NewObservable(func(observer ro.Observer[[]byte]) ro.Teardown {
		data, err := c.cache.Get(ctx, key)
		if err == nil {
			observer.Next(data)
			observer.Complete()
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			observer.Error(err)
			return nil
		}

		var result []byte
		var emitted bool
		var fetchErr error

		fetch().Subscribe(ro.NewObserver(
			func(data []byte) {
				result = data
				emitted = true
			},
			func(err error) {
				fetchErr = err
			},
			func() {},
		))

		if fetchErr != nil {
			observer.Error(fetchErr)
			return nil
		}
		if !emitted {
			observer.Error(ErrFetchFailed)
			return nil
		}

		_ = c.cache.SetWithTTL(ctx, key, result, c.ttl)

		observer.Next(result)
		observer.Complete()
		return nil
	})
}

// Get emits the cached value or errors, ErrNotFound included.
func (c *ROCache) Get(ctx context.Context, key string) ro.Observable[[]byte] {
	return ro.NewObservable(func(observer ro.Observer[[]byte]) ro.Teardown {
		data, err := c.cache.Get(ctx, key)
		if err != nil {
			observer.Error(err)
			return nil
		}
		observer.Next(data)
		observer.Complete()
		return nil
	})
}

// Set stores a value with the default TTL and completes.
func (c *ROCache) Set(ctx context.Context, key string, value []byte) ro.Observable[struct{}] {
	return ro.NewObservable(func(observer ro.Observer[struct{}]) ro.Teardown {
		if err := c.cache.SetWithTTL(ctx, key, value, c.ttl); err != nil {
			observer.Error(err)
			return nil
		}
		observer.Complete()
		return nil
	})
}

// Invalidate removes a key and completes. Used when a config reload
// changes the credential set out from under cached upstream responses.
func (c *ROCache) Invalidate(ctx context.Context, key string) ro.Observable[struct{}] {
	return ro.NewObservable(func(observer ro.Observer[struct{}]) ro.Teardown {
		if err := c.cache.Delete(ctx, key); err != nil {
			observer.Error(err)
			return nil
		}
		observer.Complete()
		return nil
	})
}

// GetTTL returns the default TTL.
func (c *ROCache) GetTTL() time.Duration {
	return c.ttl
}

// Underlying returns the wrapped Cache for direct access.
func (c *ROCache) Underlying() Cache {
	return c.cache
}
