package di

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/do/v2"

	"github.com/omarluq/gem-relay/internal/cache"
)

// modelsCatalogTTL bounds how stale the cached upstream model catalog
// may get. The catalog changes rarely; an hour keeps admin-triggered
// invalidation meaningful without hammering upstream.
const modelsCatalogTTL = time.Hour

// CacheService wraps the cache backend plus the read-optimized view the
// model catalog endpoint uses. ModelsCache is nil when caching is
// disabled; the catalog route is then not registered.
type CacheService struct {
	Cache       cache.Cache
	ModelsCache *cache.ROCache
}

// NewCache creates the cache based on configuration.
func NewCache(i do.Injector) (*CacheService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	cacheCfg := cfgSvc.Get().Cache
	if cacheCfg.Mode == "" {
		cacheCfg.Mode = cache.ModeDisabled
	}

	// Use a background context with timeout for cache initialization
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := cache.New(ctx, cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	svc := &CacheService{Cache: c}
	if cacheCfg.Mode != cache.ModeDisabled {
		svc.ModelsCache = cache.NewROCache(c, modelsCatalogTTL)
	}

	return svc, nil
}

// Shutdown implements do.Shutdowner for graceful cache cleanup.
func (c *CacheService) Shutdown() error {
	if c.Cache != nil {
		return c.Cache.Close()
	}
	return nil
}
