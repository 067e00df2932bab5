package di

import (
	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/omarluq/gem-relay/internal/config"
	"github.com/omarluq/gem-relay/internal/proxy"
)

// ConcurrencyService wraps the concurrency limiter for DI.
type ConcurrencyService struct {
	Limiter *proxy.ConcurrencyLimiter
}

// NewConcurrencyService creates the concurrency limiter service.
// The limiter is initialized with the current config value and updated on hot-reload.
func NewConcurrencyService(i do.Injector) (*ConcurrencyService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	limiter := proxy.NewConcurrencyLimiter(int64(cfgSvc.Get().Server.MaxConcurrent))
	svc := &ConcurrencyService{Limiter: limiter}

	cfgSvc.OnReload(func(newCfg *config.Config) error {
		newLimit := int64(newCfg.Server.MaxConcurrent)
		oldLimit := limiter.GetLimit()
		if newLimit != oldLimit {
			limiter.SetLimit(newLimit)
			log.Info().
				Int64("old_limit", oldLimit).
				Int64("new_limit", newLimit).
				Msg("concurrency limit updated via hot-reload")
		}
		return nil
	})

	return svc, nil
}
