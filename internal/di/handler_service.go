package di

import (
	"fmt"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/omarluq/gem-relay/internal/proxy"
)

// HandlerService wraps the fully wired HTTP handler tree.
type HandlerService struct {
	Handler http.Handler
}

// NewRelayHandler assembles the relay route tree. The key source is the
// valid key pool when enabled, otherwise plain registry rotation.
func NewRelayHandler(i do.Injector) (*HandlerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	regSvc := do.MustInvoke[*RegistryService](i)
	clsSvc := do.MustInvoke[*ClassifierService](i)
	upSvc := do.MustInvoke[*UpstreamService](i)
	poolSvc := do.MustInvoke[*KeyPoolService](i)
	engSvc := do.MustInvoke[*EngineService](i)
	cacheSvc := do.MustInvoke[*CacheService](i)
	concSvc := do.MustInvoke[*ConcurrencyService](i)
	logSvc := do.MustInvoke[*LoggerService](i)

	var keys proxy.KeySource
	if poolSvc.Pool != nil {
		keys = poolSvc.Pool
	} else {
		keys = proxy.NewRegistryKeySource(regSvc.Registry, clsSvc.Classifier)
	}

	handler, err := proxy.SetupRoutes(&proxy.RoutesOptions{
		ConfigProvider: cfgSvc.Runtime(),
		Registry:       regSvc.Registry,
		Keys:           keys,
		Upstream:       upSvc.Client,
		Engine:         engSvc.Engine,
		Classifier:     clsSvc.Classifier,
		Pool:           poolSvc.Pool,
		ModelsCache:    cacheSvc.ModelsCache,
		Limiter:        concSvc.Limiter,
		Logger:         logSvc.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build routes: %w", err)
	}

	return &HandlerService{Handler: handler}, nil
}
