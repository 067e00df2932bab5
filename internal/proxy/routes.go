// Package proxy implements the HTTP relay server for gem-relay.
package proxy

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/omarluq/gem-relay/internal/cache"
	"github.com/omarluq/gem-relay/internal/classifier"
	"github.com/omarluq/gem-relay/internal/config"
	"github.com/omarluq/gem-relay/internal/gemini"
	"github.com/omarluq/gem-relay/internal/keypool"
	"github.com/omarluq/gem-relay/internal/registry"
	"github.com/omarluq/gem-relay/internal/stream"
)

// RoutesOptions carries everything SetupRoutes wires together. Pool and
// ModelsCache may be nil; the matching endpoints then degrade (pool
// endpoints answer 400, the catalog route is not registered).
type RoutesOptions struct {
	ConfigProvider config.RuntimeConfig
	Registry       *registry.Registry
	Keys           KeySource
	Upstream       *gemini.Client
	Engine         *stream.Engine
	Classifier     *classifier.Classifier
	Pool           *keypool.Pool
	ModelsCache    *cache.ROCache
	Limiter        *ConcurrencyLimiter
	Logger         *zerolog.Logger
}

// SetupRoutes builds the full relay handler.
// Routes:
//   - POST /v1beta/models/{model} - generate or stream (model:verb path value)
//   - GET  /v1beta/models - cached upstream model catalog
//   - GET  /health - liveness plus upstream breaker state
//   - /api/keys/... - admin key management, bearer cookie or header auth
func SetupRoutes(opts *RoutesOptions) (http.Handler, error) {
	if opts == nil {
		return nil, errors.New("proxy: routes options are required")
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	generate, err := NewGenerateHandler(
		opts.ConfigProvider, opts.Keys, opts.Registry, opts.Upstream, opts.Engine, logger)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	// Middleware order: request ID first so every later log line carries
	// it, then logging, then admission control.
	base := func(h http.Handler) http.Handler {
		return RequestIDMiddleware()(LoggingMiddleware()(h))
	}

	var generateHandler http.Handler = generate
	generateHandler = MaxBodyBytesMiddleware(func() int64 {
		if opts.ConfigProvider != nil {
			if cfg := opts.ConfigProvider.Get(); cfg != nil {
				return cfg.Server.MaxBodyBytes
			}
		}
		return 0
	})(generateHandler)
	if opts.Limiter != nil {
		generateHandler = ConcurrencyMiddleware(opts.Limiter)(generateHandler)
	}
	mux.Handle("POST /v1beta/models/{model}", base(generateHandler))

	if opts.ModelsCache != nil {
		models := NewModelsHandler(opts.Upstream, opts.Registry, opts.ModelsCache, logger)
		mux.Handle("GET /v1beta/models", base(models))
	}

	// A typed nil must not become a non-nil interface, or the admin
	// handler would call through it.
	var pool adminPool
	if opts.Pool != nil {
		pool = opts.Pool
	}
	admin := NewAdminHandler(
		opts.ConfigProvider, opts.Registry, pool, opts.Upstream, opts.Classifier, logger)
	adminGuard := func(h http.Handler) http.Handler {
		return base(AdminAuthMiddleware(opts.ConfigProvider)(h))
	}
	admin.RegisterRoutes(mux, adminGuard)

	mux.Handle("GET /health", base(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthStatus{
			Status:  "ok",
			Breaker: opts.Upstream.BreakerState().String(),
		})
	})))

	return mux, nil
}

type healthStatus struct {
	Status  string `json:"status"`
	Breaker string `json:"breaker"`
}
