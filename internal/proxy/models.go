// Package proxy implements the HTTP relay server for gem-relay.
package proxy

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/samber/ro"

	"github.com/omarluq/gem-relay/internal/cache"
	"github.com/omarluq/gem-relay/internal/gemini"
)

// modelsCacheKey is the cache key for the upstream model catalog.
const modelsCacheKey = "models"

// modelLister fetches the upstream model catalog. *gemini.Client satisfies it.
type modelLister interface {
	ListModels(ctx context.Context, apiKey string) ([]byte, error)
}

// keySource picks a credential for catalog fetches. *registry.Registry
// satisfies it.
type keySource interface {
	GetRandomValidKey() string
}

// ModelsHandler serves the upstream model catalog through a get-or-fetch
// cache pipeline, so one fetch covers all clients until the TTL expires.
type ModelsHandler struct {
	upstream modelLister
	keys     keySource
	cache    *cache.ROCache
	logger   *zerolog.Logger
}

// NewModelsHandler creates a models handler backed by roCache. The
// cache's default TTL bounds catalog staleness.
func NewModelsHandler(
	upstream modelLister,
	keys keySource,
	roCache *cache.ROCache,
	logger *zerolog.Logger,
) *ModelsHandler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ModelsHandler{
		upstream: upstream,
		keys:     keys,
		cache:    roCache,
		logger:   logger,
	}
}

// ServeHTTP handles GET /v1beta/models requests.
func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	fetch := func() ro.Observable[[]byte] {
		return ro.NewObservable(func(observer ro.Observer[[]byte]) ro.Teardown {
			apiKey := h.keys.GetRandomValidKey()
			payload, err := h.upstream.ListModels(ctx, apiKey)
			if err != nil {
				observer.Error(err)
				return nil
			}
			observer.Next(payload)
			observer.Complete()
			return nil
		})
	}

	var payload []byte
	var fetchErr error
	h.cache.GetOrFetch(ctx, modelsCacheKey, fetch).Subscribe(ro.NewObserver(
		func(data []byte) { payload = data },
		func(err error) { fetchErr = err },
		func() {},
	))

	if fetchErr != nil {
		h.logger.Error().Err(fetchErr).Msg("model catalog fetch failed")
		var apiErr *gemini.APIError
		if errors.As(fetchErr, &apiErr) {
			WriteAPIError(w, apiErr)
			return
		}
		WriteError(w, http.StatusBadGateway, "UNAVAILABLE",
			"upstream model catalog unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	//nolint:errcheck // Response is already committed with status code
	w.Write(payload)
}
