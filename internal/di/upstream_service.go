package di

import (
	"github.com/samber/do/v2"

	"github.com/omarluq/gem-relay/internal/gemini"
)

// UpstreamService wraps the Gemini API client for DI.
type UpstreamService struct {
	Client *gemini.Client
}

// NewUpstream creates the Gemini client from configuration. The client
// carries the upstream circuit breaker, so one instance serves both the
// request path and pool verification.
func NewUpstream(i do.Injector) (*UpstreamService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)

	cfg := cfgSvc.Get()
	client := gemini.NewClient(gemini.Options{
		BaseURL:   cfg.Upstream.GetEffectiveBaseURL(),
		Timeout:   cfg.Upstream.GetTimeoutOption().OrElse(0),
		TestModel: cfg.Pool.GetEffectiveTestModel(),
		Breaker:   cfg.Upstream.Breaker,
	}, logSvc.Logger)

	return &UpstreamService{Client: client}, nil
}
