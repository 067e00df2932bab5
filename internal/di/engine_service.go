package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/omarluq/gem-relay/internal/stream"
)

// EngineService wraps the stream retry engine for DI.
type EngineService struct {
	Engine *stream.Engine
}

// NewEngine creates the stream retry engine over the upstream client.
func NewEngine(i do.Injector) (*EngineService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	upSvc := do.MustInvoke[*UpstreamService](i)
	logSvc := do.MustInvoke[*LoggerService](i)

	cfg := cfgSvc.Get()
	engine, err := stream.New(upSvc.Client, stream.Options{
		MaxRetries:      cfg.Stream.GetEffectiveMaxRetries(),
		RetryDelay:      cfg.Stream.GetRetryDelay(),
		SwallowThoughts: cfg.Stream.SwallowThoughtsAfterRetry,
	}, logSvc.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream engine: %w", err)
	}

	return &EngineService{Engine: engine}, nil
}
