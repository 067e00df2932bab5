package di

import "github.com/samber/do/v2"

// RegisterSingletons registers all service providers as singletons.
// Services are registered in dependency order:
// 1. Config (no dependencies)
// 2. Logger (depends on Config)
// 3. Cache (depends on Config)
// 4. Registry (depends on Config, Logger)
// 5. Classifier (depends on Registry, Logger)
// 6. Upstream (depends on Config, Logger)
// 7. KeyPool (depends on Registry, Classifier, Upstream)
// 8. Engine (depends on Upstream, Config)
// 9. Scheduler (depends on KeyPool, Config)
// 10. Concurrency (depends on Config) - global request limiter
// 11. Handler (depends on all above services)
// 12. Server (depends on Handler, Config).
func RegisterSingletons(i do.Injector) {
	do.Provide(i, NewConfig)
	do.Provide(i, NewLogger)
	do.Provide(i, NewCache)
	do.Provide(i, NewRegistry)
	do.Provide(i, NewClassifier)
	do.Provide(i, NewUpstream)
	do.Provide(i, NewKeyPool)
	do.Provide(i, NewEngine)
	do.Provide(i, NewScheduler)
	do.Provide(i, NewConcurrencyService)
	do.Provide(i, NewRelayHandler)
	do.Provide(i, NewHTTPServer)
}
