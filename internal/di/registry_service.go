package di

import (
	"github.com/samber/do/v2"

	"github.com/omarluq/gem-relay/internal/config"
	"github.com/omarluq/gem-relay/internal/registry"
)

// RegistryService wraps the credential registry for DI.
type RegistryService struct {
	Registry *registry.Registry
}

// credentialList flattens the configured credential sources into the
// registry's seed order. Vertex express keys trail the plain API keys so
// round-robin exhausts the cheaper pool first.
func credentialList(cfg *config.Config) []string {
	keys := make([]string, 0, len(cfg.Keys.APIKeys)+len(cfg.Keys.VertexAPIKeys))
	keys = append(keys, cfg.Keys.APIKeys...)
	keys = append(keys, cfg.Keys.VertexAPIKeys...)
	return keys
}

// NewRegistry creates the credential registry from configuration and
// subscribes it to config hot-reload. A reload resets the credential set
// while preserving failure counts and cooldowns for surviving keys.
func NewRegistry(i do.Injector) (*RegistryService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)

	cfg := cfgSvc.Get()
	reg := registry.New(credentialList(cfg), registry.Options{
		MaxFailures:    cfg.Keys.GetEffectiveMaxFailures(),
		QuotaResetHour: cfg.Keys.QuotaResetHour,
		Timezone:       cfg.Keys.GetEffectiveTimezone(),
	}, logSvc.Logger)

	svc := &RegistryService{Registry: reg}

	cfgSvc.OnReload(func(newCfg *config.Config) error {
		reg.ResetAll(credentialList(newCfg), true)
		return nil
	})

	return svc, nil
}
