package di

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/omarluq/gem-relay/internal/config"
	"github.com/omarluq/gem-relay/internal/keypool"
)

// KeyPoolService wraps the valid key pool. Pool is nil when the pool is
// disabled in configuration; the relay then falls back to plain registry
// round-robin.
type KeyPoolService struct {
	Pool *keypool.Pool
}

// NewKeyPool creates the valid key pool when enabled and wires it into
// the registry's eviction hook so retired credentials leave the pool
// immediately.
func NewKeyPool(i do.Injector) (*KeyPoolService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	regSvc := do.MustInvoke[*RegistryService](i)
	clsSvc := do.MustInvoke[*ClassifierService](i)
	upSvc := do.MustInvoke[*UpstreamService](i)
	logSvc := do.MustInvoke[*LoggerService](i)

	cfg := cfgSvc.Get()
	if !cfg.Pool.Enabled {
		return &KeyPoolService{}, nil
	}

	pool, err := keypool.New(regSvc.Registry, upSvc.Client, clsSvc.Classifier, poolOptions(cfg), logSvc.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create key pool: %w", err)
	}

	regSvc.Registry.SetPoolEvictor(func(credential string) {
		pool.RemoveKey(credential)
	})

	svc := &KeyPoolService{Pool: pool}

	// The registry callback registered before this one already reset the
	// credential set. Limits swap first so the restore honors the new
	// capacity; the snapshot then re-admits only entries whose credential
	// survived, keeping usage counts and deadlines intact.
	cfgSvc.OnReload(func(newCfg *config.Config) error {
		pool.Reconfigure(poolOptions(newCfg))
		snapshot := pool.SnapshotEntries()
		pool.Clear()
		restored := pool.RestoreEntries(snapshot)
		log.Info().
			Int("snapshot", len(snapshot)).
			Int("restored", restored).
			Msg("key pool rebuilt after config reload")
		return nil
	})

	return svc, nil
}

// poolOptions resolves the pool limits from configuration. Used at
// construction and again on every reload.
func poolOptions(cfg *config.Config) keypool.Options {
	return keypool.Options{
		Size:                    cfg.Pool.GetEffectiveSize(),
		MinThreshold:            cfg.Pool.GetEffectiveMinThreshold(),
		EmergencyRefillCount:    cfg.Pool.GetEffectiveEmergencyRefillCount(),
		ConcurrentVerifications: cfg.Pool.GetEffectiveConcurrentVerifications(),
		KeyTTL:                  cfg.Pool.GetKeyTTL(),
		ProModels:               cfg.Pool.ProModels,
		ProModelMaxUsage:        cfg.Pool.GetEffectiveProModelMaxUsage(),
		NonProModelMaxUsage:     cfg.Pool.GetEffectiveNonProModelMaxUsage(),
		TestModel:               cfg.Pool.GetEffectiveTestModel(),
	}
}

// Shutdown implements do.Shutdowner for graceful pool cleanup.
func (k *KeyPoolService) Shutdown() error {
	if k.Pool != nil {
		return k.Pool.Close()
	}
	return nil
}
