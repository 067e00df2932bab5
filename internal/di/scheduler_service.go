package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/omarluq/gem-relay/internal/scheduler"
)

// SchedulerService wraps the pool maintenance scheduler. Scheduler is
// nil when the pool is disabled.
type SchedulerService struct {
	Scheduler *scheduler.Scheduler
}

// NewScheduler creates the maintenance scheduler over the key pool.
func NewScheduler(i do.Injector) (*SchedulerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	poolSvc := do.MustInvoke[*KeyPoolService](i)
	logSvc := do.MustInvoke[*LoggerService](i)

	if poolSvc.Pool == nil {
		return &SchedulerService{}, nil
	}

	cfg := cfgSvc.Get()
	sched, err := scheduler.New(poolSvc.Pool, scheduler.Options{
		Interval: cfg.Pool.GetMaintenanceInterval(),
		Enabled:  true,
	}, logSvc.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &SchedulerService{Scheduler: sched}, nil
}

// Start launches the maintenance loop. No-op when the pool is disabled.
func (s *SchedulerService) Start() {
	if s.Scheduler != nil {
		s.Scheduler.Start()
	}
}

// Shutdown implements do.Shutdowner; it stops the maintenance loop and
// waits for an in-flight pass to finish.
func (s *SchedulerService) Shutdown() error {
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	return nil
}
