// Package scheduler drives periodic key pool maintenance.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is the maintenance period when none is configured.
const DefaultInterval = 30 * time.Minute

// maxStartJitter desynchronizes replicas sharing an upstream so they
// do not verify keys in lockstep. Never exceeds the interval itself.
const maxStartJitter = 2 * time.Second

// Maintainer is the slice of the key pool the scheduler drives.
// *keypool.Pool satisfies it.
type Maintainer interface {
	Maintain(ctx context.Context)
}

// Options configure the maintenance loop.
type Options struct {
	// Interval between maintenance passes. Non-positive selects
	// DefaultInterval.
	Interval time.Duration
	// Enabled gates the loop. When false, Start is a no-op.
	Enabled bool
}

// Scheduler fires pool maintenance on a jittered ticker. Start and
// Stop bracket one background goroutine; overlapping passes are the
// pool's problem, not ours.
type Scheduler struct {
	ctx      context.Context
	cancel   context.CancelFunc
	pool     Maintainer
	logger   *zerolog.Logger
	interval time.Duration
	enabled  bool
	wg       sync.WaitGroup
}

// New builds a Scheduler. The pool is required.
func New(pool Maintainer, opts Options, logger *zerolog.Logger) (*Scheduler, error) {
	if pool == nil {
		return nil, errors.New("scheduler: maintainer is required")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:      ctx,
		cancel:   cancel,
		pool:     pool,
		logger:   logger,
		interval: interval,
		enabled:  opts.Enabled,
	}, nil
}

// Start launches the maintenance loop. Calling Start on a disabled
// scheduler logs and returns without spawning anything.
func (s *Scheduler) Start() {
	if !s.enabled {
		s.logger.Info().Msg("pool maintenance disabled")
		return
	}

	jitter := cryptoRandDuration(min(maxStartJitter, s.interval))
	ticker := time.NewTicker(s.interval + jitter)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		s.logger.Info().
			Dur("interval", s.interval).
			Dur("jitter", jitter).
			Msg("pool maintenance scheduler started")

		for {
			select {
			case <-s.ctx.Done():
				s.logger.Info().Msg("pool maintenance scheduler stopped")
				return
			case <-ticker.C:
				s.pool.Maintain(s.ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for any in-flight pass to finish.
// Safe to call without Start and safe to call more than once.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// cryptoRandDuration returns a random duration in [0, maxDur).
func cryptoRandDuration(maxDur time.Duration) time.Duration {
	if maxDur <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	n := binary.LittleEndian.Uint64(b[:])
	return time.Duration(n % uint64(maxDur))
}
