// Package ratelimit provides pacing primitives for upstream-facing work.
//
// Two styles are available:
//   - Pacer, a token bucket on golang.org/x/time/rate, for synchronous
//     loops that must hold a steady rate and never skip work
//     (maintenance top-ups, bulk credential checks).
//   - Limit and LimitGlobal, reactive stream limiting via the samber/ro
//     ratelimit plugin, for advisory event streams where excess items
//     may be shed or deferred (pool refill triggers).
package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrContextCancelled is returned when a context is canceled during a
// blocking wait.
var ErrContextCancelled = errors.New("ratelimit: context canceled")

// DefaultPaceInterval is applied when a Pacer is created with a
// non-positive interval.
const DefaultPaceInterval = time.Second

// Pacer enforces a steady rate on a loop of calls. The zero value is
// not usable; construct with NewPacer. Safe for concurrent use.
type Pacer struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewPacer creates a Pacer allowing one call per interval, with up to
// burst calls available immediately. Non-positive intervals fall back
// to DefaultPaceInterval and non-positive bursts to 1.
func NewPacer(interval time.Duration, burst int) *Pacer {
	if interval <= 0 {
		interval = DefaultPaceInterval
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{
		limiter:  rate.NewLimiter(rate.Every(interval), burst),
		interval: interval,
	}
}

// Wait blocks until the next call is allowed or the context is
// canceled. A deadline too close to ever admit the next call fails
// immediately, before ctx.Err() turns non-nil, so every limiter error
// is reported as ErrContextCancelled rather than only those observed
// after cancellation.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		// With burst >= 1 enforced in NewPacer, the limiter only
		// fails for context reasons.
		return ErrContextCancelled
	}
	return nil
}

// Allow reports whether a call may proceed right now without waiting.
func (p *Pacer) Allow() bool {
	return p.limiter.Allow()
}

// Interval returns the configured pace interval.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}
