// Reactive rate limiting over samber/ro streams.
//
// Delivery of over-rate items is implementation-defined by the plugin:
// they may be deferred or shed. Route only advisory event streams
// through these operators; loops that must complete every unit of work
// belong on Pacer.

package ratelimit

import (
	"time"

	"github.com/samber/ro"
	roratelimit "github.com/samber/ro/plugins/ratelimit/native"
)

// DefaultInterval is the rate window applied when Limit is called with
// a zero interval.
const DefaultInterval = time.Minute

func normalizeInterval(interval time.Duration) time.Duration {
	if interval == 0 {
		return DefaultInterval
	}
	return interval
}

// Limit rate-limits an observable stream, bucketing items by the key
// keyGetter extracts. Items with the same key share one bucket; an
// empty key is the shared global bucket.
func Limit[T any](
	source ro.Observable[T],
	count int64,
	interval time.Duration,
	keyGetter func(T) string,
) ro.Observable[T] {
	return ro.Pipe1(
		source,
		roratelimit.NewRateLimiter[T](count, normalizeInterval(interval), keyGetter),
	)
}

// LimitGlobal rate-limits all items in the stream through one shared
// bucket.
func LimitGlobal[T any](source ro.Observable[T], count int64, interval time.Duration) ro.Observable[T] {
	return Limit(source, count, interval, func(_ T) string { return "" })
}
