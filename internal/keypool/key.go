// Package keypool maintains a bounded FIFO pool of recently verified
// upstream credentials.
//
// Entries carry a jittered TTL so credentials loaded together do not
// expire together. Checkout rotates entries head to tail, spreading
// usage evenly across the pool, and every eviction triggers a matching
// refill strategy so the pool converges back toward capacity without
// ever blocking a caller on upstream verification.
package keypool

import "time"

// ttlJitterPercent is the spread applied to entry TTLs at creation, as
// a percentage of the nominal TTL in each direction.
const ttlJitterPercent = 10

// PooledKey is one pool entry: a verified credential with its expiry
// and rotation usage count. Fields are guarded by the pool's checkout
// lock while the entry is live.
type PooledKey struct {
	Key        string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	UsageCount int
}

// NewPooledKey creates a fresh entry whose TTL is jittered uniformly
// within ±ttlJitterPercent of the nominal value.
func NewPooledKey(credential string, ttl time.Duration) *PooledKey {
	now := time.Now()
	return &PooledKey{
		Key:       credential,
		CreatedAt: now,
		ExpiresAt: now.Add(jitterTTL(ttl)),
	}
}

// IsExpired reports whether the entry's TTL has lapsed at now.
func (k *PooledKey) IsExpired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}

// Age returns how long the entry has been pooled as of now.
func (k *PooledKey) Age(now time.Time) time.Duration {
	return now.Sub(k.CreatedAt)
}

// RefreshTTL restarts the entry's lifetime from now with the exact
// nominal TTL, without jitter.
func (k *PooledKey) RefreshTTL(ttl time.Duration) {
	now := time.Now()
	k.CreatedAt = now
	k.ExpiresAt = now.Add(ttl)
}

// jitterTTL shifts ttl by a uniform random amount within
// ±ttlJitterPercent. TTLs too small to jitter are returned unchanged.
func jitterTTL(ttl time.Duration) time.Duration {
	span := ttl / 100 * (2 * ttlJitterPercent)
	if span <= 0 {
		return ttl
	}
	low := ttl - ttl/100*ttlJitterPercent
	return low + time.Duration(randIntn(int(span)))
}
