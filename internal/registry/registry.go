// Package registry tracks upstream API credentials for the relay.
//
// The registry owns the full credential list, per-credential failure
// counts, and per-(credential, model) quota cooldowns. It provides the
// round-robin fallback selection the key pool falls back to on a miss.
// All state is guarded by a single mutex; a credential is valid exactly
// while its failure count stays below the configured maximum.
package registry

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DefaultMaxFailures is the failure count at which a credential is
// retired from the valid list.
const DefaultMaxFailures = 3

// Options configures a Registry.
type Options struct {
	// MaxFailures is the failure count that retires a credential.
	// Values <= 0 fall back to DefaultMaxFailures.
	MaxFailures int

	// QuotaResetHour is the wall-clock hour (0-23) in Timezone at which
	// per-model quotas reset.
	QuotaResetHour int

	// Timezone is the IANA zone name used for quota reset computation.
	// Unknown or empty zones fall back to UTC.
	Timezone string
}

// ResetSnapshot describes the credential delta produced by ResetAll.
type ResetSnapshot struct {
	Added   []string
	Removed []string
	Kept    []string
}

type cooldownKey struct {
	credential string
	model      string
}

// Registry is the process-wide credential registry.
// All methods are safe for concurrent use.
type Registry struct {
	mu          sync.Mutex
	all         []string
	valid       []string
	cursor      int
	failCounts  map[string]int
	cooldowns   map[cooldownKey]time.Time
	evictor     func(credential string)
	maxFailures int
	resetHour   int
	timezone    string
	logger      *zerolog.Logger
}

// New creates a Registry seeded with the given credentials.
// Duplicates are dropped; order is preserved.
func New(credentials []string, opts Options, logger *zerolog.Logger) *Registry {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	if opts.QuotaResetHour < 0 || opts.QuotaResetHour > 23 {
		opts.QuotaResetHour = 0
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	unique := lo.Uniq(credentials)
	r := &Registry{
		all:         unique,
		valid:       make([]string, len(unique)),
		failCounts:  make(map[string]int, len(unique)),
		cooldowns:   make(map[cooldownKey]time.Time),
		maxFailures: opts.MaxFailures,
		resetHour:   opts.QuotaResetHour,
		timezone:    opts.Timezone,
		logger:      logger,
	}
	copy(r.valid, unique)
	for _, credential := range unique {
		r.failCounts[credential] = 0
	}

	logger.Info().
		Int("total", len(r.all)).
		Int("max_failures", r.maxFailures).
		Msg("credential registry initialized")

	return r
}

// SetPoolEvictor registers the hook used to remove a credential from the
// valid key pool. The hook is always invoked without the registry mutex
// held.
func (r *Registry) SetPoolEvictor(fn func(credential string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictor = fn
}

// NextWorkingKey returns the next credential in round-robin order,
// skipping credentials cooling down for the given model. When every
// valid credential is cooling down it returns the cursor credential
// anyway; an empty registry returns "".
func (r *Registry) NextWorkingKey(model string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.valid)
	if n == 0 {
		return ""
	}
	if r.cursor >= n {
		r.cursor = 0
	}
	start := r.cursor
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		credential := r.valid[idx]
		if !r.coolingDownLocked(credential, model) {
			r.cursor = (idx + 1) % n
			return credential
		}
	}

	// Every valid credential is cooling down for this model; hand out
	// the cursor credential regardless.
	credential := r.valid[start]
	r.cursor = (start + 1) % n
	return credential
}

// NextKey returns the credential immediately following current in the
// valid list, wrapping at the end. An unknown current falls back to
// round-robin selection.
func (r *Registry) NextKey(current string) string {
	r.mu.Lock()
	idx := lo.IndexOf(r.valid, current)
	if idx >= 0 {
		next := r.valid[(idx+1)%len(r.valid)]
		r.mu.Unlock()
		return next
	}
	r.mu.Unlock()
	return r.NextWorkingKey("")
}

// MarkFailed retires a credential immediately: its failure count jumps
// to the maximum, it leaves the valid list, and any pool entry is
// evicted.
func (r *Registry) MarkFailed(credential string) {
	r.mu.Lock()
	if _, known := r.failCounts[credential]; !known {
		r.mu.Unlock()
		return
	}
	r.failCounts[credential] = r.maxFailures
	r.rebuildValidLocked()
	evictor := r.evictor
	r.mu.Unlock()

	if evictor != nil {
		evictor(credential)
	}
	r.logger.Warn().
		Str("key_prefix", Prefix(credential)).
		Msg("credential marked failed")
}

// IncrementFailure adds one to a credential's failure count and returns
// the new count. Reaching the maximum retires the credential and evicts
// its pool entry.
func (r *Registry) IncrementFailure(credential string) int {
	r.mu.Lock()
	if _, known := r.failCounts[credential]; !known {
		r.mu.Unlock()
		return 0
	}
	r.failCounts[credential]++
	count := r.failCounts[credential]

	var evictor func(string)
	retired := count >= r.maxFailures
	if retired {
		r.rebuildValidLocked()
		evictor = r.evictor
	}
	r.mu.Unlock()

	if evictor != nil {
		evictor(credential)
	}
	if retired {
		r.logger.Warn().
			Str("key_prefix", Prefix(credential)).
			Int("fail_count", count).
			Msg("credential retired after repeated failures")
	}
	return count
}

// ResetFailure zeroes a credential's failure count and restores it to
// the valid list at its original relative position.
func (r *Registry) ResetFailure(credential string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.failCounts[credential]; !known {
		return
	}
	r.failCounts[credential] = 0
	r.rebuildValidLocked()
}

// CoolDown marks a (credential, model) pair as quota-exhausted until the
// next configured reset instant.
func (r *Registry) CoolDown(credential, model string) {
	until := NextQuotaReset(time.Now(), r.timezone, r.resetHour)

	r.mu.Lock()
	r.cooldowns[cooldownKey{credential: credential, model: model}] = until
	r.mu.Unlock()

	r.logger.Info().
		Str("key_prefix", Prefix(credential)).
		Str("model", model).
		Time("until", until).
		Msg("credential cooling down for model")
}

// IsCoolingDown reports whether a (credential, model) pair is currently
// cooling down. Expired entries are dropped lazily.
func (r *Registry) IsCoolingDown(credential, model string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coolingDownLocked(credential, model)
}

// RemoveFromPool evicts a credential from the valid key pool without
// touching registry state.
func (r *Registry) RemoveFromPool(credential string) {
	r.mu.Lock()
	evictor := r.evictor
	r.mu.Unlock()
	if evictor != nil {
		evictor(credential)
	}
}

// Remove hard-deletes a credential from the registry and the pool.
// Returns ErrKeyNotFound for unknown credentials.
func (r *Registry) Remove(credential string) error {
	r.mu.Lock()
	if _, known := r.failCounts[credential]; !known {
		r.mu.Unlock()
		return ErrKeyNotFound
	}
	r.all = lo.Without(r.all, credential)
	delete(r.failCounts, credential)
	for ck := range r.cooldowns {
		if ck.credential == credential {
			delete(r.cooldowns, ck)
		}
	}
	r.rebuildValidLocked()
	evictor := r.evictor
	r.mu.Unlock()

	if evictor != nil {
		evictor(credential)
	}
	r.logger.Info().
		Str("key_prefix", Prefix(credential)).
		Msg("credential removed from registry")
	return nil
}

// ResetAll replaces the credential list, typically on config reload.
// With preserve set, failure counts carry over for credentials present
// in both lists and the cursor stays on the old "next" credential;
// otherwise all state starts fresh. Cooldowns for removed credentials
// are dropped either way.
func (r *Registry) ResetAll(newCredentials []string, preserve bool) *ResetSnapshot {
	r.mu.Lock()

	unique := lo.Uniq(newCredentials)
	added, removed := lo.Difference(unique, r.all)
	kept := lo.Intersect(r.all, unique)

	var next string
	if preserve && len(r.valid) > 0 {
		next = r.valid[r.cursor%len(r.valid)]
	}

	oldCounts := r.failCounts
	r.all = unique
	r.failCounts = make(map[string]int, len(unique))
	for _, credential := range unique {
		count := 0
		if preserve {
			if c, ok := oldCounts[credential]; ok {
				count = c
			}
		}
		r.failCounts[credential] = count
	}

	if preserve {
		for ck, until := range r.cooldowns {
			if _, stillKnown := r.failCounts[ck.credential]; !stillKnown || !time.Now().Before(until) {
				delete(r.cooldowns, ck)
			}
		}
	} else {
		r.cooldowns = make(map[cooldownKey]time.Time)
	}

	r.valid = r.valid[:0]
	for _, credential := range unique {
		if r.failCounts[credential] < r.maxFailures {
			r.valid = append(r.valid, credential)
		}
	}
	r.cursor = 0
	if next != "" {
		if idx := lo.IndexOf(r.valid, next); idx >= 0 {
			r.cursor = idx
		}
	}
	r.mu.Unlock()

	r.logger.Info().
		Int("total", len(unique)).
		Int("added", len(added)).
		Int("removed", len(removed)).
		Bool("preserve", preserve).
		Msg("credential registry reset")

	return &ResetSnapshot{Added: added, Removed: removed, Kept: kept}
}

// ValidKeys returns a copy of the valid credential list.
func (r *Registry) ValidKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.valid))
	copy(out, r.valid)
	return out
}

// InvalidKeys returns the credentials retired by failure count.
func (r *Registry) InvalidKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Filter(r.all, func(credential string, _ int) bool {
		return r.failCounts[credential] >= r.maxFailures
	})
}

// FailCounts returns a copy of the failure count map.
func (r *Registry) FailCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.failCounts))
	for credential, count := range r.failCounts {
		out[credential] = count
	}
	return out
}

// Len returns the total and valid credential counts.
func (r *Registry) Len() (total, valid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all), len(r.valid)
}

// GetFirstValidKey returns the first valid credential, or "".
func (r *Registry) GetFirstValidKey() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.valid) == 0 {
		return ""
	}
	return r.valid[0]
}

// GetRandomValidKey returns a uniformly random valid credential, or "".
func (r *Registry) GetRandomValidKey() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.valid) == 0 {
		return ""
	}
	return r.valid[randIntn(len(r.valid))]
}

// MaxFailures returns the configured retirement threshold.
func (r *Registry) MaxFailures() int {
	return r.maxFailures
}

func (r *Registry) coolingDownLocked(credential, model string) bool {
	ck := cooldownKey{credential: credential, model: model}
	until, ok := r.cooldowns[ck]
	if !ok {
		return false
	}
	if time.Now().Before(until) {
		return true
	}
	delete(r.cooldowns, ck)
	return false
}

// rebuildValidLocked recomputes the valid list from all in order, then
// re-anchors the cursor on the first surviving credential at or after
// the old cursor position. Rebuilding from all preserves each restored
// credential's original relative position.
func (r *Registry) rebuildValidLocked() {
	var next string
	n := len(r.valid)
	for i := 0; i < n; i++ {
		candidate := r.valid[(r.cursor+i)%n]
		if count, known := r.failCounts[candidate]; known && count < r.maxFailures {
			next = candidate
			break
		}
	}

	r.valid = r.valid[:0]
	for _, credential := range r.all {
		if r.failCounts[credential] < r.maxFailures {
			r.valid = append(r.valid, credential)
		}
	}
	r.cursor = 0
	if next != "" {
		if idx := lo.IndexOf(r.valid, next); idx >= 0 {
			r.cursor = idx
		}
	}
}

// Prefix returns the first 8 characters of a credential for log
// redaction, with an ellipsis when truncated.
func Prefix(credential string) string {
	if len(credential) <= 8 {
		return credential
	}
	return credential[:8] + "..."
}

// randIntn returns a non-negative integer in [0, n) from crypto/rand,
// falling back to a time-based source if crypto randomness fails.
func randIntn(n int) int {
	if n <= 0 {
		return 0
	}
	maxVal := big.NewInt(int64(n))
	if v, err := rand.Int(rand.Reader, maxVal); err == nil {
		return int(v.Int64())
	}
	return int(time.Now().UnixNano() % int64(n))
}
