package keypool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/samber/ro"

	"github.com/omarluq/gem-relay/internal/classifier"
	"github.com/omarluq/gem-relay/internal/ratelimit"
	"github.com/omarluq/gem-relay/internal/registry"
)

// Defaults applied by Options.normalize. Usage caps intentionally pass
// through unchanged; a non-positive cap disables the limit.
const (
	DefaultSize                    = 50
	DefaultMinThreshold            = 10
	DefaultEmergencyRefillCount    = 5
	DefaultConcurrentVerifications = 1
	DefaultKeyTTL                  = time.Hour
	DefaultTestModel               = "gemini-2.5-flash"
	DefaultRefillGuard             = 5 * time.Second
	DefaultMaintenancePace         = time.Second

	preloadBatchSize   = 10
	livenessSampleMax  = 5
	livenessSweepEvery = 5
)

// modelSuffixes are capability decorations stripped before model
// comparison, in order.
var modelSuffixes = []string{"-search", "-image", "-non-thinking"}

// Options configures a Pool. Zero values fall back to the package
// defaults, except the usage caps where a non-positive value means
// unlimited.
type Options struct {
	Size                    int
	MinThreshold            int
	EmergencyRefillCount    int
	ConcurrentVerifications int
	KeyTTL                  time.Duration
	ProModels               []string
	ProModelMaxUsage        int
	NonProModelMaxUsage     int
	TestModel               string

	// RefillGuard is the minimum spacing between eviction-triggered
	// single-key refills.
	RefillGuard time.Duration

	// MaintenancePace is the delay between sequential verification
	// attempts during Maintain.
	MaintenancePace time.Duration
}

func (o *Options) normalize() {
	if o.Size <= 0 {
		o.Size = DefaultSize
	}
	if o.MinThreshold <= 0 {
		o.MinThreshold = DefaultMinThreshold
	}
	if o.EmergencyRefillCount <= 0 {
		o.EmergencyRefillCount = DefaultEmergencyRefillCount
	}
	if o.ConcurrentVerifications <= 0 {
		o.ConcurrentVerifications = DefaultConcurrentVerifications
	}
	if o.KeyTTL <= 0 {
		o.KeyTTL = DefaultKeyTTL
	}
	if o.TestModel == "" {
		o.TestModel = DefaultTestModel
	}
	if o.RefillGuard <= 0 {
		o.RefillGuard = DefaultRefillGuard
	}
	if o.MaintenancePace <= 0 {
		o.MaintenancePace = DefaultMaintenancePace
	}
}

// limits are the pool knobs that may change across a config reload.
// They are swapped as one atomic unit so readers never observe a mix
// of old and new values.
type limits struct {
	size                 int
	minThreshold         int
	emergencyRefillCount int
	keyTTL               time.Duration
	proModels            []string
	proModelMaxUsage     int
	nonProModelMaxUsage  int
	testModel            string
}

func (o Options) limits() *limits {
	return &limits{
		size:                 o.Size,
		minThreshold:         o.MinThreshold,
		emergencyRefillCount: o.EmergencyRefillCount,
		keyTTL:               o.KeyTTL,
		proModels:            o.ProModels,
		proModelMaxUsage:     o.ProModelMaxUsage,
		nonProModelMaxUsage:  o.NonProModelMaxUsage,
		testModel:            o.TestModel,
	}
}

// Pool keeps a bounded FIFO of verified credentials ready for
// checkout. All exported methods are safe for concurrent use.
type Pool struct {
	reg      *registry.Registry
	verifier Verifier
	ec       *classifier.Classifier
	logger   *zerolog.Logger

	// lim holds the reloadable limits; Reconfigure swaps the whole set
	// on config reload. Verification concurrency, the refill guard, and
	// the maintenance pace stay fixed at construction.
	lim atomic.Pointer[limits]

	// checkoutMu guards entries and poolSet. poolSet always mirrors the
	// credentials held in entries.
	checkoutMu sync.Mutex
	entries    []*PooledKey
	poolSet    map[string]struct{}

	// verifyMu guards inVerification, the set of credentials with an
	// in-flight verification.
	verifyMu       sync.Mutex
	inVerification map[string]struct{}

	// sem caps concurrent upstream verification calls.
	sem chan struct{}

	emergencyMu sync.Mutex
	maintainMu  sync.Mutex

	pace *ratelimit.Pacer

	// triggerMu guards refillTriggers against sends after Close.
	triggerMu      sync.RWMutex
	refillTriggers chan struct{}
	closed         bool

	// randFloat drives the probabilistic refill dice. Swappable in
	// tests.
	randFloat func() float64

	preloadStarted atomic.Bool

	checkouts               atomic.Int64
	hits                    atomic.Int64
	misses                  atomic.Int64
	proRequests             atomic.Int64
	nonProRequests          atomic.Int64
	expiredRemoved          atomic.Int64
	usageExhaustedRemoved   atomic.Int64
	totalVerifications      atomic.Int64
	successfulVerifications atomic.Int64
	verificationFailures    atomic.Int64
	emergencyRefills        atomic.Int64
	maintenanceRuns         atomic.Int64

	latencyMu        sync.Mutex
	avgVerifySeconds float64
	latencySamples   int64
}

// New builds a Pool over the registry's credentials. The verifier is
// required; the classifier may be nil, in which case verification
// failures are only counted. The pool starts empty; call Preload or
// let refill triggers populate it.
func New(reg *registry.Registry, verifier Verifier, ec *classifier.Classifier, opts Options, logger *zerolog.Logger) (*Pool, error) {
	if reg == nil {
		return nil, errors.New("keypool: registry is required")
	}
	if verifier == nil {
		return nil, errors.New("keypool: verifier is required")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	opts.normalize()

	p := &Pool{
		reg:            reg,
		verifier:       verifier,
		ec:             ec,
		logger:         logger,
		entries:        make([]*PooledKey, 0, opts.Size),
		poolSet:        make(map[string]struct{}, opts.Size),
		inVerification: make(map[string]struct{}),
		sem:            make(chan struct{}, opts.ConcurrentVerifications),
		pace:           ratelimit.NewPacer(opts.MaintenancePace, 1),
		refillTriggers: make(chan struct{}, 1),
		randFloat:      randFloat01,
	}
	p.lim.Store(opts.limits())

	// Eviction-triggered refills drain through a rate-limited stream.
	// The single-slot channel plus the guard interval collapse eviction
	// storms into at most one verification per interval.
	ratelimit.LimitGlobal(ro.FromChannel(p.refillTriggers), 1, opts.RefillGuard).
		Subscribe(ro.NewObserver(
			func(_ struct{}) { p.verifyAndAdd(context.Background()) },
			func(error) {},
			func() {},
		))

	logger.Info().
		Int("size", opts.Size).
		Int("min_threshold", opts.MinThreshold).
		Dur("key_ttl", opts.KeyTTL).
		Int("concurrent_verifications", opts.ConcurrentVerifications).
		Str("test_model", opts.TestModel).
		Msg("valid key pool initialized")

	return p, nil
}

// Reconfigure swaps the reloadable limits for a new configuration.
// Verification concurrency, the refill guard, and the maintenance pace
// keep their construction-time values. A reduced capacity takes effect
// lazily: surplus entries drain as checkout and maintenance recycle
// them.
func (p *Pool) Reconfigure(opts Options) {
	opts.normalize()
	l := opts.limits()
	p.lim.Store(l)

	p.logger.Info().
		Int("size", l.size).
		Int("min_threshold", l.minThreshold).
		Dur("key_ttl", l.keyTTL).
		Str("test_model", l.testModel).
		Msg("key pool limits reconfigured")
}

// Checkout returns a credential for one attempt against model. It
// never blocks on upstream verification: an exhausted pool immediately
// yields a registry round-robin fallback while an emergency refill
// repopulates in the background. With no valid credentials anywhere
// the fallback is the empty string.
func (p *Pool) Checkout(model string) string {
	p.checkouts.Add(1)
	pro := p.isProModel(model)
	if pro {
		p.proRequests.Add(1)
	} else {
		p.nonProRequests.Add(1)
	}
	l := p.lim.Load()
	capLimit := l.nonProModelMaxUsage
	if pro {
		capLimit = l.proModelMaxUsage
	}

	p.checkoutMu.Lock()
	p.sweepExpiredLocked()
	now := time.Now()
	for len(p.entries) > 0 {
		e := p.popHeadLocked()
		switch {
		case e.IsExpired(now):
			p.expiredRemoved.Add(1)
			p.refillAfterEvictionLocked()
		case p.reg.IsCoolingDown(e.Key, model):
			p.refillAfterEvictionLocked()
		case capLimit > 0 && e.UsageCount >= capLimit:
			p.usageExhaustedRemoved.Add(1)
			p.refillAfterEvictionLocked()
		default:
			e.UsageCount++
			credential := e.Key
			usage := e.UsageCount
			p.pushTailLocked(e)
			size := len(p.entries)
			p.checkoutMu.Unlock()

			p.hits.Add(1)
			p.logger.Debug().
				Str("key_prefix", registry.Prefix(credential)).
				Str("model", model).
				Int("usage", usage).
				Int("pool_size", size).
				Msg("pool hit")
			return credential
		}
	}
	p.checkoutMu.Unlock()

	p.misses.Add(1)
	fallback := p.reg.NextWorkingKey(model)
	go p.EmergencyRefill(context.Background())
	p.logger.Warn().
		Str("key_prefix", registry.Prefix(fallback)).
		Str("model", model).
		Msg("pool exhausted, returning fallback credential")
	return fallback
}

// sweepExpiredLocked drops every expired entry in place and hands each
// one to background revalidation. Callers hold checkoutMu.
func (p *Pool) sweepExpiredLocked() {
	now := time.Now()
	kept := p.entries[:0]
	var expired []string
	for _, e := range p.entries {
		if e.IsExpired(now) {
			delete(p.poolSet, e.Key)
			expired = append(expired, e.Key)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(p.entries); i++ {
		p.entries[i] = nil
	}
	p.entries = kept
	if len(expired) == 0 {
		return
	}
	p.expiredRemoved.Add(int64(len(expired)))
	for _, credential := range expired {
		go p.revalidate(context.Background(), credential)
	}
}

// popHeadLocked removes and returns the head entry. Callers hold
// checkoutMu and guarantee the pool is non-empty.
func (p *Pool) popHeadLocked() *PooledKey {
	e := p.entries[0]
	p.entries[0] = nil
	p.entries = p.entries[1:]
	delete(p.poolSet, e.Key)
	return e
}

// pushTailLocked appends an entry, refusing duplicates and overflow.
// Callers hold checkoutMu.
func (p *Pool) pushTailLocked(e *PooledKey) bool {
	if len(p.entries) >= p.lim.Load().size {
		return false
	}
	if _, dup := p.poolSet[e.Key]; dup {
		return false
	}
	p.entries = append(p.entries, e)
	p.poolSet[e.Key] = struct{}{}
	return true
}

// refillAfterEvictionLocked reacts to an entry leaving the pool. Well
// below threshold it launches an emergency refill; otherwise it rolls
// the tier probability and, on success, queues one refill trigger.
// Callers hold checkoutMu.
func (p *Pool) refillAfterEvictionLocked() {
	current := len(p.entries)
	l := p.lim.Load()
	if current >= l.size {
		return
	}
	if current < l.minThreshold/2 {
		go p.EmergencyRefill(context.Background())
		return
	}
	if p.randFloat() >= p.refillChance(current) {
		return
	}
	p.queueRefillTrigger()
}

// refillChance returns the probability of a single-key refill at the
// current pool size. It decays as the pool approaches capacity.
func (p *Pool) refillChance(current int) float64 {
	l := p.lim.Load()
	switch {
	case current < l.minThreshold:
		return 0.9
	case float64(current) < 0.8*float64(l.size):
		switch {
		case current < l.minThreshold*3/2:
			return 0.4
		case current < l.minThreshold*2:
			return 0.3
		default:
			return 0.2
		}
	default:
		return 0.05
	}
}

// queueRefillTrigger hands one trigger to the refill worker, dropping
// it when a trigger is already pending or the pool is closed.
func (p *Pool) queueRefillTrigger() {
	p.triggerMu.RLock()
	defer p.triggerMu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.refillTriggers <- struct{}{}:
	default:
	}
}

// trimModelSuffixes strips capability suffixes from a model name.
func trimModelSuffixes(model string) string {
	for _, suffix := range modelSuffixes {
		model = strings.TrimSuffix(model, suffix)
	}
	return model
}

// isProModel reports whether the model matches a configured pro
// pattern after suffix trimming.
func (p *Pool) isProModel(model string) bool {
	base := trimModelSuffixes(model)
	return lo.SomeBy(p.lim.Load().proModels, func(pattern string) bool {
		return pattern != "" && strings.Contains(base, pattern)
	})
}

// verifyCredential runs one guarded verification round-trip:
// concurrency capped by the semaphore and deduplicated per credential.
// Returns true when the credential verified clean. Verifications
// abandoned by context cancellation leave the stats untouched.
func (p *Pool) verifyCredential(ctx context.Context, credential string) bool {
	p.verifyMu.Lock()
	if _, busy := p.inVerification[credential]; busy {
		p.verifyMu.Unlock()
		return false
	}
	p.inVerification[credential] = struct{}{}
	p.verifyMu.Unlock()

	defer func() {
		p.verifyMu.Lock()
		delete(p.inVerification, credential)
		p.verifyMu.Unlock()
	}()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	defer func() { <-p.sem }()

	start := time.Now()
	err := p.verifier.Verify(ctx, credential)
	if err != nil && ctx.Err() != nil {
		return false
	}
	p.totalVerifications.Add(1)
	p.observeVerifyLatency(time.Since(start))

	if err != nil {
		p.verificationFailures.Add(1)
		if p.ec != nil {
			p.ec.Handle(err, credential, p.lim.Load().testModel)
		}
		p.logger.Debug().
			Err(err).
			Str("key_prefix", registry.Prefix(credential)).
			Msg("credential failed verification")
		return false
	}

	p.successfulVerifications.Add(1)
	p.reg.ResetFailure(credential)
	return true
}

func (p *Pool) observeVerifyLatency(d time.Duration) {
	p.latencyMu.Lock()
	n := float64(p.latencySamples)
	p.avgVerifySeconds = (p.avgVerifySeconds*n + d.Seconds()) / (n + 1)
	p.latencySamples++
	p.latencyMu.Unlock()
}

// addFreshKey pushes a newly verified credential into the pool unless
// the pool filled up or adopted the credential while verification ran.
func (p *Pool) addFreshKey(credential string) bool {
	entry := NewPooledKey(credential, p.lim.Load().keyTTL)
	p.checkoutMu.Lock()
	defer p.checkoutMu.Unlock()
	return p.pushTailLocked(entry)
}

// refillCandidates returns valid registry credentials that are neither
// pooled nor already being verified.
func (p *Pool) refillCandidates() []string {
	p.checkoutMu.Lock()
	taken := make(map[string]struct{}, len(p.poolSet))
	for credential := range p.poolSet {
		taken[credential] = struct{}{}
	}
	p.checkoutMu.Unlock()

	p.verifyMu.Lock()
	for credential := range p.inVerification {
		taken[credential] = struct{}{}
	}
	p.verifyMu.Unlock()

	return lo.Filter(p.reg.ValidKeys(), func(credential string, _ int) bool {
		_, busy := taken[credential]
		return !busy
	})
}

// verifyAndAdd verifies one random unpooled candidate and appends it
// on success. Reports whether a key was added.
func (p *Pool) verifyAndAdd(ctx context.Context) bool {
	candidates := p.refillCandidates()
	if len(candidates) == 0 {
		return false
	}
	credential := candidates[randIntn(len(candidates))]
	if !p.verifyCredential(ctx, credential) {
		return false
	}
	return p.addFreshKey(credential)
}

// revalidate re-verifies a credential that aged out of the pool and
// re-admits it on success.
func (p *Pool) revalidate(ctx context.Context, credential string) {
	if p.verifyCredential(ctx, credential) {
		p.addFreshKey(credential)
	}
}

// EmergencyRefill verifies up to EmergencyRefillCount random unpooled
// candidates concurrently and appends the successes. At most one
// refill runs at a time; an overlapping caller returns immediately.
// Returns the number of keys added.
func (p *Pool) EmergencyRefill(ctx context.Context) int {
	if !p.emergencyMu.TryLock() {
		return 0
	}
	defer p.emergencyMu.Unlock()

	candidates := p.refillCandidates()
	if len(candidates) == 0 {
		p.logger.Warn().Msg("no candidates available for emergency refill")
		return 0
	}
	selected := sampleCredentials(candidates, min(p.lim.Load().emergencyRefillCount, len(candidates)))

	verified := make([]bool, len(selected))
	var wg sync.WaitGroup
	for i, credential := range selected {
		wg.Add(1)
		go func(i int, credential string) {
			defer wg.Done()
			verified[i] = p.verifyCredential(ctx, credential)
		}(i, credential)
	}
	wg.Wait()

	added := 0
	for i, credential := range selected {
		if verified[i] && p.addFreshKey(credential) {
			added++
		}
	}
	if added > 0 {
		p.emergencyRefills.Add(1)
	}
	p.logger.Info().
		Int("added", added).
		Int("attempted", len(selected)).
		Int("pool_size", p.Size()).
		Msg("emergency refill finished")
	return added
}

// Maintain runs one maintenance pass: sweep expired entries, top the
// pool up with sequential paced verifications, and periodically spot
// check entry liveness. Pooled entries are never re-verified upstream;
// only TTL expiry evicts them here. Overlapping calls are skipped.
func (p *Pool) Maintain(ctx context.Context) {
	if !p.maintainMu.TryLock() {
		return
	}
	defer p.maintainMu.Unlock()

	runs := p.maintenanceRuns.Add(1)
	start := time.Now()

	p.checkoutMu.Lock()
	p.sweepExpiredLocked()
	current := len(p.entries)
	p.checkoutMu.Unlock()

	refilled := p.pacedRefill(ctx, p.maintenanceBudget(current))

	if current < p.lim.Load().minThreshold || runs%livenessSweepEvery == 0 {
		p.livenessSweep()
	}

	p.logger.Info().
		Int("pool_size", p.Size()).
		Int("capacity", p.Capacity()).
		Int("refilled", refilled).
		Dur("elapsed", time.Since(start)).
		Msg("pool maintenance finished")
}

// maintenanceBudget sizes the refill target for one maintenance pass.
func (p *Pool) maintenanceBudget(current int) int {
	l := p.lim.Load()
	if current >= l.size {
		return 0
	}
	headroom := l.size - current
	switch {
	case current < l.minThreshold:
		return min(3, headroom)
	case float64(current) < 0.7*float64(l.size):
		return min(2, headroom)
	default:
		return min(1, headroom)
	}
}

// pacedRefill runs sequential verify-and-add attempts, one per pace
// interval, until target keys are added or the attempt budget is
// spent.
func (p *Pool) pacedRefill(ctx context.Context, target int) int {
	if target <= 0 {
		return 0
	}
	refilled := 0
	for attempts := 0; refilled < target && attempts < target*2; attempts++ {
		if err := p.pace.Wait(ctx); err != nil {
			break
		}
		if p.verifyAndAdd(ctx) {
			refilled++
		}
	}
	return refilled
}

// livenessSweep spot checks a small random sample of entries and drops
// the ones whose TTL lapsed between maintenance passes. Dropped keys
// re-enter through the normal refill paths.
func (p *Pool) livenessSweep() {
	p.checkoutMu.Lock()
	if len(p.entries) == 0 {
		p.checkoutMu.Unlock()
		return
	}
	sample := min(livenessSampleMax, len(p.entries))
	idx := make([]int, len(p.entries))
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < sample; i++ {
		j := i + randIntn(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	now := time.Now()
	doomed := make(map[string]struct{})
	for _, i := range idx[:sample] {
		if p.entries[i].IsExpired(now) {
			doomed[p.entries[i].Key] = struct{}{}
		}
	}
	if len(doomed) == 0 {
		p.checkoutMu.Unlock()
		return
	}
	kept := p.entries[:0]
	for _, e := range p.entries {
		if _, drop := doomed[e.Key]; drop {
			delete(p.poolSet, e.Key)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(p.entries); i++ {
		p.entries[i] = nil
	}
	p.entries = kept
	removed := len(doomed)
	p.checkoutMu.Unlock()

	p.expiredRemoved.Add(int64(removed))
	p.logger.Debug().Int("removed", removed).Msg("liveness sweep dropped expired entries")
}

// Preload fills the pool to half capacity in verification batches.
// Only the first call runs; later calls return the current size.
func (p *Pool) Preload(ctx context.Context) int {
	if !p.preloadStarted.CompareAndSwap(false, true) {
		return p.Size()
	}

	target := max(1, p.lim.Load().size/2)
	p.logger.Info().Int("target", target).Msg("preloading key pool")

	for p.Size() < target {
		if ctx.Err() != nil {
			break
		}
		room := target - p.Size()
		candidates := p.refillCandidates()
		if len(candidates) == 0 {
			break
		}
		batch := sampleCredentials(candidates, min(preloadBatchSize, min(room, len(candidates))))

		var added atomic.Int64
		var wg sync.WaitGroup
		for _, credential := range batch {
			wg.Add(1)
			go func(credential string) {
				defer wg.Done()
				if p.verifyCredential(ctx, credential) && p.addFreshKey(credential) {
					added.Add(1)
				}
			}(credential)
		}
		wg.Wait()

		if added.Load() == 0 {
			p.logger.Warn().Int("batch", len(batch)).Msg("preload batch added no keys, stopping")
			break
		}
	}

	size := p.Size()
	p.logger.Info().Int("pool_size", size).Int("target", target).Msg("key pool preload finished")
	return size
}

// MarkUsable clears the registry failure count after a credential
// served a successful upstream request.
func (p *Pool) MarkUsable(credential string) {
	p.reg.ResetFailure(credential)
}

// MarkUnusable classifies an upstream failure observed with credential
// on model and applies the resulting registry action. The registry
// evictor keeps the pool in sync when the action retires the key.
func (p *Pool) MarkUnusable(err error, credential, model string) classifier.Classification {
	if p.ec != nil {
		return p.ec.Handle(err, credential, model)
	}
	return classifier.Classify(err, model)
}

// Stats is a point-in-time snapshot of pool state and counters.
type Stats struct {
	Size                    int       `json:"current_size"`
	Capacity                int       `json:"pool_size"`
	Utilization             float64   `json:"utilization"`
	TTLSeconds              float64   `json:"key_ttl_seconds"`
	Checkouts               int64     `json:"total_checkouts"`
	Hits                    int64     `json:"hit_count"`
	Misses                  int64     `json:"miss_count"`
	HitRate                 float64   `json:"hit_rate"`
	MissRate                float64   `json:"miss_rate"`
	ProRequests             int64     `json:"pro_model_requests"`
	NonProRequests          int64     `json:"non_pro_model_requests"`
	ExpiredRemoved          int64     `json:"expired_keys_removed"`
	UsageExhaustedRemoved   int64     `json:"usage_exhausted_removed"`
	TotalVerifications      int64     `json:"total_verifications"`
	SuccessfulVerifications int64     `json:"successful_verifications"`
	VerificationFailures    int64     `json:"verification_failures"`
	VerificationSuccessRate float64   `json:"verification_success_rate"`
	AvgVerifySeconds        float64   `json:"avg_verification_seconds"`
	EmergencyRefills        int64     `json:"emergency_refill_count"`
	MaintenanceRuns         int64     `json:"maintenance_run_count"`
	MinKeyAgeSeconds        float64   `json:"min_key_age_seconds"`
	AvgKeyAgeSeconds        float64   `json:"avg_key_age_seconds"`
	MaxKeyAgeSeconds        float64   `json:"max_key_age_seconds"`
	Timestamp               time.Time `json:"stats_timestamp"`
}

// Stats returns a consistent snapshot of the pool counters and entry
// age distribution.
func (p *Pool) Stats() Stats {
	now := time.Now()

	p.checkoutMu.Lock()
	size := len(p.entries)
	var minAge, maxAge, totalAge time.Duration
	for i, e := range p.entries {
		age := e.Age(now)
		if i == 0 || age < minAge {
			minAge = age
		}
		if age > maxAge {
			maxAge = age
		}
		totalAge += age
	}
	p.checkoutMu.Unlock()

	p.latencyMu.Lock()
	avgVerify := p.avgVerifySeconds
	p.latencyMu.Unlock()

	hits := p.hits.Load()
	misses := p.misses.Load()
	l := p.lim.Load()

	st := Stats{
		Size:                    size,
		Capacity:                l.size,
		TTLSeconds:              l.keyTTL.Seconds(),
		Checkouts:               p.checkouts.Load(),
		Hits:                    hits,
		Misses:                  misses,
		ProRequests:             p.proRequests.Load(),
		NonProRequests:          p.nonProRequests.Load(),
		ExpiredRemoved:          p.expiredRemoved.Load(),
		UsageExhaustedRemoved:   p.usageExhaustedRemoved.Load(),
		TotalVerifications:      p.totalVerifications.Load(),
		SuccessfulVerifications: p.successfulVerifications.Load(),
		VerificationFailures:    p.verificationFailures.Load(),
		AvgVerifySeconds:        avgVerify,
		EmergencyRefills:        p.emergencyRefills.Load(),
		MaintenanceRuns:         p.maintenanceRuns.Load(),
		Timestamp:               now,
	}
	if l.size > 0 {
		st.Utilization = float64(size) / float64(l.size)
	}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
		st.MissRate = float64(misses) / float64(total)
	}
	if st.TotalVerifications > 0 {
		st.VerificationSuccessRate = float64(st.SuccessfulVerifications) / float64(st.TotalVerifications)
	}
	if size > 0 {
		st.MinKeyAgeSeconds = minAge.Seconds()
		st.AvgKeyAgeSeconds = (totalAge / time.Duration(size)).Seconds()
		st.MaxKeyAgeSeconds = maxAge.Seconds()
	}
	return st
}

// ResetStats zeroes every counter. Pool contents are untouched.
func (p *Pool) ResetStats() {
	p.checkouts.Store(0)
	p.hits.Store(0)
	p.misses.Store(0)
	p.proRequests.Store(0)
	p.nonProRequests.Store(0)
	p.expiredRemoved.Store(0)
	p.usageExhaustedRemoved.Store(0)
	p.totalVerifications.Store(0)
	p.successfulVerifications.Store(0)
	p.verificationFailures.Store(0)
	p.emergencyRefills.Store(0)
	p.maintenanceRuns.Store(0)

	p.latencyMu.Lock()
	p.avgVerifySeconds = 0
	p.latencySamples = 0
	p.latencyMu.Unlock()
}

// Clear empties the pool and returns how many entries were dropped.
func (p *Pool) Clear() int {
	p.checkoutMu.Lock()
	n := len(p.entries)
	p.entries = make([]*PooledKey, 0, p.lim.Load().size)
	clear(p.poolSet)
	p.checkoutMu.Unlock()

	if n > 0 {
		p.logger.Info().Int("removed", n).Msg("key pool cleared")
	}
	return n
}

// RemoveKey drops a credential from the pool if present, triggering
// the usual refill reaction. The registry calls this when a credential
// turns invalid.
func (p *Pool) RemoveKey(credential string) bool {
	p.checkoutMu.Lock()
	if _, ok := p.poolSet[credential]; !ok {
		p.checkoutMu.Unlock()
		return false
	}
	kept := p.entries[:0]
	for _, e := range p.entries {
		if e.Key == credential {
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(p.entries); i++ {
		p.entries[i] = nil
	}
	p.entries = kept
	delete(p.poolSet, credential)
	p.refillAfterEvictionLocked()
	size := len(p.entries)
	p.checkoutMu.Unlock()

	p.logger.Debug().
		Str("key_prefix", registry.Prefix(credential)).
		Int("pool_size", size).
		Msg("key removed from pool")
	return true
}

// SnapshotEntries copies the live entries for preservation across a
// registry reset.
func (p *Pool) SnapshotEntries() []PooledKey {
	p.checkoutMu.Lock()
	defer p.checkoutMu.Unlock()
	out := make([]PooledKey, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e)
	}
	return out
}

// RestoreEntries re-admits snapshot entries that are still unexpired
// and still valid in the registry, preserving their usage counts.
// Returns the number restored.
func (p *Pool) RestoreEntries(entries []PooledKey) int {
	valid := lo.SliceToMap(p.reg.ValidKeys(), func(credential string) (string, struct{}) {
		return credential, struct{}{}
	})

	now := time.Now()
	restored := 0
	p.checkoutMu.Lock()
	for i := range entries {
		e := entries[i]
		if e.IsExpired(now) {
			continue
		}
		if _, ok := valid[e.Key]; !ok {
			continue
		}
		dup := e
		if p.pushTailLocked(&dup) {
			restored++
		}
	}
	p.checkoutMu.Unlock()

	if restored > 0 {
		p.logger.Info().Int("restored", restored).Msg("pool entries restored after registry reset")
	}
	return restored
}

// Contains reports whether the credential currently sits in the pool.
func (p *Pool) Contains(credential string) bool {
	p.checkoutMu.Lock()
	defer p.checkoutMu.Unlock()
	_, ok := p.poolSet[credential]
	return ok
}

// Size returns the number of live entries.
func (p *Pool) Size() int {
	p.checkoutMu.Lock()
	defer p.checkoutMu.Unlock()
	return len(p.entries)
}

// Capacity returns the configured maximum pool size.
func (p *Pool) Capacity() int {
	return p.lim.Load().size
}

// Close stops the refill worker. Safe to call more than once.
func (p *Pool) Close() error {
	p.triggerMu.Lock()
	defer p.triggerMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.refillTriggers)
	return nil
}
