package keypool

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"github.com/omarluq/gem-relay/internal/registry"
)

// newQuietPool builds a pool whose probabilistic refill paths never
// fire, for deterministic property runs.
func newQuietPool(numKeys int, opts Options) (*Pool, *stubVerifier, func()) {
	logger := zerolog.Nop()
	reg := registry.New(testCredentials(numKeys), registry.Options{}, &logger)
	verifier := newStubVerifier()
	if opts.MinThreshold == 0 {
		opts.MinThreshold = 1
	}
	pool, err := New(reg, verifier, nil, opts, &logger)
	if err != nil {
		panic(err)
	}
	pool.randFloat = func() float64 { return 1.0 }
	return pool, verifier, func() { _ = pool.Close() }
}

func TestPooledKey_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("jittered lifetime stays within ten percent", prop.ForAll(
		func(minutes int) bool {
			ttl := time.Duration(minutes) * time.Minute
			k := NewPooledKey("AIzaTest-prop", ttl)
			lifetime := k.ExpiresAt.Sub(k.CreatedAt)
			return lifetime >= ttl-ttl/10 && lifetime <= ttl+ttl/10
		},
		gen.IntRange(1, 1000),
	))

	properties.Property("expiry always follows creation", prop.ForAll(
		func(minutes int) bool {
			k := NewPooledKey("AIzaTest-prop", time.Duration(minutes)*time.Minute)
			return k.ExpiresAt.After(k.CreatedAt)
		},
		gen.IntRange(1, 1000),
	))

	properties.TestingRun(t)
}

func TestCheckout_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("rotation conserves pool membership", prop.ForAll(
		func(numKeys, checkouts int) bool {
			pool, _, done := newQuietPool(numKeys, Options{Size: numKeys + 5})
			defer done()

			keys := testCredentials(numKeys)
			for _, credential := range keys {
				if !pool.addFreshKey(credential) {
					return false
				}
			}

			seeded := make(map[string]struct{}, numKeys)
			for _, credential := range keys {
				seeded[credential] = struct{}{}
			}
			for i := 0; i < checkouts; i++ {
				if _, ok := seeded[pool.Checkout("gemini-2.5-flash")]; !ok {
					return false
				}
			}

			entries := pool.SnapshotEntries()
			if len(entries) != numKeys {
				return false
			}
			for _, e := range entries {
				if _, ok := seeded[e.Key]; !ok {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 30),
	))

	properties.Property("usage never exceeds the cap", prop.ForAll(
		func(capLimit, checkouts int) bool {
			pool, verifier, done := newQuietPool(1, Options{Size: 1, NonProModelMaxUsage: capLimit})
			defer done()
			verifier.failAll(errUpstreamDown)

			if !pool.addFreshKey(testCredentials(1)[0]) {
				return false
			}
			for i := 0; i < checkouts; i++ {
				pool.Checkout("gemini-2.5-flash")
				for _, e := range pool.SnapshotEntries() {
					if e.UsageCount > capLimit {
						return false
					}
				}
			}
			return pool.Stats().Hits == int64(min(capLimit, checkouts))
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}

func TestRefillChance_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("chance never increases as the pool grows", prop.ForAll(
		func(size, threshold, a, b int) bool {
			p := &Pool{}
			p.lim.Store(&limits{size: size, minThreshold: threshold})
			c1 := a % size
			c2 := b % size
			if c1 > c2 {
				c1, c2 = c2, c1
			}
			return p.refillChance(c1) >= p.refillChance(c2)
		},
		gen.IntRange(2, 100),
		gen.IntRange(1, 100),
		gen.IntRange(0, 1000),
		gen.IntRange(0, 1000),
	))

	properties.Property("chance stays a probability", prop.ForAll(
		func(size, threshold, current int) bool {
			p := &Pool{}
			p.lim.Store(&limits{size: size, minThreshold: threshold})
			c := p.refillChance(current % size)
			return c > 0 && c <= 1
		},
		gen.IntRange(2, 100),
		gen.IntRange(1, 100),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestMaintenanceBudget_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("budget fits the remaining headroom", prop.ForAll(
		func(size, threshold, current int) bool {
			p := &Pool{}
			p.lim.Store(&limits{size: size, minThreshold: threshold})
			c := current % (size + 1)
			b := p.maintenanceBudget(c)
			if b < 0 || b > 3 {
				return false
			}
			return b <= size-c
		},
		gen.IntRange(1, 100),
		gen.IntRange(1, 100),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
