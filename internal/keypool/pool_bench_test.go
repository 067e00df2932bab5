package keypool

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/omarluq/gem-relay/internal/registry"
)

// newBenchPool seeds a full, quiet pool with n keys.
func newBenchPool(tb testing.TB, n int) *Pool {
	tb.Helper()
	logger := zerolog.Nop()
	reg := registry.New(testCredentials(n), registry.Options{}, &logger)
	pool, err := New(reg, newStubVerifier(), nil, Options{
		Size:                n,
		MinThreshold:        1,
		NonProModelMaxUsage: -1,
		RefillGuard:         time.Hour,
	}, &logger)
	if err != nil {
		tb.Fatal(err)
	}
	pool.randFloat = func() float64 { return 1.0 }
	for _, credential := range testCredentials(n) {
		if !pool.addFreshKey(credential) {
			tb.Fatalf("seeding %s", credential)
		}
	}
	tb.Cleanup(func() { _ = pool.Close() })
	return pool
}

func BenchmarkCheckout(b *testing.B) {
	for _, size := range []int{3, 10, 50} {
		pool := newBenchPool(b, size)
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if pool.Checkout("gemini-2.5-flash") == "" {
					b.Fatal("empty checkout")
				}
			}
		})
	}
}

func BenchmarkCheckoutParallel(b *testing.B) {
	pool := newBenchPool(b, 50)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if pool.Checkout("gemini-2.5-flash") == "" {
				b.Fatal("empty checkout")
			}
		}
	})
}

func BenchmarkStats(b *testing.B) {
	pool := newBenchPool(b, 50)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pool.Stats()
	}
}

func BenchmarkNewPooledKey(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NewPooledKey("AIzaTest-bench", time.Hour)
	}
}
