package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestRistrettoCache(t *testing.T) *ristrettoCache {
	t.Helper()
	cfg := RistrettoConfig{
		NumCounters: 100_000,
		MaxCost:     10 << 20,
		BufferItems: 64,
	}
	cache, err := newRistrettoCache(cfg)
	if err != nil {
		t.Fatalf("failed to create ristretto cache: %v", err)
	}
	t.Cleanup(func() {
		cache.Close()
	})
	return cache
}

func TestRistrettoCache_GetSet(t *testing.T) {
	cache := newTestRistrettoCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "models", []byte(`{"models":[]}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	cache.wait()

	got, err := cache.Get(ctx, "models")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, []byte(`{"models":[]}`)) {
		t.Errorf("Get() = %q, want %q", got, `{"models":[]}`)
	}
}

func TestRistrettoCache_GetMissing(t *testing.T) {
	cache := newTestRistrettoCache(t)

	_, err := cache.Get(context.Background(), "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRistrettoCache_SetWithTTL(t *testing.T) {
	cache := newTestRistrettoCache(t)
	ctx := context.Background()

	if err := cache.SetWithTTL(ctx, "short", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatalf("SetWithTTL() error = %v", err)
	}
	cache.wait()

	if _, err := cache.Get(ctx, "short"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if _, err := cache.Get(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestRistrettoCache_Delete(t *testing.T) {
	cache := newTestRistrettoCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	cache.wait()

	if err := cache.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := cache.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}

	// Deleting a missing key is not an error.
	if err := cache.Delete(ctx, "absent"); err != nil {
		t.Errorf("Delete(absent) error = %v, want nil", err)
	}
}

func TestRistrettoCache_Exists(t *testing.T) {
	cache := newTestRistrettoCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	cache.wait()

	exists, err := cache.Exists(ctx, "k")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Error("Exists(k) = false, want true")
	}

	exists, err = cache.Exists(ctx, "absent")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Error("Exists(absent) = true, want false")
	}
}

func TestRistrettoCache_ValueIsolation(t *testing.T) {
	cache := newTestRistrettoCache(t)
	ctx := context.Background()

	original := []byte("immutable")
	if err := cache.Set(ctx, "k", original); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	cache.wait()

	// Mutating the caller's slice must not affect the cached copy.
	original[0] = 'X'

	got, err := cache.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, []byte("immutable")) {
		t.Errorf("Get() = %q, caller mutation leaked into cache", got)
	}

	// And mutating the returned slice must not affect later reads.
	got[0] = 'Y'
	again, err := cache.Get(ctx, "k")
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if !bytes.Equal(again, []byte("immutable")) {
		t.Errorf("second Get() = %q, reader mutation leaked into cache", again)
	}
}

func TestRistrettoCache_CanceledContext(t *testing.T) {
	cache := newTestRistrettoCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := cache.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v, want context.Canceled", err)
	}
	if err := cache.Set(ctx, "k", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Set() error = %v, want context.Canceled", err)
	}
}

func TestRistrettoCache_Close(t *testing.T) {
	cfg := RistrettoConfig{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64}
	cache, err := newRistrettoCache(cfg)
	if err != nil {
		t.Fatalf("newRistrettoCache() error = %v", err)
	}
	ctx := context.Background()

	if err := cache.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if _, err := cache.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() after close error = %v, want ErrClosed", err)
	}
	if err := cache.Set(ctx, "k", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Set() after close error = %v, want ErrClosed", err)
	}
	if got := cache.Stats(); got != (Stats{}) {
		t.Errorf("Stats() after close = %+v, want zero value", got)
	}
}

func TestRistrettoCache_Stats(t *testing.T) {
	cache := newTestRistrettoCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	cache.wait()

	if _, err := cache.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := cache.Get(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(absent) error = %v", err)
	}

	stats := cache.Stats()
	if stats.Hits == 0 {
		t.Error("Stats().Hits = 0, want at least 1")
	}
	if stats.Misses == 0 {
		t.Error("Stats().Misses = 0, want at least 1")
	}
}

func TestRistrettoCache_ConcurrentAccess(t *testing.T) {
	cache := newTestRistrettoCache(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n))
			for j := 0; j < 50; j++ {
				_ = cache.Set(ctx, key, []byte(key))
				_, _ = cache.Get(ctx, key)
				_, _ = cache.Exists(ctx, key)
			}
		}(i)
	}
	wg.Wait()
}
