package cache

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/ro"
)

func newTestROCache(t *testing.T, ttl time.Duration) *ROCache {
	t.Helper()
	underlying, err := newRistrettoCache(RistrettoConfig{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		t.Fatalf("failed to create underlying cache: %v", err)
	}
	t.Cleanup(func() {
		underlying.Close()
	})
	return NewROCache(underlying, ttl)
}

// collect subscribes and returns the single emitted value or the error.
func collect(t *testing.T, obs ro.Observable[[]byte]) ([]byte, error) {
	t.Helper()
	var value []byte
	var obsErr error
	obs.Subscribe(ro.NewObserver(
		func(data []byte) { value = data },
		func(err error) { obsErr = err },
		func() {},
	))
	return value, obsErr
}

func TestROCache_GetOrFetch_Miss(t *testing.T) {
	c := newTestROCache(t, time.Minute)
	fetchCalls := 0
	fetch := func() ro.Observable[[]byte] {
		fetchCalls++
		return ro.Just([]byte("fetched"))
	}

	value, err := collect(t, c.GetOrFetch(context.Background(), "models", fetch))
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if !bytes.Equal(value, []byte("fetched")) {
		t.Errorf("GetOrFetch() = %q, want %q", value, "fetched")
	}
	if fetchCalls != 1 {
		t.Errorf("fetch called %d times, want 1", fetchCalls)
	}
}

func TestROCache_GetOrFetch_Hit(t *testing.T) {
	c := newTestROCache(t, time.Minute)
	ctx := context.Background()

	if err := c.Underlying().Set(ctx, "models", []byte("cached")); err != nil {
		t.Fatalf("seed Set() error = %v", err)
	}
	c.Underlying().(*ristrettoCache).wait()

	fetchCalls := 0
	fetch := func() ro.Observable[[]byte] {
		fetchCalls++
		return ro.Just([]byte("fetched"))
	}

	value, err := collect(t, c.GetOrFetch(ctx, "models", fetch))
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if !bytes.Equal(value, []byte("cached")) {
		t.Errorf("GetOrFetch() = %q, want cached value", value)
	}
	if fetchCalls != 0 {
		t.Errorf("fetch called %d times on a hit, want 0", fetchCalls)
	}
}

func TestROCache_GetOrFetch_FetchError(t *testing.T) {
	c := newTestROCache(t, time.Minute)
	fetchErr := errors.New("upstream down")
	fetch := func() ro.Observable[[]byte] {
		return ro.Throw[[]byte](fetchErr)
	}

	_, err := collect(t, c.GetOrFetch(context.Background(), "models", fetch))
	if !errors.Is(err, fetchErr) {
		t.Errorf("GetOrFetch() error = %v, want %v", err, fetchErr)
	}
}

func TestROCache_GetOrFetch_EmptyFetch(t *testing.T) {
	c := newTestROCache(t, time.Minute)
	fetch := func() ro.Observable[[]byte] {
		return ro.Empty[[]byte]()
	}

	_, err := collect(t, c.GetOrFetch(context.Background(), "models", fetch))
	if !errors.Is(err, ErrFetchFailed) {
		t.Errorf("GetOrFetch() error = %v, want ErrFetchFailed", err)
	}
}

func TestROCache_SetThenGet(t *testing.T) {
	c := newTestROCache(t, time.Minute)
	ctx := context.Background()

	var setErr error
	c.Set(ctx, "k", []byte("v")).Subscribe(ro.NewObserver(
		func(struct{}) {},
		func(err error) { setErr = err },
		func() {},
	))
	if setErr != nil {
		t.Fatalf("Set() error = %v", setErr)
	}
	c.Underlying().(*ristrettoCache).wait()

	value, err := collect(t, c.Get(ctx, "k"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(value, []byte("v")) {
		t.Errorf("Get() = %q, want %q", value, "v")
	}
}

func TestROCache_Get_Missing(t *testing.T) {
	c := newTestROCache(t, time.Minute)

	_, err := collect(t, c.Get(context.Background(), "absent"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestROCache_Invalidate(t *testing.T) {
	c := newTestROCache(t, time.Minute)
	ctx := context.Background()

	if err := c.Underlying().Set(ctx, "models", []byte("stale")); err != nil {
		t.Fatalf("seed Set() error = %v", err)
	}
	c.Underlying().(*ristrettoCache).wait()

	var invErr error
	c.Invalidate(ctx, "models").Subscribe(ro.NewObserver(
		func(struct{}) {},
		func(err error) { invErr = err },
		func() {},
	))
	if invErr != nil {
		t.Fatalf("Invalidate() error = %v", invErr)
	}

	if _, err := c.Underlying().Get(ctx, "models"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after invalidate error = %v, want ErrNotFound", err)
	}
}

func TestROCache_GetTTL(t *testing.T) {
	c := newTestROCache(t, 42*time.Second)
	if got := c.GetTTL(); got != 42*time.Second {
		t.Errorf("GetTTL() = %v, want 42s", got)
	}
}
