package proxy_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/gem-relay/internal/proxy"
)

func TestRequestIDMiddlewareGeneratesID(t *testing.T) {
	var seen string
	handler := proxy.RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = proxy.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddlewarePreservesCallerID(t *testing.T) {
	handler := proxy.RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "caller-chosen-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "caller-chosen-id", rec.Header().Get("X-Request-ID"))
}

func TestConcurrencyLimiterBounds(t *testing.T) {
	limiter := proxy.NewConcurrencyLimiter(2)

	assert.True(t, limiter.TryAcquire())
	assert.True(t, limiter.TryAcquire())
	assert.False(t, limiter.TryAcquire())

	limiter.Release()
	assert.True(t, limiter.TryAcquire())
}

func TestConcurrencyLimiterUnlimited(t *testing.T) {
	limiter := proxy.NewConcurrencyLimiter(0)
	for range 100 {
		assert.True(t, limiter.TryAcquire())
	}
	assert.Equal(t, int64(100), limiter.CurrentInFlight())
}

func TestConcurrencyLimiterHotReload(t *testing.T) {
	limiter := proxy.NewConcurrencyLimiter(1)
	require.True(t, limiter.TryAcquire())
	require.False(t, limiter.TryAcquire())

	limiter.SetLimit(2)
	assert.True(t, limiter.TryAcquire())
	assert.False(t, limiter.TryAcquire())
}

func TestConcurrencyMiddlewareRejectsOverLimit(t *testing.T) {
	limiter := proxy.NewConcurrencyLimiter(1)

	release := make(chan struct{})
	entered := make(chan struct{})
	handler := proxy.ConcurrencyMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	}()
	<-entered

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "maximum capacity")

	close(release)
	wg.Wait()
	assert.Equal(t, int64(0), limiter.CurrentInFlight())
}

func TestMaxBodyBytesMiddleware(t *testing.T) {
	handler := proxy.MaxBodyBytesMiddleware(func() int64 { return 16 })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := io.ReadAll(r.Body)
			if proxy.IsBodyTooLargeError(err) {
				proxy.WriteBodyTooLargeError(w)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/",
		strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
