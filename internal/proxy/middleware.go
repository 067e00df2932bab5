// Package proxy implements the HTTP relay server for gem-relay.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/omarluq/gem-relay/internal/auth"
	"github.com/omarluq/gem-relay/internal/config"
)

const contentTypeSSE = "text/event-stream"

func withRequestFields(ctx context.Context, r *http.Request, shortID string) zerolog.Context {
	return zerolog.Ctx(ctx).With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("req_id", shortID)
}

func logRequestStart(ctx context.Context, request *http.Request, shortID string) {
	logger := withRequestFields(ctx, request, shortID).Logger()
	logger.Info().Msgf("%s %s", request.Method, request.URL.Path)
}

func logRequestCompletion(
	ctx context.Context,
	request *http.Request,
	wrapped *responseWriter,
	duration time.Duration,
	shortID string,
) {
	durationStr := formatDuration(duration)
	statusMsg := statusSymbol(wrapped.statusCode)
	completionMsg := formatCompletionMessage(wrapped.statusCode, statusMsg, durationStr)

	logCtx := withRequestFields(ctx, request, shortID).
		Int("status", wrapped.statusCode).
		Str("duration", durationStr)

	if wrapped.isStreaming && wrapped.sseEvents > 0 {
		logCtx = logCtx.Int("sse_events", wrapped.sseEvents)
	}

	logger := logCtx.Logger()
	switch {
	case wrapped.statusCode >= 500:
		logger.Error().Msg(completionMsg)
	case wrapped.statusCode >= 400:
		logger.Warn().Msg(completionMsg)
	default:
		logger.Info().Msg(completionMsg)
	}
}

func statusSymbol(statusCode int) string {
	switch {
	case statusCode >= 500:
		return "✗"
	case statusCode >= 400:
		return "⚠"
	default:
		return "✓"
	}
}

// LoggingMiddleware logs each request with method, path, status, and duration.
// Streaming responses additionally report how many SSE events were relayed.
func LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			start := time.Now()

			// Wrap ResponseWriter to capture status code
			wrapped := &responseWriter{
				ResponseWriter: writer,
				statusCode:     http.StatusOK,
				sseEvents:      0,
				isStreaming:    false,
			}

			// Get request ID for logging
			requestID := GetRequestID(request.Context())
			shortID := requestID
			if len(shortID) > 8 {
				shortID = shortID[:8]
			}

			logRequestStart(request.Context(), request, shortID)

			// Serve request
			next.ServeHTTP(wrapped, request)

			logRequestCompletion(request.Context(), request, wrapped, time.Since(start), shortID)
		})
	}
}

type authCache struct {
	chain       auth.Authenticator // 16 bytes (interface)
	fingerprint string             // 16 bytes (string header)
}

type authCacheStore struct {
	cache atomic.Value
	mu    sync.Mutex
}

func (s *authCacheStore) cached(fingerprint string) *authCache {
	if v := s.cache.Load(); v != nil {
		if c, ok := v.(*authCache); ok && c.fingerprint == fingerprint {
			return c
		}
	}
	return nil
}

func buildAuthCache(fingerprint, adminToken string) *authCache {
	var chain auth.Authenticator
	if adminToken != "" {
		chain = auth.NewChainAuthenticator(
			auth.NewCookieAuthenticator(adminToken),
			auth.NewHeaderAuthenticator(adminToken),
		)
	}

	return &authCache{
		fingerprint: fingerprint,
		chain:       chain,
	}
}

func (s *authCacheStore) getOrBuild(fingerprint, adminToken string) *authCache {
	// Fast path: check cache without lock.
	if c := s.cached(fingerprint); c != nil {
		return c
	}

	// Slow path: acquire lock and rebuild.
	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring lock.
	if c := s.cached(fingerprint); c != nil {
		return c
	}

	cache := buildAuthCache(fingerprint, adminToken)
	s.cache.Store(cache)
	return cache
}

// adminFingerprint computes a small fingerprint of the admin token.
// This avoids relying on config pointer equality for cache invalidation.
// Uses length-prefixed format to avoid delimiter collision vulnerabilities.
func adminFingerprint(adminToken string) string {
	// Format: "t|<len>:<adminToken>"
	buffer := make([]byte, 0, 8+len(adminToken))
	buffer = append(buffer, 't', '|')
	buffer = strconv.AppendInt(buffer, int64(len(adminToken)), 10)
	buffer = append(buffer, ':')
	buffer = append(buffer, adminToken...)
	return string(buffer)
}

func handleAdminAuthResult(ctx context.Context, writer http.ResponseWriter, result auth.Result) bool {
	if !result.Valid {
		zerolog.Ctx(ctx).Warn().
			Str("auth_type", string(result.Type)).
			Str("error", result.Error).
			Msg("admin authentication failed")
		writeAdminError(writer, http.StatusUnauthorized, "Unauthorized")
		return false
	}

	zerolog.Ctx(ctx).Debug().
		Str("auth_type", string(result.Type)).
		Msg("admin authentication succeeded")
	return true
}

// AdminAuthMiddleware creates middleware that guards the admin API with the
// live admin token. It rebuilds the authenticator chain when the token
// changes. When no token is configured the admin API is disabled and every
// request is rejected.
func AdminAuthMiddleware(cfgProvider config.RuntimeConfig) func(http.Handler) http.Handler {
	store := &authCacheStore{
		cache: atomic.Value{},
		mu:    sync.Mutex{},
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			var adminToken string
			if cfgProvider != nil {
				if cfg := cfgProvider.Get(); cfg != nil {
					adminToken = cfg.Server.AdminToken
				}
			}

			fpValue := adminFingerprint(adminToken)
			cached := store.getOrBuild(fpValue, adminToken)

			if cached.chain == nil {
				zerolog.Ctx(request.Context()).Warn().
					Msg("admin request rejected: no admin token configured")
				writeAdminError(writer, http.StatusUnauthorized, "Unauthorized")
				return
			}

			result := cached.chain.Validate(request)
			if !handleAdminAuthResult(request.Context(), writer, result) {
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}

// RequestIDMiddleware adds X-Request-ID header and logger with request ID to context.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			// Extract or generate request ID
			requestID := request.Header.Get("X-Request-ID")
			ctx := AddRequestID(request.Context(), requestID)

			// Write request ID to response header
			if requestID == "" {
				requestID = GetRequestID(ctx)
			}

			writer.Header().Set("X-Request-ID", requestID)

			// Attach logger to request
			request = request.WithContext(ctx)

			next.ServeHTTP(writer, request)
		})
	}
}

// formatDuration formats duration in a human-readable form with microsecond precision.
// Uses dynamic units so very fast requests show in µs while longer ones show in ms/s.
func formatDuration(duration time.Duration) string {
	if duration <= 0 {
		return "0s"
	}
	duration = duration.Round(time.Microsecond)
	switch {
	case duration < time.Millisecond:
		return fmt.Sprintf("%dµs", duration.Microseconds())
	case duration < time.Second:
		return fmt.Sprintf("%.2fms", float64(duration)/float64(time.Millisecond))
	case duration < time.Minute:
		return fmt.Sprintf("%.2fs", duration.Seconds())
	default:
		return duration.Truncate(time.Second).String()
	}
}

// formatCompletionMessage formats the completion message with status.
func formatCompletionMessage(status int, symbol, duration string) string {
	return symbol + " " + http.StatusText(status) + " (" + duration + ")"
}

// responseWriter wraps http.ResponseWriter to capture status code and SSE events.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	sseEvents   int
	isStreaming bool
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	// Check if this is a streaming response
	if rw.Header().Get("Content-Type") == contentTypeSSE {
		rw.isStreaming = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write intercepts writes to count SSE events.
func (rw *responseWriter) Write(data []byte) (int, error) {
	// Count SSE events if streaming
	if rw.isStreaming {
		// Count occurrences of "data:" prefix in the data
		dataStr := string(data)
		for i := 0; i < len(dataStr); i++ {
			if i+5 <= len(dataStr) && dataStr[i:i+5] == "data:" {
				rw.sseEvents++
			}
		}
	}
	return rw.ResponseWriter.Write(data)
}

// Flush forwards to the underlying writer so relayed SSE events reach the
// client as they are written.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// ConcurrencyLimiter enforces a global maximum number of concurrent requests.
// It uses an atomic counter with a configurable limit that supports hot-reload.
// When the limit is reached, new requests receive 503 Service Unavailable.
type ConcurrencyLimiter struct {
	limit   atomic.Int64
	current atomic.Int64
}

// NewConcurrencyLimiter creates a new concurrency limiter with the given max limit.
// A limit of 0 or negative means unlimited.
func NewConcurrencyLimiter(maxLimit int64) *ConcurrencyLimiter {
	limiter := &ConcurrencyLimiter{
		limit:   atomic.Int64{},
		current: atomic.Int64{},
	}
	limiter.limit.Store(maxLimit)
	return limiter
}

// SetLimit updates the concurrency limit for hot-reload support.
// A limit of 0 or negative means unlimited.
func (l *ConcurrencyLimiter) SetLimit(maxLimit int64) {
	l.limit.Store(maxLimit)
}

// GetLimit returns the current configured limit.
func (l *ConcurrencyLimiter) GetLimit() int64 {
	return l.limit.Load()
}

// CurrentInFlight returns the current number of in-flight requests.
func (l *ConcurrencyLimiter) CurrentInFlight() int64 {
	return l.current.Load()
}

// TryAcquire attempts to acquire a slot for a request.
// Returns true if the request can proceed, false if the limit is reached.
// If limit is 0 or negative, always returns true (unlimited).
func (l *ConcurrencyLimiter) TryAcquire() bool {
	limit := l.limit.Load()
	if limit <= 0 {
		// Unlimited - always succeed but still track count
		l.current.Add(1)
		return true
	}

	// Try to increment if below limit using compare-and-swap loop
	for {
		current := l.current.Load()
		if current >= limit {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
		// CAS failed, retry
	}
}

// Release releases a slot after request completion.
// Must be called after a successful TryAcquire.
func (l *ConcurrencyLimiter) Release() {
	l.current.Add(-1)
}

// ConcurrencyMiddleware creates middleware that enforces a global concurrency limit.
// Uses the provided ConcurrencyLimiter which supports hot-reload via SetLimit.
func ConcurrencyMiddleware(limiter *ConcurrencyLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if !limiter.TryAcquire() {
				zerolog.Ctx(request.Context()).Warn().
					Int64("limit", limiter.GetLimit()).
					Int64("current", limiter.CurrentInFlight()).
					Msg("request rejected: concurrency limit reached")
				WriteError(writer, http.StatusServiceUnavailable, "UNAVAILABLE",
					"server is at maximum capacity, please retry later")
				return
			}
			defer limiter.Release()
			next.ServeHTTP(writer, request)
		})
	}
}

// MaxBodyBytesMiddleware creates middleware that limits request body size.
// Uses http.MaxBytesReader to enforce the limit efficiently.
// The limitProvider is called per-request to support hot-reload.
func MaxBodyBytesMiddleware(limitProvider func() int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			limit := limitProvider()
			if limit > 0 && request.Body != nil {
				request.Body = http.MaxBytesReader(writer, request.Body, limit)
			}
			next.ServeHTTP(writer, request)
		})
	}
}
