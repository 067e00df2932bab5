// Package proxy implements the HTTP relay server for gem-relay.
package proxy

import (
	"errors"
	"net/http"

	"github.com/omarluq/gem-relay/internal/stream"
)

// ErrNotFlushable indicates the ResponseWriter doesn't support streaming.
var ErrNotFlushable = errors.New("sse: ResponseWriter does not implement http.Flusher")

// SetSSEHeaders sets required headers for SSE streaming.
// These headers MUST be set for proper streaming through nginx/CDN:
//   - Content-Type: text/event-stream - SSE format
//   - Cache-Control: no-cache, no-transform - prevent caching
//   - X-Accel-Buffering: no - CRITICAL: disable nginx/Cloudflare buffering
//   - Connection: keep-alive - maintain streaming connection
func SetSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Connection", "keep-alive")
}

// streamWriter asserts that w supports per-event flushing and returns it
// as a stream.Writer. The logging middleware's wrapper forwards Flush,
// so the assertion holds through the full middleware chain.
func streamWriter(w http.ResponseWriter) (stream.Writer, error) {
	sw, ok := w.(stream.Writer)
	if !ok {
		return nil, ErrNotFlushable
	}
	return sw, nil
}
