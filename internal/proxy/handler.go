// Package proxy implements the HTTP relay server for gem-relay.
package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/omarluq/gem-relay/internal/classifier"
	"github.com/omarluq/gem-relay/internal/config"
	"github.com/omarluq/gem-relay/internal/gemini"
	"github.com/omarluq/gem-relay/internal/health"
	"github.com/omarluq/gem-relay/internal/registry"
	"github.com/omarluq/gem-relay/internal/stream"
)

// Generate verbs accepted on /v1beta/models/{model}.
const (
	verbGenerate = "generateContent"
	verbStream   = "streamGenerateContent"
)

// KeySource selects credentials for upstream attempts and reports how
// each attempt went. *keypool.Pool satisfies it; RegistryKeySource
// covers deployments running without the pool.
type KeySource interface {
	Checkout(model string) string
	MarkUsable(credential string)
	MarkUnusable(err error, credential, model string) classifier.Classification
}

// RegistryKeySource is the pool-less KeySource: straight round-robin
// over the registry with classification applied on failure.
type RegistryKeySource struct {
	reg *registry.Registry
	ec  *classifier.Classifier
}

// NewRegistryKeySource creates a KeySource over reg. A nil classifier
// leaves failures unrecorded against the credential.
func NewRegistryKeySource(reg *registry.Registry, ec *classifier.Classifier) *RegistryKeySource {
	return &RegistryKeySource{reg: reg, ec: ec}
}

// Checkout returns the next working credential for model.
func (s *RegistryKeySource) Checkout(model string) string {
	return s.reg.NextWorkingKey(model)
}

// MarkUsable clears the credential's failure count.
func (s *RegistryKeySource) MarkUsable(credential string) {
	s.reg.ResetFailure(credential)
}

// MarkUnusable classifies err and applies the verdict to credential.
func (s *RegistryKeySource) MarkUnusable(err error, credential, model string) classifier.Classification {
	if s.ec != nil {
		return s.ec.Handle(err, credential, model)
	}
	return classifier.Classify(err, model)
}

// generateUpstream is the slice of the Gemini client the handler calls.
type generateUpstream interface {
	Generate(ctx context.Context, apiKey, model string, body []byte) (*http.Response, error)
	Stream(ctx context.Context, apiKey, model string, body []byte) (*http.Response, error)
}

// GenerateHandler serves generateContent and streamGenerateContent. Each
// request checks out a credential, and every upstream failure rotates to
// a different one until the retry budget is spent. Streaming responses
// additionally pass through the stream engine, which performs its own
// in-band continuation retries on the credential that opened the stream.
type GenerateHandler struct {
	cfgProvider config.RuntimeConfig
	keys        KeySource
	reg         *registry.Registry
	upstream    generateUpstream
	engine      *stream.Engine
	logger      *zerolog.Logger
}

// NewGenerateHandler creates the generate handler.
func NewGenerateHandler(
	cfgProvider config.RuntimeConfig,
	keys KeySource,
	reg *registry.Registry,
	upstream generateUpstream,
	engine *stream.Engine,
	logger *zerolog.Logger,
) (*GenerateHandler, error) {
	if keys == nil {
		return nil, errors.New("proxy: key source is required")
	}
	if reg == nil {
		return nil, errors.New("proxy: registry is required")
	}
	if upstream == nil {
		return nil, errors.New("proxy: upstream is required")
	}
	if engine == nil {
		return nil, errors.New("proxy: stream engine is required")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &GenerateHandler{
		cfgProvider: cfgProvider,
		keys:        keys,
		reg:         reg,
		upstream:    upstream,
		engine:      engine,
		logger:      logger,
	}, nil
}

// maxRetries reads the live per-request attempt budget.
func (h *GenerateHandler) maxRetries() int {
	if h.cfgProvider != nil {
		if cfg := h.cfgProvider.Get(); cfg != nil {
			return cfg.Keys.GetEffectiveMaxRetries()
		}
	}
	return 3
}

// ServeHTTP handles POST /v1beta/models/{model}, where the path value
// carries both the model name and the verb ("gemini-pro:generateContent").
func (h *GenerateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	model, verb, ok := strings.Cut(r.PathValue("model"), ":")
	if !ok || model == "" {
		WriteError(w, http.StatusNotFound, "NOT_FOUND",
			"expected /v1beta/models/{model}:{operation}")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if IsBodyTooLargeError(err) {
			WriteBodyTooLargeError(w)
			return
		}
		WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT",
			"failed to read request body")
		return
	}

	switch verb {
	case verbGenerate:
		h.generate(w, r, model, body)
	case verbStream:
		h.streamGenerate(w, r, model, body)
	default:
		WriteError(w, http.StatusNotFound, "NOT_FOUND",
			"unsupported operation "+verb)
	}
}

// nextCredential rotates to a different credential after a failed
// attempt. The checkout path usually rotates on its own because the
// failed credential was just evicted or benched; when it hands the same
// credential back, the registry forces the successor. An empty return
// means no alternative exists.
func (h *GenerateHandler) nextCredential(failed, model string) string {
	next := h.keys.Checkout(model)
	if next == failed {
		next = h.reg.NextKey(failed)
	}
	if next == failed {
		return ""
	}
	return next
}

// generate drives one non-streaming request through up to maxRetries
// credential rotations.
func (h *GenerateHandler) generate(w http.ResponseWriter, r *http.Request, model string, body []byte) {
	ctx := r.Context()
	budget := h.maxRetries()
	credential := h.keys.Checkout(model)

	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		resp, err := h.upstream.Generate(ctx, credential, model, body)
		if err == nil {
			h.keys.MarkUsable(credential)
			relayResponse(w, resp)
			return
		}
		if errors.Is(err, health.ErrCircuitOpen) {
			// The upstream host is down; no credential is at fault and
			// rotating keys cannot help.
			WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
				"upstream temporarily unavailable")
			return
		}
		if ctx.Err() != nil {
			return
		}

		lastErr = err
		cls := h.keys.MarkUnusable(err, credential, model)
		h.logger.Warn().
			Str("model", model).
			Str("key_prefix", registry.Prefix(credential)).
			Str("kind", string(cls.Kind)).
			Int("attempt", attempt).
			Int("budget", budget).
			Msg("generate attempt failed")

		next := h.nextCredential(credential, model)
		if next == "" {
			h.logger.Error().
				Str("model", model).
				Msg("no alternative credential available, giving up")
			break
		}
		credential = next
	}

	writeUpstreamFailure(w, lastErr, model)
}

// streamGenerate opens the upstream SSE stream, rotating credentials on
// open failures, then hands the live body to the stream engine. The
// engine keeps the credential that opened the stream for its in-band
// continuation retries.
func (h *GenerateHandler) streamGenerate(w http.ResponseWriter, r *http.Request, model string, body []byte) {
	ctx := r.Context()
	budget := h.maxRetries()
	credential := h.keys.Checkout(model)

	var resp *http.Response
	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		var err error
		resp, err = h.upstream.Stream(ctx, credential, model, body)
		if err == nil {
			break
		}
		resp = nil
		if errors.Is(err, health.ErrCircuitOpen) {
			WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
				"upstream temporarily unavailable")
			return
		}
		if ctx.Err() != nil {
			return
		}

		lastErr = err
		cls := h.keys.MarkUnusable(err, credential, model)
		h.logger.Warn().
			Str("model", model).
			Str("key_prefix", registry.Prefix(credential)).
			Str("kind", string(cls.Kind)).
			Int("attempt", attempt).
			Int("budget", budget).
			Msg("stream open attempt failed")

		next := h.nextCredential(credential, model)
		if next == "" {
			h.logger.Error().
				Str("model", model).
				Msg("no alternative credential available, giving up")
			break
		}
		credential = next
	}

	if resp == nil {
		writeUpstreamFailure(w, lastErr, model)
		return
	}

	sw, err := streamWriter(w)
	if err != nil {
		resp.Body.Close()
		h.logger.Error().Err(err).Msg("response writer does not support streaming")
		WriteError(w, http.StatusInternalServerError, "INTERNAL",
			"streaming unsupported by this server configuration")
		return
	}

	SetSSEHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	switch err := h.engine.Run(ctx, sw, credential, model, body, resp.Body); {
	case err == nil:
		h.keys.MarkUsable(credential)
	case errors.Is(err, stream.ErrRetriesExhausted):
		// The engine already sent the terminal error event; the stream
		// ended as cleanly as it could for the client.
	default:
		h.logger.Debug().Err(err).Msg("stream session aborted")
	}
}

// relayResponse copies a successful upstream response to the client.
func relayResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	//nolint:errcheck // Response is already committed with status code
	io.Copy(w, resp.Body)
}

// writeUpstreamFailure reports the last upstream error after the retry
// budget is spent. Structured upstream errors pass through unchanged.
func writeUpstreamFailure(w http.ResponseWriter, lastErr error, model string) {
	var apiErr *gemini.APIError
	if errors.As(lastErr, &apiErr) {
		WriteAPIError(w, apiErr)
		return
	}
	cls := classifier.Classify(lastErr, model)
	msg := cls.Message
	if msg == "" {
		msg = "all upstream attempts failed"
	}
	status := cls.HTTPStatus()
	WriteError(w, status, rpcStatus(status), msg)
}
