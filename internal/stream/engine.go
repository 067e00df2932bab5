// Package stream relays upstream SSE generation streams to the client,
// classifies how each attempt ended, and restarts interrupted
// generations in place.
//
// Every upstream line is forwarded verbatim as its own SSE event. When
// an attempt ends badly the engine splices the text relayed so far into
// the original request as a model turn, appends an instruction to
// continue, and re-opens the stream on the same credential. The client
// sees one uninterrupted stream; once the retry budget is spent it sees
// a single terminal error event instead.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Termination classifies how one stream attempt ended.
type Termination string

const (
	// TermClean is the only termination that ends the session: a STOP or
	// MAX_TOKENS finish on a formal chunk with complete trailing text.
	TermClean Termination = "CLEAN"
	// TermFinishDuringThought is a finish reason on a thought chunk.
	TermFinishDuringThought Termination = "FINISH_DURING_THOUGHT"
	// TermBlock is a blocked-content marker in the stream.
	TermBlock Termination = "BLOCK"
	// TermFinishIncomplete is a STOP whose accumulated text stops short
	// of closing punctuation.
	TermFinishIncomplete Termination = "FINISH_INCOMPLETE"
	// TermFinishAbnormal is any finish reason other than STOP or
	// MAX_TOKENS.
	TermFinishAbnormal Termination = "FINISH_ABNORMAL"
	// TermDrop is a stream that ended without any finish reason.
	TermDrop Termination = "DROP"
	// TermFetchError is a transport failure, including timeouts.
	TermFetchError Termination = "FETCH_ERROR"
)

const (
	// DefaultMaxRetries bounds continuation attempts per client request.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the pause after a continuation attempt that
	// failed to open.
	DefaultRetryDelay = time.Second

	finishStop      = "STOP"
	finishMaxTokens = "MAX_TOKENS"

	scanBufferBytes = 256 * 1024
	maxLineBytes    = 1024 * 1024
)

// ErrRetriesExhausted means the retry budget was spent. The client has
// already received the terminal error event when Run returns it.
var ErrRetriesExhausted = errors.New("stream: retry limit exceeded")

// Upstream opens one SSE generation stream. *gemini.Client satisfies it.
type Upstream interface {
	Stream(ctx context.Context, apiKey, model string, body []byte) (*http.Response, error)
}

// Writer receives relayed bytes. http.ResponseWriter values that support
// flushing satisfy it, as does httptest.ResponseRecorder.
type Writer interface {
	io.Writer
	Flush()
}

// Options configures an Engine.
type Options struct {
	// MaxRetries bounds continuation attempts per request. Zero or
	// negative falls back to DefaultMaxRetries.
	MaxRetries int

	// RetryDelay is the pause after a continuation attempt that failed
	// to open. Zero or negative falls back to DefaultRetryDelay.
	RetryDelay time.Duration

	// SwallowThoughts drops post-interruption thought chunks once formal
	// text has already reached the client.
	SwallowThoughts bool
}

// Engine relays upstream SSE streams and retries interrupted generations
// in place. Safe for concurrent use; per-request state lives in Run.
type Engine struct {
	upstream        Upstream
	maxRetries      int
	retryDelay      time.Duration
	swallowThoughts bool
	logger          *zerolog.Logger
}

// New creates an Engine around upstream.
func New(upstream Upstream, opts Options, logger *zerolog.Logger) (*Engine, error) {
	if upstream == nil {
		return nil, errors.New("stream: nil upstream")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Engine{
		upstream:        upstream,
		maxRetries:      opts.MaxRetries,
		retryDelay:      opts.RetryDelay,
		swallowThoughts: opts.SwallowThoughts,
		logger:          logger,
	}, nil
}

// Run relays first and any continuation streams to w until a clean
// finish, an exhausted retry budget, or a departed client. The engine
// closes first and every continuation body it opens. Returns nil on a
// clean finish, ErrRetriesExhausted (wrapped) after the terminal error
// event, or the write or context error that ended the session early.
// Continuations reuse apiKey; rotating credentials between requests is
// the caller's concern.
func (e *Engine) Run(ctx context.Context, w Writer, apiKey, model string, originalBody []byte, first io.ReadCloser) error {
	r := &run{
		engine:   e,
		w:        w,
		apiKey:   apiKey,
		model:    model,
		original: originalBody,
	}
	return r.drive(ctx, first)
}

// run is the per-request state of one relay session.
type run struct {
	engine   *Engine
	w        Writer
	apiKey   string
	model    string
	original []byte

	acc           strings.Builder
	retries       int
	emittedFormal bool
	swallowing    bool
	lines         int
}

func (r *run) drive(ctx context.Context, body io.ReadCloser) error {
	e := r.engine
	start := time.Now()
	e.logger.Debug().
		Str("model", r.model).
		Int("max_retries", e.maxRetries).
		Msg("stream session started")

	for {
		// A nil body means the previous continuation attempt never
		// opened; it already counts as a transport failure.
		termination := TermFetchError
		if body != nil {
			var err error
			termination, err = r.consume(ctx, body)
			body.Close()
			body = nil
			if err != nil {
				return err
			}
		}

		if termination == TermClean && r.acc.Len() > 0 && !endsWithFinalPunctuation(r.acc.String()) {
			e.logger.Warn().
				Str("model", r.model).
				Msg("clean finish without closing punctuation, continuing")
			termination = TermFinishIncomplete
		}

		if termination == TermClean {
			e.logger.Debug().
				Str("model", r.model).
				Int("retries", r.retries).
				Int("lines", r.lines).
				Int("chars", utf8.RuneCountInString(r.acc.String())).
				Dur("elapsed", time.Since(start)).
				Msg("stream session completed")
			return nil
		}

		e.logger.Warn().
			Str("model", r.model).
			Str("reason", string(termination)).
			Int("retries", r.retries).
			Int("chars", utf8.RuneCountInString(r.acc.String())).
			Msg("stream interrupted")

		if e.swallowThoughts && r.emittedFormal {
			r.swallowing = true
		}

		if r.retries >= e.maxRetries {
			e.logger.Error().
				Str("model", r.model).
				Str("last_reason", string(termination)).
				Int("retries", r.retries).
				Msg("stream retry budget exhausted")
			if err := r.emitTerminalError(termination); err != nil {
				return err
			}
			return fmt.Errorf("%w: last reason %s", ErrRetriesExhausted, termination)
		}
		r.retries++

		contBody, err := continuationBody(r.original, r.acc.String())
		if err != nil {
			e.logger.Error().Err(err).Msg("continuation request build failed")
			if werr := r.emitTerminalError(termination); werr != nil {
				return werr
			}
			return err
		}

		e.logger.Debug().
			Str("model", r.model).
			Int("retry", r.retries).
			Int("max_retries", e.maxRetries).
			Msg("opening continuation stream")

		resp, err := e.upstream.Stream(ctx, r.apiKey, r.model, contBody)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Int("retry", r.retries).
				Msg("continuation request failed")
			select {
			case <-time.After(e.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		body = resp.Body
	}
}

// consume relays one upstream attempt and reports how it ended. A
// non-nil error means the client write failed or the request context
// ended; the session aborts without further retries.
func (r *run) consume(ctx context.Context, upstream io.Reader) (Termination, error) {
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, scanBufferBytes), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		r.lines++

		var text string
		var thought bool
		if isDataLine(line) {
			text, thought = parseChunk(line)
		}

		if r.swallowing {
			if thought {
				if finishReason(line) != "" {
					return TermFinishDuringThought, nil
				}
				continue
			}
			// Formal output resumed; relay normally from here on.
			r.swallowing = false
		}

		finish := finishReason(line)
		switch {
		case finish != "" && thought:
			return TermFinishDuringThought, nil
		case isBlockedLine(line):
			return TermBlock, nil
		case finish == finishStop:
			candidate := r.acc.String() + text
			if strings.TrimSpace(candidate) != "" && !endsWithFinalPunctuation(candidate) {
				return TermFinishIncomplete, nil
			}
		case finish != "" && finish != finishMaxTokens:
			return TermFinishAbnormal, nil
		}

		if err := r.forward(line); err != nil {
			return "", err
		}

		if text != "" && !thought {
			r.emittedFormal = true
			r.acc.WriteString(text)
		}

		if finish == finishStop || finish == finishMaxTokens {
			return TermClean, nil
		}
	}

	if err := scanner.Err(); err != nil {
		r.engine.logger.Warn().
			Err(err).
			Str("model", r.model).
			Msg("upstream stream read failed")
		return TermFetchError, nil
	}
	return TermDrop, nil
}

func (r *run) forward(line string) error {
	if _, err := fmt.Fprintf(r.w, "%s\n\n", line); err != nil {
		return fmt.Errorf("stream: client write failed: %w", err)
	}
	r.w.Flush()
	return nil
}

type terminalDetail struct {
	Type                 string `json:"@type"`
	AccumulatedTextChars int    `json:"accumulated_text_chars"`
}

type terminalStatus struct {
	Code    int              `json:"code"`
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Details []terminalDetail `json:"details"`
}

type terminalError struct {
	Error terminalStatus `json:"error"`
}

// emitTerminalError sends the single event: error frame that ends an
// exhausted session.
func (r *run) emitTerminalError(last Termination) error {
	payload, err := json.Marshal(terminalError{
		Error: terminalStatus{
			Code:    http.StatusGatewayTimeout,
			Status:  "DEADLINE_EXCEEDED",
			Message: fmt.Sprintf("Retry limit (%d) exceeded. Last reason: %s.", r.engine.maxRetries, last),
			Details: []terminalDetail{{
				Type:                 "proxy.debug",
				AccumulatedTextChars: utf8.RuneCountInString(r.acc.String()),
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("stream: marshal terminal error: %w", err)
	}
	if _, err := fmt.Fprintf(r.w, "event: error\ndata: %s\n\n", payload); err != nil {
		return fmt.Errorf("stream: client write failed: %w", err)
	}
	r.w.Flush()
	return nil
}
