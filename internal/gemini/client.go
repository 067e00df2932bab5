// Package gemini implements the upstream Generative Language API client.
//
// One client serves every credential in the pool: the API key travels
// per call, never on the client. All requests pass through the shared
// upstream circuit breaker.
package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/omarluq/gem-relay/internal/health"
)

const (
	// DefaultBaseURL is the public Generative Language API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultTimeout bounds fully-consumed calls (verify, model list).
	DefaultTimeout = 30 * time.Second

	// DefaultTestModel is the model used for credential verification.
	DefaultTestModel = "gemini-2.5-flash"
)

// verifyPayload is the minimal generate request used to check that a
// credential is accepted upstream.
var verifyPayload = []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

// Options configures a Client.
type Options struct {
	// BaseURL is the upstream endpoint; empty falls back to DefaultBaseURL.
	BaseURL string

	// Timeout bounds verify and model-list calls. Generate and Stream run
	// under the caller's context only, so live bodies outlast the call.
	Timeout time.Duration

	// TestModel is the model verification requests target.
	TestModel string

	// Breaker configures the upstream circuit breaker.
	Breaker health.Config
}

// Client is the upstream Gemini API client. Safe for concurrent use.
type Client struct {
	baseURL    string
	testModel  string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *health.Breaker
	logger     *zerolog.Logger
}

// NewClient creates a Client with its own circuit breaker around the
// upstream host.
func NewClient(opts Options, logger *zerolog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TestModel == "" {
		opts.TestModel = DefaultTestModel
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	name := opts.BaseURL
	if u, err := url.Parse(opts.BaseURL); err == nil && u.Host != "" {
		name = u.Host
	}

	return &Client{
		baseURL:   opts.BaseURL,
		testModel: opts.TestModel,
		timeout:   opts.Timeout,
		// No client-level timeout: streaming bodies stay open well past
		// any sane request deadline. Bounded calls wrap their context.
		httpClient: &http.Client{},
		breaker:    health.NewBreaker(name, opts.Breaker, logger),
		logger:     logger,
	}
}

// BaseURL returns the upstream endpoint the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TestModel returns the model used for verification requests.
func (c *Client) TestModel() string {
	return c.testModel
}

// BreakerState returns the upstream circuit breaker state.
func (c *Client) BreakerState() health.State {
	return c.breaker.State()
}

// Generate sends a non-streaming generateContent request. A 2xx response
// is returned with a live body; any other status is decoded into an
// *APIError and the response is consumed.
func (c *Client) Generate(ctx context.Context, apiKey, model string, body []byte) (*http.Response, error) {
	endpoint := c.modelURL(model, "generateContent", url.Values{"key": {apiKey}})
	return c.roundTrip(ctx, endpoint, body)
}

// Stream sends a streamGenerateContent request with alt=sse. Semantics
// match Generate; a 2xx body is a live SSE stream.
func (c *Client) Stream(ctx context.Context, apiKey, model string, body []byte) (*http.Response, error) {
	endpoint := c.modelURL(model, "streamGenerateContent", url.Values{"alt": {"sse"}, "key": {apiKey}})
	return c.roundTrip(ctx, endpoint, body)
}

// ListModels fetches the upstream model catalog and returns the raw JSON
// body.
func (c *Client) ListModels(ctx context.Context, apiKey string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1beta/models?%s", c.baseURL, url.Values{"key": {apiKey}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: build models request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ParseAPIError(resp)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read models response: %w", err)
	}
	return payload, nil
}

// Verify sends the minimal "hi" generate request against the test model.
// A nil return means the credential is accepted upstream.
func (c *Client) Verify(ctx context.Context, apiKey string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.Generate(ctx, apiKey, c.testModel, verifyPayload)
	if err != nil {
		return err
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (c *Client) modelURL(model, verb string, query url.Values) string {
	return fmt.Sprintf("%s/v1beta/models/%s:%s?%s",
		c.baseURL, url.PathEscape(model), verb, query.Encode())
}

func (c *Client) roundTrip(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ParseAPIError(resp)
	}
	return resp, nil
}

// do executes the request through the circuit breaker. The breaker
// records transport failures and 5xx statuses; 4xx statuses, including
// 429, stay between the credential and the classifier.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	done, err := c.breaker.Allow()
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		done(err)
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	if health.ShouldCountAsFailure(resp.StatusCode, nil) {
		done(errUpstreamStatus)
	} else {
		done(nil)
	}
	return resp, nil
}
