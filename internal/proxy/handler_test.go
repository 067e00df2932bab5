package proxy_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/gem-relay/internal/classifier"
	"github.com/omarluq/gem-relay/internal/config"
	"github.com/omarluq/gem-relay/internal/gemini"
	"github.com/omarluq/gem-relay/internal/health"
	"github.com/omarluq/gem-relay/internal/proxy"
	"github.com/omarluq/gem-relay/internal/registry"
	"github.com/omarluq/gem-relay/internal/stream"
)

const (
	keyA = "AIzaTest-key-aaaa"
	keyB = "AIzaTest-key-bbbb"
	keyC = "AIzaTest-key-cccc"
)

// attemptResult scripts one upstream attempt for the fake.
type attemptResult struct {
	body   string
	err    error
	status int
}

// fakeUpstream pops one scripted result per call and records the
// credential each attempt carried. Generate and Stream share the script.
type fakeUpstream struct {
	mu      sync.Mutex
	script  []attemptResult
	keys    []string
	models  []string
	sseBody bool
}

func (f *fakeUpstream) next(apiKey, model string) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, apiKey)
	f.models = append(f.models, model)

	if len(f.script) == 0 {
		panic("fakeUpstream: script exhausted")
	}
	res := f.script[0]
	f.script = f.script[1:]
	if res.err != nil {
		return nil, res.err
	}
	status := res.status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := "application/json"
	if f.sseBody {
		contentType = "text/event-stream"
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       io.NopCloser(strings.NewReader(res.body)),
	}, nil
}

func (f *fakeUpstream) Generate(_ context.Context, apiKey, model string, _ []byte) (*http.Response, error) {
	return f.next(apiKey, model)
}

func (f *fakeUpstream) Stream(_ context.Context, apiKey, model string, _ []byte) (*http.Response, error) {
	return f.next(apiKey, model)
}

func newHandlerFixture(t *testing.T, up *fakeUpstream, keys ...string) (*proxy.GenerateHandler, *registry.Registry) {
	t.Helper()
	if len(keys) == 0 {
		keys = []string{keyA, keyB, keyC}
	}
	reg := registry.New(keys, registry.Options{MaxFailures: 3, Timezone: "UTC"}, nil)
	ec := classifier.New(reg, nil)
	source := proxy.NewRegistryKeySource(reg, ec)

	engine, err := stream.New(up, stream.Options{MaxRetries: 2, SwallowThoughts: true}, nil)
	require.NoError(t, err)

	runtime := config.NewRuntime(&config.Config{
		Keys: config.KeysConfig{MaxRetries: 3},
	})

	h, err := proxy.NewGenerateHandler(runtime, source, reg, up, engine, nil)
	require.NoError(t, err)
	return h, reg
}

func doGenerate(h *proxy.GenerateHandler, target string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/"+target, strings.NewReader(body))
	req.SetPathValue("model", target)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGenerateSuccessFirstAttempt(t *testing.T) {
	up := &fakeUpstream{script: []attemptResult{{body: `{"candidates":[]}`}}}
	h, reg := newHandlerFixture(t, up)

	rec := doGenerate(h, "gemini-2.5-flash:generateContent", `{"contents":[]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"candidates":[]}`, rec.Body.String())
	require.Len(t, up.keys, 1)
	assert.Equal(t, keyA, up.keys[0])
	assert.Equal(t, "gemini-2.5-flash", up.models[0])
	assert.Equal(t, 0, reg.FailCounts()[keyA])
}

func TestGenerateRotatesOnRateLimit(t *testing.T) {
	up := &fakeUpstream{script: []attemptResult{
		{err: &gemini.APIError{StatusCode: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}},
		{body: `{"ok":true}`},
	}}
	h, reg := newHandlerFixture(t, up)

	rec := doGenerate(h, "gemini-2.5-pro:generateContent", `{}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, up.keys, 2)
	assert.Equal(t, keyA, up.keys[0])
	assert.NotEqual(t, keyA, up.keys[1])
	// The rate limit benched keyA for this model only.
	assert.True(t, reg.IsCoolingDown(keyA, "gemini-2.5-pro"))
	assert.False(t, reg.IsCoolingDown(keyA, "gemini-2.5-flash"))
	assert.Contains(t, reg.ValidKeys(), keyA)
}

func TestGenerateAuthFailureRetiresCredential(t *testing.T) {
	up := &fakeUpstream{script: []attemptResult{
		{err: &gemini.APIError{StatusCode: 401, Status: "UNAUTHENTICATED", Message: "bad key"}},
		{body: `{"ok":true}`},
	}}
	h, reg := newHandlerFixture(t, up)

	rec := doGenerate(h, "gemini-2.5-flash:generateContent", `{}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, reg.ValidKeys(), keyA)
	assert.Contains(t, reg.InvalidKeys(), keyA)
	require.Len(t, up.keys, 2)
	assert.NotEqual(t, keyA, up.keys[1])
}

func TestGenerateExhaustedReturnsLastError(t *testing.T) {
	serverErr := &gemini.APIError{StatusCode: 503, Status: "UNAVAILABLE", Message: "overloaded"}
	up := &fakeUpstream{script: []attemptResult{
		{err: serverErr}, {err: serverErr}, {err: serverErr},
	}}
	h, _ := newHandlerFixture(t, up)

	rec := doGenerate(h, "gemini-2.5-flash:generateContent", `{}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAVAILABLE")
	assert.Contains(t, rec.Body.String(), "overloaded")
	assert.Len(t, up.keys, 3)
}

func TestGenerateStopsWhenNoAlternativeCredential(t *testing.T) {
	// One credential, terminal failure: the driver gives up instead of
	// hammering the same key.
	up := &fakeUpstream{script: []attemptResult{
		{err: &gemini.APIError{StatusCode: 400, Status: "INVALID_ARGUMENT", Message: "bad request"}},
	}}
	h, _ := newHandlerFixture(t, up, keyA)

	rec := doGenerate(h, "gemini-2.5-flash:generateContent", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, up.keys, 1)
}

func TestGenerateCircuitOpenShortCircuits(t *testing.T) {
	up := &fakeUpstream{script: []attemptResult{{err: health.ErrCircuitOpen}}}
	h, reg := newHandlerFixture(t, up)

	rec := doGenerate(h, "gemini-2.5-flash:generateContent", `{}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Len(t, up.keys, 1)
	// A tripped breaker never charges the credential.
	assert.Equal(t, 0, reg.FailCounts()[keyA])
}

func TestGenerateUnknownOperation(t *testing.T) {
	up := &fakeUpstream{}
	h, _ := newHandlerFixture(t, up)

	rec := doGenerate(h, "gemini-2.5-flash:countTokens", `{}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, up.keys)
}

func TestGenerateMissingVerb(t *testing.T) {
	up := &fakeUpstream{}
	h, _ := newHandlerFixture(t, up)

	rec := doGenerate(h, "gemini-2.5-flash", `{}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamRelaysUpstreamEvents(t *testing.T) {
	body := fmt.Sprintf("data: %s\n\n", `{"candidates":[{"content":{"parts":[{"text":"Hello."}]},"finishReason":"STOP"}]}`)
	up := &fakeUpstream{sseBody: true, script: []attemptResult{{body: body}}}
	h, _ := newHandlerFixture(t, up)

	rec := doGenerate(h, "gemini-2.5-flash:streamGenerateContent", `{"contents":[]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"text":"Hello."`)
	assert.True(t, rec.Flushed)
	require.Len(t, up.keys, 1)
}

func TestStreamRotatesOnOpenFailure(t *testing.T) {
	body := fmt.Sprintf("data: %s\n\n", `{"candidates":[{"content":{"parts":[{"text":"Done!"}]},"finishReason":"STOP"}]}`)
	up := &fakeUpstream{sseBody: true, script: []attemptResult{
		{err: &gemini.APIError{StatusCode: 500, Status: "INTERNAL", Message: "boom"}},
		{body: body},
	}}
	h, _ := newHandlerFixture(t, up)

	rec := doGenerate(h, "gemini-2.5-flash:streamGenerateContent", `{"contents":[]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Done!")
	require.Len(t, up.keys, 2)
	assert.NotEqual(t, up.keys[0], up.keys[1])
}

func TestStreamOpenExhaustedReturnsJSONError(t *testing.T) {
	serverErr := &gemini.APIError{StatusCode: 502, Status: "UNAVAILABLE", Message: "bad gateway"}
	up := &fakeUpstream{script: []attemptResult{
		{err: serverErr}, {err: serverErr}, {err: serverErr},
	}}
	h, _ := newHandlerFixture(t, up)

	rec := doGenerate(h, "gemini-2.5-flash:streamGenerateContent", `{}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "bad gateway")
}
