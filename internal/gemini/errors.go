package gemini

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// maxErrorBody caps how much of an error response is read for decoding.
const maxErrorBody = 64 << 10

// errUpstreamStatus marks a failure-class HTTP status for the breaker.
var errUpstreamStatus = errors.New("gemini: upstream failure status")

// APIError is a structured upstream error preserving the Gemini error
// envelope: HTTP status code, canonical status string, and message.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini: upstream error %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini: upstream error %d: %s", e.StatusCode, e.Message)
}

// ParseAPIError decodes a non-2xx response into an *APIError. The
// upstream envelope is `{"error": {"code", "message", "status"}}`; a
// body that does not match still yields a usable error with the raw
// text as message. The response body is consumed.
func ParseAPIError(resp *http.Response) *APIError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if envelope := gjson.GetBytes(body, "error"); envelope.Exists() {
		apiErr.Status = envelope.Get("status").String()
		apiErr.Message = envelope.Get("message").String()
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
