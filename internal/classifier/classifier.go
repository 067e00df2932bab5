// Package classifier maps upstream failures to an error taxonomy and to the
// disciplinary action taken against the credential that hit them. Structured
// Gemini error statuses take precedence over raw HTTP codes, and every
// classified error is recorded through an asynchronous sink so the hot path
// never blocks on logging.
package classifier

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/omarluq/gem-relay/internal/gemini"
)

// Kind is the relay's upstream error taxonomy.
type Kind string

const (
	KindRateLimit          Kind = "RATE_LIMIT"
	KindAuthError          Kind = "AUTH_ERROR"
	KindClientError        Kind = "CLIENT_ERROR"
	KindServerError        Kind = "SERVER_ERROR"
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
	KindTimeout            Kind = "TIMEOUT_ERROR"
	KindUnknown            Kind = "UNKNOWN"
)

// KeyAction is the consequence a classified error carries for the credential
// that produced it.
type KeyAction string

const (
	// ActionCoolDownModel benches the credential for one model until the
	// next quota reset and evicts it from the usage pool.
	ActionCoolDownModel KeyAction = "cool_down_model"
	// ActionMarkFailed retires the credential outright.
	ActionMarkFailed KeyAction = "mark_failed"
	// ActionDecrementAndEvict charges one failure and evicts the credential
	// from the usage pool, leaving it valid for later re-verification.
	ActionDecrementAndEvict KeyAction = "decrement_and_evict"
	// ActionCountOnly charges one failure and nothing else.
	ActionCountOnly KeyAction = "count_only"
)

// Classification is the verdict for a single upstream failure.
type Classification struct {
	Kind       Kind
	StatusCode int
	KeyAction  KeyAction
	Message    string
}

// HTTPStatus returns the status code to surface to the relay's own caller:
// the upstream code when one was observed, otherwise the canonical code for
// the kind.
func (c Classification) HTTPStatus() int {
	if c.StatusCode > 0 {
		return c.StatusCode
	}
	switch c.Kind {
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindAuthError:
		return http.StatusUnauthorized
	case KindClientError:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// statusKinds maps Gemini's structured error statuses to kinds. The
// structured status wins over the HTTP code when both are present.
var statusKinds = map[string]Kind{
	"RESOURCE_EXHAUSTED":  KindRateLimit,
	"UNAUTHENTICATED":     KindAuthError,
	"PERMISSION_DENIED":   KindAuthError,
	"INVALID_ARGUMENT":    KindClientError,
	"NOT_FOUND":           KindClientError,
	"FAILED_PRECONDITION": KindClientError,
	"DEADLINE_EXCEEDED":   KindTimeout,
	"INTERNAL":            KindServerError,
	"UNAVAILABLE":         KindServiceUnavailable,
}

// Classify inspects an upstream failure and returns its kind, the HTTP code
// observed (zero for transport errors), the key action, and a message. The
// model name decides the rate-limit action: a known model cools down, an
// unknown one retires the credential.
func Classify(err error, model string) Classification {
	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) {
		kind, ok := statusKinds[apiErr.Status]
		if !ok {
			kind = kindForStatusCode(apiErr.StatusCode)
		}
		return Classification{
			Kind:       kind,
			StatusCode: apiErr.StatusCode,
			KeyAction:  actionForKind(kind, model),
			Message:    apiErr.Message,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Classification{
			Kind:      KindTimeout,
			KeyAction: actionForKind(KindTimeout, model),
			Message:   err.Error(),
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Classification{
			Kind:      KindTimeout,
			KeyAction: actionForKind(KindTimeout, model),
			Message:   err.Error(),
		}
	}

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Classification{
		Kind:      KindUnknown,
		KeyAction: ActionCountOnly,
		Message:   msg,
	}
}

func kindForStatusCode(code int) Kind {
	switch code {
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthError
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return KindClientError
	case http.StatusRequestTimeout:
		return KindTimeout
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		return KindServerError
	case http.StatusServiceUnavailable:
		return KindServiceUnavailable
	default:
		return KindUnknown
	}
}

func actionForKind(kind Kind, model string) KeyAction {
	switch kind {
	case KindRateLimit:
		// Quota is tracked per model upstream. Without a model there is
		// nothing to cool down, so the credential is retired instead.
		if model != "" {
			return ActionCoolDownModel
		}
		return ActionMarkFailed
	case KindAuthError, KindClientError:
		return ActionMarkFailed
	case KindTimeout, KindServerError, KindServiceUnavailable:
		return ActionDecrementAndEvict
	default:
		return ActionCountOnly
	}
}
