// Package proxy implements the HTTP relay server for gem-relay.
package proxy

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/omarluq/gem-relay/internal/gemini"
)

// IsBodyTooLargeError checks if an error is from http.MaxBytesReader.
func IsBodyTooLargeError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

// WriteBodyTooLargeError writes a 413 Request Entity Too Large response.
func WriteBodyTooLargeError(w http.ResponseWriter) {
	WriteError(w, http.StatusRequestEntityTooLarge, "INVALID_ARGUMENT",
		"Request body exceeds the maximum allowed size")
}

// ErrorResponse matches the Gemini API error envelope exactly, so relay
// failures are indistinguishable from upstream ones to clients.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the HTTP code, message, and canonical status.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// WriteError writes a JSON error response in Gemini API format.
func WriteError(w http.ResponseWriter, statusCode int, status, message string) {
	response := ErrorResponse{
		Error: ErrorDetail{
			Code:    statusCode,
			Message: message,
			Status:  status,
		},
	}

	writeJSON(w, statusCode, response)
}

// WriteAPIError re-emits an upstream error with its original code,
// status, and message.
func WriteAPIError(w http.ResponseWriter, apiErr *gemini.APIError) {
	status := apiErr.Status
	if status == "" {
		status = rpcStatus(apiErr.StatusCode)
	}
	WriteError(w, apiErr.StatusCode, status, apiErr.Message)
}

// rpcStatus maps an HTTP status code to the canonical status string used
// in Gemini error envelopes.
func rpcStatus(code int) string {
	switch code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "DEADLINE_EXCEEDED"
	case http.StatusInternalServerError:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
