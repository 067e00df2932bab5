// Package auth validates requests against the relay's admin token.
// The token may arrive as the auth_token cookie set by a dashboard
// login or as an explicit X-Admin-Token header for scripted access.
package auth

import "net/http"

// Type represents the credential carrier used.
type Type string

const (
	// TypeCookie represents auth_token cookie authentication.
	TypeCookie Type = "cookie"
	// TypeHeader represents X-Admin-Token header authentication.
	TypeHeader Type = "header"
	// TypeNone represents no credentials or failed auth with no valid type.
	TypeNone Type = "none"
)

// Result contains the outcome of an authentication attempt.
type Result struct {
	// Type indicates which carrier was used (or attempted).
	Type Type
	// Error contains the error message if authentication failed.
	Error string
	// Valid indicates whether authentication succeeded.
	Valid bool
}

// Authenticator defines the interface for admin-token validators.
type Authenticator interface {
	// Validate checks the request for valid credentials.
	// Returns a Result with Valid=true if authentication succeeds.
	Validate(r *http.Request) Result

	// Type returns the credential carrier this authenticator handles.
	Type() Type
}
