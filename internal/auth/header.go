package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/samber/mo"
)

// HeaderName is the request header that carries the admin token for
// scripted access without a dashboard session.
const HeaderName = "X-Admin-Token"

// HeaderAuthenticator validates X-Admin-Token header authentication.
// Uses constant-time comparison to prevent timing attacks.
type HeaderAuthenticator struct {
	// expectedHash is the pre-computed SHA-256 hash of the admin token.
	expectedHash [32]byte
}

// NewHeaderAuthenticator creates a new header authenticator.
// The expected token is hashed at creation time for secure comparison.
func NewHeaderAuthenticator(expectedToken string) *HeaderAuthenticator {
	return &HeaderAuthenticator{
		expectedHash: sha256.Sum256([]byte(expectedToken)),
	}
}

// Validate checks the X-Admin-Token header against the expected value.
// Uses constant-time comparison to prevent timing attacks.
func (a *HeaderAuthenticator) Validate(r *http.Request) Result {
	providedToken := r.Header.Get(HeaderName)

	if providedToken == "" {
		return Result{
			Valid: false,
			Type:  TypeHeader,
			Error: "missing X-Admin-Token header",
		}
	}

	providedHash := sha256.Sum256([]byte(providedToken))

	if subtle.ConstantTimeCompare(providedHash[:], a.expectedHash[:]) != 1 {
		return Result{
			Valid: false,
			Type:  TypeHeader,
			Error: "invalid X-Admin-Token header",
		}
	}

	return Result{
		Valid: true,
		Type:  TypeHeader,
		// Don't include the actual token in the result for security
	}
}

// Type returns the authentication type (header).
func (a *HeaderAuthenticator) Type() Type {
	return TypeHeader
}

// ValidateResult validates the X-Admin-Token header and returns mo.Result[Result].
// This is an alternative API that supports Railway-Oriented Programming patterns.
func (a *HeaderAuthenticator) ValidateResult(r *http.Request) mo.Result[Result] {
	result := a.Validate(r)
	if result.Valid {
		return mo.Ok(result)
	}
	return mo.Err[Result](NewValidationError(result.Type, result.Error))
}
