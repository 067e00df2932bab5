package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/samber/mo"
)

// CookieName is the cookie that carries the admin token after a
// dashboard login.
const CookieName = "auth_token"

// CookieAuthenticator validates auth_token cookie authentication.
// Uses constant-time comparison to prevent timing attacks.
type CookieAuthenticator struct {
	// expectedHash is the pre-computed SHA-256 hash of the admin token.
	expectedHash [32]byte
}

// NewCookieAuthenticator creates a new cookie authenticator.
// The expected token is hashed at creation time for secure comparison.
func NewCookieAuthenticator(expectedToken string) *CookieAuthenticator {
	return &CookieAuthenticator{
		expectedHash: sha256.Sum256([]byte(expectedToken)),
	}
}

// Validate checks the auth_token cookie against the expected value.
// Uses constant-time comparison to prevent timing attacks.
func (a *CookieAuthenticator) Validate(r *http.Request) Result {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return Result{
			Valid: false,
			Type:  TypeCookie,
			Error: "missing auth_token cookie",
		}
	}

	providedHash := sha256.Sum256([]byte(cookie.Value))

	if subtle.ConstantTimeCompare(providedHash[:], a.expectedHash[:]) != 1 {
		return Result{
			Valid: false,
			Type:  TypeCookie,
			Error: "invalid auth_token cookie",
		}
	}

	return Result{
		Valid: true,
		Type:  TypeCookie,
		// Don't include the actual token in the result for security
	}
}

// Type returns the authentication type (cookie).
func (a *CookieAuthenticator) Type() Type {
	return TypeCookie
}

// ValidateResult validates the auth_token cookie and returns mo.Result[Result].
// This is an alternative API that supports Railway-Oriented Programming patterns.
func (a *CookieAuthenticator) ValidateResult(r *http.Request) mo.Result[Result] {
	result := a.Validate(r)
	if result.Valid {
		return mo.Ok(result)
	}
	return mo.Err[Result](NewValidationError(result.Type, result.Error))
}
