package keypool

import "context"

// Verifier performs one upstream verification round-trip for a
// credential. A nil error means the credential is currently usable.
// *gemini.Client satisfies this interface.
type Verifier interface {
	Verify(ctx context.Context, credential string) error
}
