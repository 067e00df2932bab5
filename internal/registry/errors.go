package registry

import "errors"

// ErrKeyNotFound is returned when an operation names a credential the
// registry does not know.
var ErrKeyNotFound = errors.New("registry: key not found")
