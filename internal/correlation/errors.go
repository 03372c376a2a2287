package correlation

import "errors"

// Domain-specific errors for the correlation registry.
var (
	// ErrDuplicateID is returned when registering a correlation id that is
	// already pending. Correlation ids are 128-bit UUIDs, so a collision
	// means caller error, not bad luck.
	ErrDuplicateID = errors.New("correlation: id already registered")

	// ErrClosed is returned when registering on a closed registry.
	ErrClosed = errors.New("correlation: registry closed")
)
