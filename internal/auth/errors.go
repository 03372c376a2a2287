package auth

import "errors"

// Domain-specific errors for authentication and authorisation.
var (
	// ErrTokenInvalid is returned for malformed, expired, or badly
	// signed tokens.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrPermissionDenied is returned when the caller's role lacks the
	// required permission.
	ErrPermissionDenied = errors.New("auth: permission denied")

	// ErrAccessDenied is returned when the caller may not address the
	// requested target entity.
	ErrAccessDenied = errors.New("auth: access to target denied")
)
