package engine

import "errors"

// Domain-specific errors for engine bus operations.
var (
	// ErrDisabled is returned when the engine bus is disabled in config.
	ErrDisabled = errors.New("engine: bus disabled in configuration")

	// ErrPublishFailed is returned when producing a message fails.
	ErrPublishFailed = errors.New("engine: publish failed")

	// ErrClosed is returned when operating on a closed client.
	ErrClosed = errors.New("engine: client closed")
)
