package rpc

import "errors"

// Domain-specific errors for the RPC bridge.
var (
	// ErrCallNotFound is returned when a call record does not exist.
	ErrCallNotFound = errors.New("rpc: call record not found")

	// ErrCallExists is returned when creating a record whose id is taken.
	ErrCallExists = errors.New("rpc: call record already exists")

	// ErrInvalidTransition is returned when a status update would move a
	// record backwards or out of a terminal state. Callers treat this as
	// "another writer got there first" and drop the event.
	ErrInvalidTransition = errors.New("rpc: illegal lifecycle transition")

	// ErrMethodRequired is returned when a call request has no method.
	ErrMethodRequired = errors.New("rpc: method is required")

	// ErrInvalidParams is returned when params is not valid JSON.
	ErrInvalidParams = errors.New("rpc: params must be valid JSON")

	// ErrReplyNotDecodable marks a reply that arrived but could not be
	// parsed as JSON. Mapped to 406 at the HTTP boundary.
	ErrReplyNotDecodable = errors.New("rpc: reply payload is not valid JSON")

	// ErrEngineDisabled is returned when an engine push is attempted but
	// no engine bus is configured.
	ErrEngineDisabled = errors.New("rpc: engine bus is not configured")
)

// isLifecycleNoop reports whether a record update failed only because
// the record is gone or already past the requested state. Both cases
// mean another writer won the race and the event should be dropped.
func isLifecycleNoop(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrCallNotFound)
}
