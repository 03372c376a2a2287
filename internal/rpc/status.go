package rpc

// Status is the lifecycle state of a durable call record.
type Status string

// Call lifecycle states. The happy path for a two-way persistent call is
// QUEUED → SENT → DELIVERED → SUCCESSFUL; one-way calls jump from
// delivery straight to SUCCESSFUL. TIMEOUT, EXPIRED, and FAILED are
// terminal exits. Deletion removes the record instead of marking it, so
// there is no stored DELETED state.
const (
	// StatusQueued means the record exists but the envelope has not been
	// handed to the transport yet.
	StatusQueued Status = "QUEUED"

	// StatusSent means the envelope was handed to the transport; awaiting
	// a delivery acknowledgement.
	StatusSent Status = "SENT"

	// StatusDelivered means the transport confirmed the target received
	// the envelope; awaiting the target's application-level reply.
	StatusDelivered Status = "DELIVERED"

	// StatusSuccessful is terminal: the reply arrived (or, for one-way
	// calls, delivery was confirmed).
	StatusSuccessful Status = "SUCCESSFUL"

	// StatusTimeout is terminal: the deadline passed with no delivery
	// acknowledgement. The target is presumed unreachable.
	StatusTimeout Status = "TIMEOUT"

	// StatusExpired is terminal: the target received the envelope but
	// never answered before the deadline.
	StatusExpired Status = "EXPIRED"

	// StatusFailed is terminal: the transport or backend reported an
	// explicit error.
	StatusFailed Status = "FAILED"
)

// allowedTransitions is the single source of truth for legal lifecycle
// moves. Forward jumps are allowed (an acknowledgement can arrive before
// the SENT update lands), backward moves and exits from terminal states
// are not. TIMEOUT is only reachable before delivery; after delivery the
// deadline exit is EXPIRED.
var allowedTransitions = map[Status][]Status{
	StatusQueued:    {StatusSent, StatusDelivered, StatusSuccessful, StatusTimeout, StatusExpired, StatusFailed},
	StatusSent:      {StatusDelivered, StatusSuccessful, StatusTimeout, StatusExpired, StatusFailed},
	StatusDelivered: {StatusSuccessful, StatusExpired, StatusFailed},
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusSent, StatusDelivered, StatusSuccessful,
		StatusTimeout, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusTimeout, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a record in state from may move to state
// to. Illegal moves are rejected here, centrally, rather than relying on
// every caller to check first.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
