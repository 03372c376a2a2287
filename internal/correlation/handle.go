package correlation

import (
	"context"

	"github.com/google/uuid"
)

// OutcomeKind classifies how a pending exchange ended.
type OutcomeKind int

// Outcome kinds, in the order a caller usually cares about them.
const (
	// OutcomeReply carries the responder's payload.
	OutcomeReply OutcomeKind = iota

	// OutcomeTimeout means the deadline passed with no reply.
	OutcomeTimeout

	// OutcomeCancelled means the entry was withdrawn before resolution,
	// for example because the underlying call record was deleted.
	OutcomeCancelled

	// OutcomeFailed means delivery failed before a reply was possible.
	OutcomeFailed
)

// String returns a short label for logging.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeReply:
		return "reply"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the single result of a pending exchange.
type Outcome struct {
	Kind OutcomeKind

	// Payload is the raw reply body. Set only for OutcomeReply.
	Payload []byte

	// Err describes a delivery failure. Set only for OutcomeFailed.
	Err error
}

// Handle lets exactly one outcome be observed for a registered id.
//
// Handles are created by Registry.Register and resolved internally; the
// buffered channel means resolution never blocks on an absent waiter.
type Handle struct {
	id uuid.UUID
	ch chan Outcome
}

func newHandle(id uuid.UUID) *Handle {
	return &Handle{
		id: id,
		ch: make(chan Outcome, 1),
	}
}

// ID returns the correlation id this handle was registered under.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Wait blocks until the exchange resolves or ctx is done.
//
// A context error abandons the wait but does NOT cancel the entry: the
// registry keeps it until its deadline so a late reply can still advance
// any durable record tied to the id. Callers that want the entry gone
// must cancel it explicitly.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case out := <-h.ch:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// deliver hands the outcome to the waiter. The registry removes the
// entry before calling deliver, so this runs at most once per handle;
// the buffer absorbs the send when nobody is waiting.
func (h *Handle) deliver(out Outcome) {
	h.ch <- out
}
