package rpc

import (
	"sync"

	"github.com/google/uuid"
)

// pendingCalls tracks in-flight dispatches by correlation id. It shadows
// the correlation registry with the call metadata the completion handler
// needs (one-way flag, delivered flag, dispatch time) that the registry
// deliberately does not carry.
type pendingCalls struct {
	mu    sync.RWMutex
	calls map[uuid.UUID]*PendingCall
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[uuid.UUID]*PendingCall)}
}

func (p *pendingCalls) add(call *PendingCall) {
	p.mu.Lock()
	p.calls[call.CorrelationID] = call
	p.mu.Unlock()
}

func (p *pendingCalls) get(id uuid.UUID) (*PendingCall, bool) {
	p.mu.RLock()
	call, ok := p.calls[id]
	p.mu.RUnlock()
	return call, ok
}

// remove detaches and returns the call, if present.
func (p *pendingCalls) remove(id uuid.UUID) (*PendingCall, bool) {
	p.mu.Lock()
	call, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	p.mu.Unlock()
	return call, ok
}

func (p *pendingCalls) len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.calls)
}
