package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corelink-io/corelink-core/internal/infrastructure/logging"
)

// numShards spreads the pending map across independent locks so that
// high-rate register/resolve traffic does not serialize on one mutex.
const numShards = 16

type entry struct {
	handle   *Handle
	deadline time.Time
	timer    *time.Timer
}

type shard struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

// Registry tracks pending exchanges keyed by correlation id.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Registry struct {
	shards     [numShards]*shard
	sweepEvery time.Duration
	logger     *logging.Logger

	// now is the shared clock for deadlines, timers, and the sweep.
	// Replaced in tests.
	now func() time.Time

	// onTimeout, when set, is invoked after an entry auto-resolves at
	// its deadline. Set before Start; not guarded afterwards.
	onTimeout func(id uuid.UUID)

	closed bool
	mu     sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a registry that sweeps for overdue entries at the
// given interval.
func NewRegistry(sweepEvery time.Duration, logger *logging.Logger) *Registry {
	r := &Registry{
		sweepEvery: sweepEvery,
		logger:     logger,
		now:        time.Now,
	}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[uuid.UUID]*entry)}
	}
	return r
}

// SetOnTimeout registers a callback invoked whenever an entry expires at
// its deadline without a reply. Must be called before Start.
func (r *Registry) SetOnTimeout(fn func(id uuid.UUID)) {
	r.onTimeout = fn
}

// Start launches the background sweep. The sweep is a backstop: the
// per-entry timers do the real expiry work, the sweep only catches
// entries whose timer was lost to a clock jump or a failed fire.
func (r *Registry) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.sweepLoop(sweepCtx)
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.sweep(); n > 0 {
				r.logger.Debug("correlation sweep expired entries", "count", n)
			}
		}
	}
}

// sweep expires every entry past its deadline and returns how many it
// resolved.
func (r *Registry) sweep() int {
	now := r.now()
	var overdue []uuid.UUID

	for _, s := range r.shards {
		s.mu.Lock()
		for id, e := range s.entries {
			if !e.deadline.After(now) {
				overdue = append(overdue, id)
			}
		}
		s.mu.Unlock()
	}

	expired := 0
	for _, id := range overdue {
		if r.expire(id) {
			expired++
		}
	}
	return expired
}

// Close stops the sweep and cancels every pending entry.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	for _, s := range r.shards {
		s.mu.Lock()
		for id, e := range s.entries {
			e.timer.Stop()
			delete(s.entries, id)
			e.handle.deliver(Outcome{Kind: OutcomeCancelled})
		}
		s.mu.Unlock()
	}

	return nil
}

func (r *Registry) shardFor(id uuid.UUID) *shard {
	// Last byte of the UUID is random in v4; good enough to spread load.
	return r.shards[id[15]%numShards]
}

// Register adds a pending entry for id, expiring at deadline.
//
// Duplicate ids are rejected: accepting a second registration would let
// one reply resolve the wrong caller.
func (r *Registry) Register(id uuid.UUID, deadline time.Time) (*Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	h := newHandle(id)
	e := &entry{handle: h, deadline: deadline}

	s := r.shardFor(id)
	s.mu.Lock()
	if _, exists := s.entries[id]; exists {
		s.mu.Unlock()
		return nil, ErrDuplicateID
	}
	// The timer is attached before the entry becomes visible: a resolver
	// that wins the instant we unlock must observe the timer, or remove
	// could not stop it. An already-due timer fires into expire, which
	// blocks on this shard lock until the entry is in the map.
	e.timer = time.AfterFunc(deadline.Sub(r.now()), func() {
		r.expire(id)
	})
	s.entries[id] = e
	s.mu.Unlock()

	return h, nil
}

// Resolve completes the pending entry for id with the given outcome.
//
// Returns true when this call won the resolution. A false return means
// the id was unknown or already resolved; the outcome is dropped and
// callers treat the event as late.
func (r *Registry) Resolve(id uuid.UUID, out Outcome) bool {
	e, ok := r.remove(id)
	if !ok {
		return false
	}
	e.handle.deliver(out)
	return true
}

// Cancel withdraws the pending entry for id, resolving any waiter with
// OutcomeCancelled. Returns true when an entry was removed.
func (r *Registry) Cancel(id uuid.UUID) bool {
	e, ok := r.remove(id)
	if !ok {
		return false
	}
	e.handle.deliver(Outcome{Kind: OutcomeCancelled})
	return true
}

// expire resolves id with OutcomeTimeout and fires the timeout callback.
// Shared by the per-entry timer and the sweep; removal under the shard
// lock makes the two paths race-free.
func (r *Registry) expire(id uuid.UUID) bool {
	e, ok := r.remove(id)
	if !ok {
		return false
	}
	e.handle.deliver(Outcome{Kind: OutcomeTimeout})
	if r.onTimeout != nil {
		r.onTimeout(id)
	}
	return true
}

// remove detaches the entry for id, stopping its timer. All resolution
// paths funnel through here, which is what makes resolution exactly-once.
func (r *Registry) remove(id uuid.UUID) (*entry, bool) {
	s := r.shardFor(id)
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if !ok {
		return nil, false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	return e, true
}

// Pending returns the number of unresolved entries.
func (r *Registry) Pending() int {
	total := 0
	for _, s := range r.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}
