package correlation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/corelink-io/corelink-core/internal/infrastructure/logging"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(time.Hour, logging.Default())
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return r
}

func TestRegisterAndResolve(t *testing.T) {
	r := newTestRegistry(t)

	id := uuid.New()
	h, err := r.Register(id, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if h.ID() != id {
		t.Errorf("Handle.ID() = %v, want %v", h.ID(), id)
	}
	if got := r.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}

	if !r.Resolve(id, Outcome{Kind: OutcomeReply, Payload: []byte(`{"ok":true}`)}) {
		t.Fatal("Resolve() = false, want true")
	}

	out, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if out.Kind != OutcomeReply {
		t.Errorf("outcome kind = %v, want reply", out.Kind)
	}
	if string(out.Payload) != `{"ok":true}` {
		t.Errorf("payload = %q", out.Payload)
	}

	// Entry is gone after resolution.
	if got := r.Pending(); got != 0 {
		t.Errorf("Pending() after resolve = %d, want 0", got)
	}
}

func TestRegisterDuplicateID(t *testing.T) {
	r := newTestRegistry(t)

	id := uuid.New()
	if _, err := r.Register(id, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := r.Register(id, time.Now().Add(time.Minute)); err != ErrDuplicateID {
		t.Errorf("second Register() error = %v, want ErrDuplicateID", err)
	}
}

func TestResolveUnknownID(t *testing.T) {
	r := newTestRegistry(t)

	if r.Resolve(uuid.New(), Outcome{Kind: OutcomeReply}) {
		t.Error("Resolve() on unknown id = true, want false")
	}
}

func TestResolveOnce(t *testing.T) {
	r := newTestRegistry(t)

	id := uuid.New()
	h, err := r.Register(id, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan int, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if r.Resolve(id, Outcome{Kind: OutcomeReply, Payload: []byte{byte(n)}}) {
				wins <- n
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []int
	for n := range wins {
		winners = append(winners, n)
	}
	if len(winners) != 1 {
		t.Fatalf("got %d winning resolutions, want exactly 1", len(winners))
	}

	// The delivered payload belongs to the winner.
	out, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if int(out.Payload[0]) != winners[0] {
		t.Errorf("payload from racer %d, want %d", out.Payload[0], winners[0])
	}
}

func TestResolveRacingRegister(t *testing.T) {
	r := newTestRegistry(t)

	// A resolver spinning on an id the moment Register makes it visible
	// must stop the entry's timer cleanly; the timer is attached before
	// the entry reaches the shard map, so the race detector stays quiet.
	const rounds = 200
	for i := 0; i < rounds; i++ {
		id := uuid.New()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for !r.Resolve(id, Outcome{Kind: OutcomeReply}) {
			}
		}()

		h, err := r.Register(id, time.Now().Add(time.Minute))
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		<-done

		out, err := h.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		if out.Kind != OutcomeReply {
			t.Fatalf("outcome kind = %v, want reply", out.Kind)
		}
	}

	if got := r.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
}

func TestCancel(t *testing.T) {
	r := newTestRegistry(t)

	id := uuid.New()
	h, err := r.Register(id, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if !r.Cancel(id) {
		t.Fatal("Cancel() = false, want true")
	}
	if r.Cancel(id) {
		t.Error("second Cancel() = true, want false")
	}

	out, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if out.Kind != OutcomeCancelled {
		t.Errorf("outcome kind = %v, want cancelled", out.Kind)
	}
}

func TestTimerExpiry(t *testing.T) {
	r := newTestRegistry(t)

	var mu sync.Mutex
	var expired []uuid.UUID
	r.SetOnTimeout(func(id uuid.UUID) {
		mu.Lock()
		expired = append(expired, id)
		mu.Unlock()
	})

	id := uuid.New()
	h, err := r.Register(id, time.Now().Add(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if out.Kind != OutcomeTimeout {
		t.Errorf("outcome kind = %v, want timeout", out.Kind)
	}
	if got := r.Pending(); got != 0 {
		t.Errorf("Pending() after expiry = %d, want 0", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != id {
		t.Errorf("timeout callback ids = %v, want [%v]", expired, id)
	}
}

func TestReplyBeatsTimer(t *testing.T) {
	r := newTestRegistry(t)

	timedOut := make(chan uuid.UUID, 1)
	r.SetOnTimeout(func(id uuid.UUID) {
		timedOut <- id
	})

	id := uuid.New()
	h, err := r.Register(id, time.Now().Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if !r.Resolve(id, Outcome{Kind: OutcomeReply}) {
		t.Fatal("Resolve() = false, want true")
	}

	out, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if out.Kind != OutcomeReply {
		t.Errorf("outcome kind = %v, want reply", out.Kind)
	}

	// The stopped timer must not fire the timeout callback.
	select {
	case id := <-timedOut:
		t.Errorf("timeout callback fired for %v after resolution", id)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSweepExpiresOverdueEntries(t *testing.T) {
	r := newTestRegistry(t)

	// Freeze the registry clock well past the deadlines so the sweep,
	// not the timers, is what finds the entries overdue.
	base := time.Now()
	r.now = func() time.Time { return base.Add(time.Hour) }

	var handles []*Handle
	for i := 0; i < 5; i++ {
		h, err := r.Register(uuid.New(), base.Add(time.Minute))
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		handles = append(handles, h)
	}

	// Stop the per-entry timers so only the sweep can expire them.
	for _, s := range r.shards {
		s.mu.Lock()
		for _, e := range s.entries {
			e.timer.Stop()
		}
		s.mu.Unlock()
	}

	if n := r.sweep(); n != 5 {
		t.Errorf("sweep() = %d, want 5", n)
	}
	if got := r.Pending(); got != 0 {
		t.Errorf("Pending() after sweep = %d, want 0", got)
	}

	for i, h := range handles {
		out, err := h.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		if out.Kind != OutcomeTimeout {
			t.Errorf("handle %d outcome = %v, want timeout", i, out.Kind)
		}
	}
}

func TestSweepSkipsFutureEntries(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Register(uuid.New(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if n := r.sweep(); n != 0 {
		t.Errorf("sweep() = %d, want 0", n)
	}
	if got := r.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
}

func TestCloseCancelsPending(t *testing.T) {
	r := NewRegistry(time.Hour, logging.Default())

	id := uuid.New()
	h, err := r.Register(id, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	out, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if out.Kind != OutcomeCancelled {
		t.Errorf("outcome kind = %v, want cancelled", out.Kind)
	}

	if _, err := r.Register(uuid.New(), time.Now().Add(time.Minute)); err != ErrClosed {
		t.Errorf("Register() after Close error = %v, want ErrClosed", err)
	}
}

func TestWaitContextCancelledLeavesEntry(t *testing.T) {
	r := newTestRegistry(t)

	id := uuid.New()
	h, err := r.Register(id, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.Wait(ctx); err != context.Canceled {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}

	// The entry survives an abandoned wait; a late reply still resolves.
	if got := r.Pending(); got != 1 {
		t.Errorf("Pending() after abandoned wait = %d, want 1", got)
	}
	if !r.Resolve(id, Outcome{Kind: OutcomeReply}) {
		t.Error("Resolve() after abandoned wait = false, want true")
	}
}
