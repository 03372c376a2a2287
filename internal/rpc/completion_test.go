package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/corelink-io/corelink-core/internal/correlation"
	"github.com/corelink-io/corelink-core/internal/infrastructure/logging"
)

func newTestCompleter(t *testing.T, f *testFixture) *Completer {
	t.Helper()
	return NewCompleter(CompleterDeps{
		Dispatcher: f.dispatcher,
		Devices:    f.devices,
		Logger:     logging.Default(),
	})
}

func ackTopic(targetID, correlationID string) string {
	return "corelink/rpc/ack/" + targetID + "/" + correlationID
}

func replyTopic(targetID, correlationID string) string {
	return "corelink/rpc/response/" + targetID + "/" + correlationID
}

func TestStartSubscribes(t *testing.T) {
	f := newTestFixture(t)
	c := newTestCompleter(t, f)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, topic := range []string{"corelink/rpc/ack/+/+", "corelink/rpc/response/+/+"} {
		if _, ok := f.devices.subscribed[topic]; !ok {
			t.Errorf("not subscribed to %s", topic)
		}
	}
}

func TestAckTwoWayAdvancesDelivered(t *testing.T) {
	f := newTestFixture(t)
	c := newTestCompleter(t, f)

	call, err := f.dispatcher.Dispatch(context.Background(), "device-1", "", false, CallRequest{
		Method:     "getState",
		Persistent: true,
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	id := call.CorrelationID.String()
	if err := c.handleAck(ackTopic("device-1", id), nil); err != nil {
		t.Fatalf("handleAck() error = %v", err)
	}

	record, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if record.Status != StatusDelivered {
		t.Errorf("record status = %s, want DELIVERED", record.Status)
	}

	// Two-way: the waiter keeps waiting after the ack.
	if got := f.registry.Pending(); got != 1 {
		t.Errorf("registry Pending() = %d, want 1", got)
	}
	if !call.Delivered() {
		t.Error("call not marked delivered")
	}
}

func TestAckOneWayResolvesSuccessful(t *testing.T) {
	f := newTestFixture(t)
	c := newTestCompleter(t, f)

	call, err := f.dispatcher.Dispatch(context.Background(), "device-2", "", true, CallRequest{
		Method:     "beep",
		Persistent: true,
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	id := call.CorrelationID.String()
	if err := c.handleAck(ackTopic("device-2", id), nil); err != nil {
		t.Fatalf("handleAck() error = %v", err)
	}

	out, err := call.Handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if out.Kind != correlation.OutcomeReply {
		t.Errorf("outcome kind = %v, want reply", out.Kind)
	}
	if out.Payload != nil {
		t.Errorf("one-way outcome payload = %q, want empty", out.Payload)
	}

	record, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if record.Status != StatusSuccessful {
		t.Errorf("record status = %s, want SUCCESSFUL", record.Status)
	}
	if got := f.dispatcher.PendingCount(); got != 0 {
		t.Errorf("PendingCount() = %d, want 0", got)
	}
}

func TestReplyResolvesAndStoresResponse(t *testing.T) {
	f := newTestFixture(t)
	c := newTestCompleter(t, f)

	call, err := f.dispatcher.Dispatch(context.Background(), "device-3", "", false, CallRequest{
		Method:     "getState",
		Persistent: true,
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	id := call.CorrelationID.String()

	// Full happy path: ack, then application reply.
	if err := c.handleAck(ackTopic("device-3", id), nil); err != nil {
		t.Fatalf("handleAck() error = %v", err)
	}
	reply := []byte(`{"result":"ok"}`)
	if err := c.handleReply(replyTopic("device-3", id), reply); err != nil {
		t.Fatalf("handleReply() error = %v", err)
	}

	out, err := call.Handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if out.Kind != correlation.OutcomeReply {
		t.Errorf("outcome kind = %v, want reply", out.Kind)
	}
	if string(out.Payload) != string(reply) {
		t.Errorf("outcome payload = %s", out.Payload)
	}

	record, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if record.Status != StatusSuccessful {
		t.Errorf("record status = %s, want SUCCESSFUL", record.Status)
	}
	if string(record.Response) != string(reply) {
		t.Errorf("stored response = %s, want %s", record.Response, reply)
	}

	// QUEUED → SENT → DELIVERED → SUCCESSFUL, in order.
	history := f.repo.statusHistory(id)
	want := []Status{StatusQueued, StatusSent, StatusDelivered, StatusSuccessful}
	if len(history) != len(want) {
		t.Fatalf("status history = %v, want %v", history, want)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Fatalf("status history = %v, want %v", history, want)
		}
	}
}

func TestDuplicateReplyDropped(t *testing.T) {
	f := newTestFixture(t)
	c := newTestCompleter(t, f)

	call, err := f.dispatcher.Dispatch(context.Background(), "device-4", "", false, CallRequest{
		Method:     "getState",
		Persistent: true,
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	id := call.CorrelationID.String()

	first := []byte(`{"seq":1}`)
	second := []byte(`{"seq":2}`)
	if err := c.handleReply(replyTopic("device-4", id), first); err != nil {
		t.Fatalf("handleReply() error = %v", err)
	}
	if err := c.handleReply(replyTopic("device-4", id), second); err != nil {
		t.Fatalf("handleReply() second error = %v", err)
	}

	record, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if string(record.Response) != string(first) {
		t.Errorf("stored response = %s, want first reply %s", record.Response, first)
	}
}

func TestUndecodableReply(t *testing.T) {
	f := newTestFixture(t)
	c := newTestCompleter(t, f)

	call, err := f.dispatcher.Dispatch(context.Background(), "device-5", "", false, CallRequest{
		Method: "getState",
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	id := call.CorrelationID.String()

	if err := c.handleReply(replyTopic("device-5", id), []byte("not json at all")); err != nil {
		t.Fatalf("handleReply() error = %v", err)
	}

	out, err := call.Handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if out.Kind != correlation.OutcomeFailed {
		t.Errorf("outcome kind = %v, want failed", out.Kind)
	}
	if !errors.Is(out.Err, ErrReplyNotDecodable) {
		t.Errorf("outcome err = %v, want ErrReplyNotDecodable", out.Err)
	}
}

func TestTimeoutBeforeDelivery(t *testing.T) {
	f := newTestFixture(t)
	// The completer claims the registry's timeout callback at creation.
	newTestCompleter(t, f)

	// An absolute expiration in the near future keeps the test fast.
	call, err := f.dispatcher.Dispatch(context.Background(), "device-6", "", false, CallRequest{
		Method:         "getState",
		Persistent:     true,
		ExpirationTime: time.Now().Add(30 * time.Millisecond).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := call.Handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if out.Kind != correlation.OutcomeTimeout {
		t.Fatalf("outcome kind = %v, want timeout", out.Kind)
	}

	// The registry's timeout callback runs on the timer goroutine; give
	// the record update a moment to land.
	waitForStatus(t, f.repo, call.CorrelationID.String(), StatusTimeout)
}

func TestTimeoutAfterDeliveryIsExpired(t *testing.T) {
	f := newTestFixture(t)
	c := newTestCompleter(t, f)

	call, err := f.dispatcher.Dispatch(context.Background(), "device-7", "", false, CallRequest{
		Method:         "getState",
		Persistent:     true,
		ExpirationTime: time.Now().Add(60 * time.Millisecond).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	id := call.CorrelationID.String()

	if err := c.handleAck(ackTopic("device-7", id), nil); err != nil {
		t.Fatalf("handleAck() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := call.Handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if out.Kind != correlation.OutcomeTimeout {
		t.Fatalf("outcome kind = %v, want timeout", out.Kind)
	}

	waitForStatus(t, f.repo, id, StatusExpired)
}

func TestLateReplyAfterTimeout(t *testing.T) {
	f := newTestFixture(t)
	c := newTestCompleter(t, f)

	call, err := f.dispatcher.Dispatch(context.Background(), "device-8", "", false, CallRequest{
		Method:         "getState",
		Persistent:     true,
		ExpirationTime: time.Now().Add(30 * time.Millisecond).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	id := call.CorrelationID.String()

	if _, err := call.Handle.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	waitForStatus(t, f.repo, id, StatusTimeout)

	// The late reply loses: dropped silently, record stays TIMEOUT.
	if err := c.handleReply(replyTopic("device-8", id), []byte(`{"too":"late"}`)); err != nil {
		t.Fatalf("handleReply() error = %v", err)
	}

	record, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if record.Status != StatusTimeout {
		t.Errorf("record status = %s, want TIMEOUT", record.Status)
	}
	if record.Response != nil {
		t.Errorf("late reply stored: %s", record.Response)
	}
}

func TestEngineReplyResolves(t *testing.T) {
	f := newTestFixture(t)
	c := newTestCompleter(t, f)

	call, err := f.dispatcher.DispatchEngine(context.Background(), "ASSET/a-1", "", 8000, json.RawMessage(`{"q":1}`))
	if err != nil {
		t.Fatalf("DispatchEngine() error = %v", err)
	}

	reply := []byte(`{"verdict":"pass"}`)
	c.handleEngineReply(call.CorrelationID.String(), reply)

	out, err := call.Handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if out.Kind != correlation.OutcomeReply {
		t.Errorf("outcome kind = %v, want reply", out.Kind)
	}
	if string(out.Payload) != string(reply) {
		t.Errorf("outcome payload = %s", out.Payload)
	}
}

func TestReplyForDeletedRecordDoesNotResurrect(t *testing.T) {
	f := newTestFixture(t)
	c := newTestCompleter(t, f)

	call, err := f.dispatcher.Dispatch(context.Background(), "device-9", "", false, CallRequest{
		Method:     "getState",
		Persistent: true,
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	id := call.CorrelationID.String()

	if err := f.dispatcher.DeletePersistent(context.Background(), call.CorrelationID); err != nil {
		t.Fatalf("DeletePersistent() error = %v", err)
	}

	if err := c.handleReply(replyTopic("device-9", id), []byte(`{"zombie":true}`)); err != nil {
		t.Fatalf("handleReply() error = %v", err)
	}

	if _, err := f.repo.GetByID(context.Background(), id); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("deleted record came back: err = %v", err)
	}
}

// waitForStatus polls until the record reaches the wanted status or the
// test deadline hits.
func waitForStatus(t *testing.T, repo Repository, id string, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		record, err := repo.GetByID(context.Background(), id)
		if err == nil && record.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	record, err := repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("record never reached %s: %v", want, err)
	}
	t.Fatalf("record status = %s, want %s", record.Status, want)
}
