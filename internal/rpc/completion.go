package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corelink-io/corelink-core/internal/correlation"
	"github.com/corelink-io/corelink-core/internal/infrastructure/engine"
	"github.com/corelink-io/corelink-core/internal/infrastructure/logging"
	"github.com/corelink-io/corelink-core/internal/infrastructure/mqtt"
)

// recordOpTimeout bounds the database work done inside bus callbacks.
const recordOpTimeout = 5 * time.Second

// DeviceSubscriber receives messages from the device transport.
// Satisfied by *mqtt.Client.
type DeviceSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// EngineConsumer streams replies from the rule engine bus.
// Satisfied by *engine.Client.
type EngineConsumer interface {
	ConsumeReplies(ctx context.Context, handler engine.ReplyHandler) error
}

// CompleterDeps contains the dependencies for the completion handler.
type CompleterDeps struct {
	Dispatcher *Dispatcher
	Devices    DeviceSubscriber
	Engine     EngineConsumer // optional
	Logger     *logging.Logger
}

// Completer resolves pending calls from bus events and deadlines.
//
// It is the only component that calls resolve on the registry from the
// reply side; together with the registry's resolve-once guarantee this
// is what makes "at most one of reply, timeout, failure reaches the
// waiter" hold no matter which event wins the race.
type Completer struct {
	registry  *correlation.Registry
	repo      Repository
	pending   *pendingCalls
	telemetry Telemetry
	devices   DeviceSubscriber
	engine    EngineConsumer
	qos       byte
	topics    mqtt.Topics
	logger    *logging.Logger
}

// NewCompleter creates a completion handler sharing the dispatcher's
// registry and pending-call bookkeeping. It claims the registry's
// timeout callback, so it must be created before the registry starts.
func NewCompleter(deps CompleterDeps) *Completer {
	c := &Completer{
		registry:  deps.Dispatcher.registry,
		repo:      deps.Dispatcher.repo,
		pending:   deps.Dispatcher.pending,
		telemetry: deps.Dispatcher.telemetry,
		devices:   deps.Devices,
		engine:    deps.Engine,
		qos:       deps.Dispatcher.qos,
		logger:    deps.Logger.With("component", "rpc-completer"),
	}
	c.registry.SetOnTimeout(c.handleTimeout)
	return c
}

// Start subscribes to the acknowledgement and reply topics and, when an
// engine bus is configured, begins consuming engine replies.
func (c *Completer) Start(ctx context.Context) error {
	if err := c.devices.Subscribe(c.topics.AllRPCAcks(), c.qos, c.handleAck); err != nil {
		return fmt.Errorf("subscribing to acks: %w", err)
	}
	if err := c.devices.Subscribe(c.topics.AllRPCResponses(), c.qos, c.handleReply); err != nil {
		return fmt.Errorf("subscribing to replies: %w", err)
	}

	if c.engine != nil {
		go func() {
			if err := c.engine.ConsumeReplies(ctx, c.handleEngineReply); err != nil {
				c.logger.Error("engine reply consumer stopped", "error", err)
			}
		}()
	}

	return nil
}

// handleAck processes a transport delivery acknowledgement.
//
// Two-way calls stay pending (the waiter keeps waiting for the reply);
// one-way calls resolve as successful on delivery. An ack for a call we
// are not tracking in memory still advances the durable record, which is
// how persistent calls survive a process restart.
func (c *Completer) handleAck(topic string, _ []byte) error {
	targetID, cid, ok := mqtt.ParseRPCTopic(topic)
	if !ok {
		c.logger.Debug("unparseable ack topic", "topic", topic)
		return nil
	}
	id, err := uuid.Parse(cid)
	if err != nil {
		c.logger.Debug("ack with malformed correlation id", "topic", topic)
		return nil
	}

	call, tracked := c.pending.get(id)
	if tracked {
		call.MarkDelivered()

		if call.OneWay {
			if c.registry.Resolve(id, correlation.Outcome{Kind: correlation.OutcomeReply}) {
				c.pending.remove(id)
				if call.Persistent {
					c.advance(id.String(), StatusSuccessful)
				}
				c.writeTransition(targetID, StatusSuccessful, call)
			}
			return nil
		}

		if call.Persistent {
			c.advance(id.String(), StatusDelivered)
		}
		c.writeTransition(targetID, StatusDelivered, call)
		return nil
	}

	// Not in memory: a restart dropped the bookkeeping but the durable
	// record may still be live.
	ctx, cancel := context.WithTimeout(context.Background(), recordOpTimeout)
	defer cancel()

	record, err := c.repo.GetByID(ctx, id.String())
	if err != nil {
		c.logger.Debug("ack for unknown call dropped", "correlation_id", cid)
		return nil
	}
	if record.OneWay {
		c.advance(id.String(), StatusSuccessful)
	} else {
		c.advance(id.String(), StatusDelivered)
	}
	return nil
}

// handleReply processes an application-level reply from a device.
func (c *Completer) handleReply(topic string, payload []byte) error {
	targetID, cid, ok := mqtt.ParseRPCTopic(topic)
	if !ok {
		c.logger.Debug("unparseable reply topic", "topic", topic)
		return nil
	}
	id, err := uuid.Parse(cid)
	if err != nil {
		c.logger.Debug("reply with malformed correlation id", "topic", topic)
		return nil
	}

	c.resolveReply(targetID, id, payload)
	return nil
}

// handleEngineReply processes a reply consumed from the engine bus.
func (c *Completer) handleEngineReply(cid string, payload []byte) {
	id, err := uuid.Parse(cid)
	if err != nil {
		c.logger.Debug("engine reply with malformed correlation id", "correlation_id", cid)
		return
	}
	c.resolveReply("", id, payload)
}

// resolveReply applies a reply to the pending call and the durable
// record. Duplicate replies lose the registry race and the record's
// forward-only transition check, so the first reply is the one stored.
func (c *Completer) resolveReply(targetID string, id uuid.UUID, payload []byte) {
	if !json.Valid(payload) {
		won := c.registry.Resolve(id, correlation.Outcome{
			Kind: correlation.OutcomeFailed,
			Err:  ErrReplyNotDecodable,
		})
		call, _ := c.pending.remove(id)
		c.logger.Debug("undecodable reply",
			"correlation_id", id.String(),
			"resolved", won,
			"raw", string(payload))
		if call != nil && call.Persistent {
			c.advance(id.String(), StatusFailed)
		}
		return
	}

	won := c.registry.Resolve(id, correlation.Outcome{
		Kind:    correlation.OutcomeReply,
		Payload: payload,
	})
	call, _ := c.pending.remove(id)
	if !won && call == nil {
		// Nothing waiting in this process; the durable record (if any)
		// still gets the response below. A record that was deleted or
		// already answered makes storeResponse a no-op, which is what
		// keeps late and duplicate replies harmless.
		c.logger.Debug("reply with no in-memory waiter", "correlation_id", id.String())
	}

	c.storeResponse(id.String(), payload)

	if won {
		c.writeTransition(targetID, StatusSuccessful, call)
	} else {
		c.logger.Debug("late reply dropped", "correlation_id", id.String())
	}
}

// handleTimeout is invoked by the registry when a deadline fires. The
// waiter has already received the timeout outcome; what remains is the
// durable record: TIMEOUT when delivery was never confirmed, EXPIRED
// when the target received the call but did not answer in time.
func (c *Completer) handleTimeout(id uuid.UUID) {
	call, tracked := c.pending.remove(id)
	if tracked {
		status := StatusTimeout
		if call.Delivered() {
			status = StatusExpired
		}
		if call.Persistent {
			c.advance(id.String(), status)
		}
		c.writeTransition(call.TargetID, status, call)
		c.logger.Debug("call timed out",
			"correlation_id", id.String(),
			"target_id", call.TargetID,
			"status", status)
		return
	}

	// Restart case: only the durable record knows how far the call got.
	ctx, cancel := context.WithTimeout(context.Background(), recordOpTimeout)
	defer cancel()

	record, err := c.repo.GetByID(ctx, id.String())
	if err != nil || record.Status.Terminal() {
		return
	}
	status := StatusTimeout
	if record.Status == StatusDelivered {
		status = StatusExpired
	}
	c.advance(id.String(), status)
}

// advance moves a durable record forward, dropping lifecycle conflicts.
func (c *Completer) advance(id string, to Status) {
	ctx, cancel := context.WithTimeout(context.Background(), recordOpTimeout)
	defer cancel()

	err := c.repo.UpdateStatus(ctx, id, to)
	switch {
	case err == nil:
	case isLifecycleNoop(err):
		c.logger.Debug("status update dropped", "correlation_id", id, "to", to, "reason", err)
	default:
		c.logger.Error("status update failed", "correlation_id", id, "to", to, "error", err)
	}
}

// storeResponse persists a reply payload, dropping lifecycle conflicts.
func (c *Completer) storeResponse(id string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), recordOpTimeout)
	defer cancel()

	err := c.repo.StoreResponse(ctx, id, payload)
	switch {
	case err == nil:
	case isLifecycleNoop(err):
		c.logger.Debug("response store dropped", "correlation_id", id, "reason", err)
	default:
		c.logger.Error("response store failed", "correlation_id", id, "error", err)
	}
}

// writeTransition records a lifecycle event to telemetry, when enabled.
func (c *Completer) writeTransition(targetID string, status Status, call *PendingCall) {
	if c.telemetry == nil {
		return
	}
	var elapsed time.Duration
	if call != nil {
		elapsed = time.Since(call.DispatchedAt)
		if targetID == "" {
			targetID = call.TargetID
		}
	}
	c.telemetry.WriteCallTransition(targetID, string(status), elapsed)
}
