package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/corelink-io/corelink-core/internal/correlation"
	"github.com/corelink-io/corelink-core/internal/infrastructure/config"
	"github.com/corelink-io/corelink-core/internal/infrastructure/engine"
	"github.com/corelink-io/corelink-core/internal/infrastructure/logging"
	"github.com/corelink-io/corelink-core/internal/infrastructure/mqtt"
)

// DeviceBus publishes envelopes to the device transport.
// Satisfied by *mqtt.Client.
type DeviceBus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EngineBus publishes pushes to the rule engine.
// Satisfied by *engine.Client.
type EngineBus interface {
	Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error
}

// Telemetry records lifecycle events for observability.
// Satisfied by *influxdb.Client.
type Telemetry interface {
	WriteCallTransition(targetID, status string, elapsed time.Duration)
	WriteDispatch(targetID string, oneWay bool, payloadBytes int)
}

// DispatcherDeps contains the dependencies for the dispatcher.
type DispatcherDeps struct {
	Registry  *correlation.Registry
	Repo      Repository
	Devices   DeviceBus
	Engine    EngineBus // optional; engine pushes fail with ErrEngineDisabled when nil
	Telemetry Telemetry // optional
	Config    config.RPCConfig
	NodeID    string
	QoS       byte
	Logger    *logging.Logger
}

// Dispatcher builds outbound envelopes, registers pending completions,
// and hands envelopes to a bus. One instance serves all targets.
type Dispatcher struct {
	registry  *correlation.Registry
	repo      Repository
	devices   DeviceBus
	engine    EngineBus
	telemetry Telemetry
	cfg       config.RPCConfig
	nodeID    string
	qos       byte
	topics    mqtt.Topics
	pending   *pendingCalls
	logger    *logging.Logger
}

// NewDispatcher creates a dispatcher with the given dependencies.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	return &Dispatcher{
		registry:  deps.Registry,
		repo:      deps.Repo,
		devices:   deps.Devices,
		engine:    deps.Engine,
		telemetry: deps.Telemetry,
		cfg:       deps.Config,
		nodeID:    deps.NodeID,
		qos:       deps.QoS,
		pending:   newPendingCalls(),
		logger:    deps.Logger.With("component", "rpc-dispatcher"),
	}
}

// Dispatch sends a call to a device and returns the pending call whose
// handle resolves with the outcome.
//
// For persistent calls the durable record is created in QUEUED before
// anything is published, so a crash immediately after dispatch still
// leaves a discoverable, eventually-expiring record. A bus publish
// failure resolves the call immediately as FAILED instead of letting it
// ride to the deadline.
func (d *Dispatcher) Dispatch(ctx context.Context, targetID, customerID string, oneWay bool, req CallRequest) (*PendingCall, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	deadline := d.deadlineFor(req, now)
	id := uuid.New()

	if req.Persistent {
		record := &Record{
			ID:             id.String(),
			TargetID:       targetID,
			CustomerID:     customerID,
			Method:         req.Method,
			Params:         req.Params,
			Status:         StatusQueued,
			OneWay:         oneWay,
			Retries:        req.Retries,
			AdditionalInfo: req.AdditionalInfo,
			CreatedAt:      now.UTC(),
			ExpiresAt:      deadline.UTC(),
		}
		if err := d.repo.Create(ctx, record); err != nil {
			return nil, fmt.Errorf("creating call record: %w", err)
		}
	}

	handle, err := d.registry.Register(id, deadline)
	if err != nil {
		return nil, fmt.Errorf("registering correlation: %w", err)
	}

	call := &PendingCall{
		CorrelationID: id,
		TargetID:      targetID,
		OneWay:        oneWay,
		Persistent:    req.Persistent,
		Deadline:      deadline,
		DispatchedAt:  now,
		Handle:        handle,
	}
	d.pending.add(call)

	env := CallEnvelope{
		CorrelationID:  id.String(),
		OriginatorID:   targetID,
		CustomerID:     customerID,
		Method:         req.Method,
		Payload:        req.Params,
		OneWay:         oneWay,
		ExpirationTime: deadline.UnixMilli(),
		Metadata: map[string]string{
			"dispatcher_id":   d.nodeID,
			"correlation_id":  id.String(),
			"expiration_time": strconv.FormatInt(deadline.UnixMilli(), 10),
		},
	}
	body, err := json.Marshal(env)
	if err != nil {
		d.failPending(call, fmt.Errorf("marshalling envelope: %w", err))
		return call, nil
	}

	topic := d.topics.RPCRequest(targetID, id.String())
	if err := d.devices.Publish(topic, body, d.qos, false); err != nil {
		d.logger.Warn("device publish failed",
			"correlation_id", id.String(),
			"target_id", targetID,
			"error", err)
		d.failPending(call, err)
		return call, nil
	}

	if req.Persistent {
		d.advance(ctx, id.String(), StatusSent)
	}
	if d.telemetry != nil {
		d.telemetry.WriteDispatch(targetID, oneWay, len(body))
	}

	d.logger.Debug("call dispatched",
		"correlation_id", id.String(),
		"target_id", targetID,
		"method", req.Method,
		"one_way", oneWay,
		"persistent", req.Persistent,
		"deadline", deadline)

	return call, nil
}

// DispatchEngine pushes an opaque payload to the rule engine bus.
//
// The queue name routes the message to a non-default topic; empty means
// the configured default. The correlation id and expiration ride in the
// message headers so the engine's reply can be matched without a side
// channel.
func (d *Dispatcher) DispatchEngine(ctx context.Context, originatorID, queueName string, timeoutMs int64, payload json.RawMessage) (*PendingCall, error) {
	if d.engine == nil {
		return nil, ErrEngineDisabled
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, ErrInvalidParams
	}

	now := time.Now()
	deadline := d.deadlineFor(CallRequest{Timeout: timeoutMs}, now)
	id := uuid.New()

	handle, err := d.registry.Register(id, deadline)
	if err != nil {
		return nil, fmt.Errorf("registering correlation: %w", err)
	}

	call := &PendingCall{
		CorrelationID: id,
		TargetID:      originatorID,
		Deadline:      deadline,
		DispatchedAt:  now,
		Handle:        handle,
	}
	d.pending.add(call)

	headers := map[string]string{
		engine.HeaderCorrelationID:  id.String(),
		engine.HeaderExpirationTime: strconv.FormatInt(deadline.UnixMilli(), 10),
		engine.HeaderOriginator:     originatorID,
		engine.HeaderDispatcher:     d.nodeID,
	}

	if err := d.engine.Publish(ctx, queueName, id.String(), payload, headers); err != nil {
		d.logger.Warn("engine publish failed",
			"correlation_id", id.String(),
			"originator_id", originatorID,
			"error", err)
		d.failPending(call, err)
		return call, nil
	}

	d.logger.Debug("engine push dispatched",
		"correlation_id", id.String(),
		"originator_id", originatorID,
		"queue", queueName,
		"deadline", deadline)

	return call, nil
}

// DeletePersistent removes a durable record. A non-terminal record is
// first cancelled in the registry and a removed notice is published so
// any adapter still tracking the call releases its resources; the
// registry's resolve-once rule is what keeps a late reply from
// resurrecting the deleted record.
func (d *Dispatcher) DeletePersistent(ctx context.Context, id uuid.UUID) error {
	record, err := d.repo.GetByID(ctx, id.String())
	if err != nil {
		return err
	}

	if !record.Status.Terminal() {
		d.registry.Cancel(id)
		d.pending.remove(id)

		notice, err := json.Marshal(map[string]string{
			"correlationId": id.String(),
			"targetId":      record.TargetID,
		})
		if err == nil {
			topic := d.topics.RPCRemoved(record.TargetID, id.String())
			if err := d.devices.Publish(topic, notice, d.qos, false); err != nil {
				d.logger.Warn("removed notice publish failed",
					"correlation_id", id.String(),
					"error", err)
			}
		}
	}

	if err := d.repo.Delete(ctx, id.String()); err != nil {
		return err
	}

	if d.telemetry != nil {
		d.telemetry.WriteCallTransition(record.TargetID, "DELETED", time.Since(record.CreatedAt))
	}

	d.logger.Info("call record deleted",
		"correlation_id", id.String(),
		"target_id", record.TargetID,
		"status", record.Status)

	return nil
}

// PendingCount returns the number of in-flight dispatches.
func (d *Dispatcher) PendingCount() int {
	return d.pending.len()
}

// deadlineFor computes the single, never-reset deadline for a call. An
// explicit absolute expiration wins over a relative timeout; relative
// timeouts are clamped to the configured floor and default.
func (d *Dispatcher) deadlineFor(req CallRequest, now time.Time) time.Time {
	if req.ExpirationTime > 0 {
		return time.UnixMilli(req.ExpirationTime)
	}

	timeout := time.Duration(req.Timeout) * time.Millisecond
	if req.Timeout <= 0 {
		timeout = d.cfg.DefaultCallTimeout()
	} else if timeout < d.cfg.MinCallTimeout() {
		timeout = d.cfg.MinCallTimeout()
	}
	return now.Add(timeout)
}

// failPending resolves a call as FAILED right now.
func (d *Dispatcher) failPending(call *PendingCall, cause error) {
	d.registry.Resolve(call.CorrelationID, correlation.Outcome{
		Kind: correlation.OutcomeFailed,
		Err:  cause,
	})
	d.pending.remove(call.CorrelationID)

	if call.Persistent {
		d.advance(context.Background(), call.CorrelationID.String(), StatusFailed)
	}
	if d.telemetry != nil {
		d.telemetry.WriteCallTransition(call.TargetID, string(StatusFailed), time.Since(call.DispatchedAt))
	}
}

// advance moves a durable record forward, treating lifecycle conflicts
// as another writer having won the race.
func (d *Dispatcher) advance(ctx context.Context, id string, to Status) {
	err := d.repo.UpdateStatus(ctx, id, to)
	switch {
	case err == nil:
	case isLifecycleNoop(err):
		d.logger.Debug("status update dropped", "correlation_id", id, "to", to, "reason", err)
	default:
		d.logger.Error("status update failed", "correlation_id", id, "to", to, "error", err)
	}
}
