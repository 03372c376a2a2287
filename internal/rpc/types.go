package rpc

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/corelink-io/corelink-core/internal/correlation"
)

// CallRequest is the body accepted by the one-way and two-way endpoints.
type CallRequest struct {
	// Method is the remote procedure name. Required.
	Method string `json:"method"`

	// Params is the argument object. Defaults to an empty object.
	Params json.RawMessage `json:"params,omitempty"`

	// Timeout is the relative deadline in milliseconds. Values below the
	// configured minimum are raised to it; zero means the default.
	Timeout int64 `json:"timeout,omitempty"`

	// ExpirationTime is an absolute deadline in epoch milliseconds. When
	// set it is used verbatim and Timeout is ignored.
	ExpirationTime int64 `json:"expirationTime,omitempty"`

	// Persistent requests a durable record that outlives the connection.
	Persistent bool `json:"persistent,omitempty"`

	// Retries is the remaining redelivery budget on transport failure.
	// Forwarded to the transport; not interpreted here.
	Retries *int `json:"retries,omitempty"`

	// AdditionalInfo is opaque metadata attached to lifecycle events.
	AdditionalInfo json.RawMessage `json:"additionalInfo,omitempty"`
}

// Validate checks the request and fills defaults. Params is normalised
// to an empty object so downstream consumers never see a null.
func (r *CallRequest) Validate() error {
	if r.Method == "" {
		return ErrMethodRequired
	}
	if len(r.Params) == 0 {
		r.Params = json.RawMessage(`{}`)
	}
	if !json.Valid(r.Params) {
		return ErrInvalidParams
	}
	if r.AdditionalInfo != nil && !json.Valid(r.AdditionalInfo) {
		return ErrInvalidParams
	}
	return nil
}

// Record is the durable representation of a persistent call. Its id
// equals the correlation id used on the bus, so replies match records
// across process restarts.
type Record struct {
	ID             string          `json:"id"`
	TargetID       string          `json:"targetId"`
	CustomerID     string          `json:"customerId,omitempty"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params"`
	Response       json.RawMessage `json:"response,omitempty"`
	Status         Status          `json:"status"`
	OneWay         bool            `json:"oneWay"`
	Retries        *int            `json:"retries,omitempty"`
	AdditionalInfo json.RawMessage `json:"additionalInfo,omitempty"`
	CreatedAt      time.Time       `json:"createdTime"`
	ExpiresAt      time.Time       `json:"expirationTime"`
}

// CallEnvelope is the message published to a bus. The correlation id and
// expiration time ride in the envelope itself, so the reply path can
// match purely from the message without a side channel.
type CallEnvelope struct {
	CorrelationID  string            `json:"correlationId"`
	OriginatorID   string            `json:"originatorId"`
	CustomerID     string            `json:"customerId,omitempty"`
	QueueName      string            `json:"queueName,omitempty"`
	Method         string            `json:"method,omitempty"`
	Payload        json.RawMessage   `json:"payload"`
	OneWay         bool              `json:"oneWay"`
	ExpirationTime int64             `json:"expirationTime"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// PendingCall is the in-memory bookkeeping for one outstanding dispatch.
// Created at dispatch, dropped the moment the call resolves. Never
// mutated after creation except for the delivered flag.
type PendingCall struct {
	CorrelationID uuid.UUID
	TargetID      string
	OneWay        bool
	Persistent    bool
	Deadline      time.Time
	DispatchedAt  time.Time

	// Handle resolves with the single outcome of the exchange.
	Handle *correlation.Handle

	// delivered flips when the transport acknowledges delivery. It
	// decides TIMEOUT (never delivered) versus EXPIRED (delivered, no
	// reply) when the deadline fires.
	delivered atomic.Bool
}

// MarkDelivered records that the transport acknowledged delivery.
func (p *PendingCall) MarkDelivered() {
	p.delivered.Store(true)
}

// Delivered reports whether a delivery acknowledgement was seen.
func (p *PendingCall) Delivered() bool {
	return p.delivered.Load()
}
