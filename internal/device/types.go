package device

import (
	"fmt"
	"time"
)

// Protocol identifies the transport a device adapter speaks.
type Protocol string

// Supported transport protocols.
const (
	ProtocolMQTT Protocol = "mqtt"
	ProtocolCoAP Protocol = "coap"
	ProtocolHTTP Protocol = "http"
)

// Valid reports whether p is a known protocol.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolMQTT, ProtocolCoAP, ProtocolHTTP:
		return true
	default:
		return false
	}
}

// Device is one addressable RPC target.
type Device struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Protocol   Protocol  `json:"protocol"`
	CustomerID string    `json:"customerId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Validate checks required fields.
func (d *Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if !d.Protocol.Valid() {
		return fmt.Errorf("%w: unknown protocol %q", ErrInvalidDevice, d.Protocol)
	}
	return nil
}

// OwnedBy reports whether the device is visible to the given customer.
// An empty customer id on the device means it is unscoped (tenant-wide).
func (d *Device) OwnedBy(customerID string) bool {
	return d.CustomerID == "" || d.CustomerID == customerID
}
