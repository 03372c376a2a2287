package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the Corelink device transport.
//
// RPC topics use the scheme: corelink/rpc/{category}/{target_id}/{correlation_id}
// so the completion handler can recover both identifiers from the topic alone.
const (
	// TopicPrefixRPC is the base for all RPC bridge topics.
	TopicPrefixRPC = "corelink/rpc"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "corelink/system"
)

// Topics provides builders for Corelink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// RPCRequest returns the topic for an outbound RPC request to a device adapter.
//
// Example: corelink/rpc/request/device-42/0f8fad5b-d9cb-469f-a165-70867728950e
func (Topics) RPCRequest(targetID, correlationID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefixRPC, targetID, correlationID)
}

// RPCAck returns the topic for transport delivery acknowledgements.
//
// Example: corelink/rpc/ack/device-42/0f8fad5b-...
func (Topics) RPCAck(targetID, correlationID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixRPC, targetID, correlationID)
}

// RPCResponse returns the topic for application-level replies.
//
// Example: corelink/rpc/response/device-42/0f8fad5b-...
func (Topics) RPCResponse(targetID, correlationID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefixRPC, targetID, correlationID)
}

// RPCRemoved returns the topic for call-removed notices. Published when a
// persistent record is deleted so adapters still tracking the call can
// release their resources.
//
// Example: corelink/rpc/removed/device-42/0f8fad5b-...
func (Topics) RPCRemoved(targetID, correlationID string) string {
	return fmt.Sprintf("%s/removed/%s/%s", TopicPrefixRPC, targetID, correlationID)
}

// SystemStatus returns the node status topic (online/offline, LWT).
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllRPCAcks returns a pattern matching all delivery acknowledgements.
//
// Pattern: corelink/rpc/ack/+/+
func (Topics) AllRPCAcks() string {
	return fmt.Sprintf("%s/ack/+/+", TopicPrefixRPC)
}

// AllRPCResponses returns a pattern matching all RPC replies.
//
// Pattern: corelink/rpc/response/+/+
func (Topics) AllRPCResponses() string {
	return fmt.Sprintf("%s/response/+/+", TopicPrefixRPC)
}

// ParseRPCTopic extracts the target and correlation identifiers from an RPC
// topic of the form corelink/rpc/{category}/{target_id}/{correlation_id}.
// Returns ok=false for topics that do not match the scheme.
func ParseRPCTopic(topic string) (targetID, correlationID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0]+"/"+parts[1] != TopicPrefixRPC {
		return "", "", false
	}
	if parts[3] == "" || parts[4] == "" {
		return "", "", false
	}
	return parts[3], parts[4], true
}
