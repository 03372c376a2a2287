// Package rpc implements the asynchronous request/reply bridge.
//
// A synchronous HTTP call is satisfied by a reply that arrives later,
// out of band, from the device transport (MQTT) or the rule engine bus
// (Kafka). The Dispatcher generates a correlation id, registers a
// pending completion with the correlation registry, publishes an
// enriched envelope, and hands back a handle the caller can wait on.
// The Completer is the other half: it consumes acknowledgements and
// replies from both buses plus deadline expiries from the registry, and
// resolves each pending call exactly once.
//
// Persistent calls additionally keep a durable Record whose status moves
// through the lifecycle in status.go. Records outlive the triggering
// HTTP connection and are advanced only by bus events and deadlines,
// never by the HTTP layer.
package rpc
