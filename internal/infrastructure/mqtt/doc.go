// Package mqtt wraps paho.mqtt.golang for the Corelink device transport.
//
// The device transport carries RPC request envelopes to protocol adapters
// and their acknowledgements and replies back. The wrapper provides
// connection management, publish/subscribe with validation, automatic
// re-subscription after reconnect, and the canonical topic builders used
// by the dispatch and completion paths.
package mqtt
