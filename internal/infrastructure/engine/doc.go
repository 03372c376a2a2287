// Package engine wraps segmentio/kafka-go for the rule-engine push bus.
//
// Generic backend pushes are produced onto a Kafka topic (the caller's
// queue-name routing hint, or the configured default) with the correlation
// metadata carried in message headers. Engine replies arrive on a dedicated
// reply topic and are matched back purely from those headers, so a reply
// survives a restart of the dispatching node.
package engine
