package api

import "time"

// telemetrySink is the subset of the telemetry client the relay fans
// out to. Satisfied by *influxdb.Client.
type telemetrySink interface {
	WriteCallTransition(targetID, status string, elapsed time.Duration)
	WriteDispatch(targetID string, oneWay bool, payloadBytes int)
}

// LifecycleRelay fans lifecycle events out to WebSocket subscribers and,
// when configured, the time-series sink. It satisfies the dispatcher's
// telemetry interface so every transition flows through one place.
type LifecycleRelay struct {
	hub  *Hub
	sink telemetrySink // optional
}

// NewLifecycleRelay creates a relay over the given hub. sink may be nil
// when time-series telemetry is disabled.
func NewLifecycleRelay(hub *Hub, sink telemetrySink) *LifecycleRelay {
	return &LifecycleRelay{hub: hub, sink: sink}
}

// WriteCallTransition broadcasts a lifecycle transition and forwards it
// to the time-series sink.
func (l *LifecycleRelay) WriteCallTransition(targetID, status string, elapsed time.Duration) {
	l.hub.Broadcast(ChannelLifecycle, map[string]any{
		"targetId":  targetID,
		"status":    status,
		"elapsedMs": elapsed.Milliseconds(),
	})
	if l.sink != nil {
		l.sink.WriteCallTransition(targetID, status, elapsed)
	}
}

// WriteDispatch broadcasts a dispatch event and forwards it to the
// time-series sink.
func (l *LifecycleRelay) WriteDispatch(targetID string, oneWay bool, payloadBytes int) {
	l.hub.Broadcast(ChannelDispatch, map[string]any{
		"targetId":     targetID,
		"oneWay":       oneWay,
		"payloadBytes": payloadBytes,
	})
	if l.sink != nil {
		l.sink.WriteDispatch(targetID, oneWay, payloadBytes)
	}
}
