package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCallTransition records a call lifecycle transition.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - targetID: the receiving entity (device or engine entity)
//   - status: the lifecycle state entered (queued, sent, delivered, ...)
//   - elapsed: time since dispatch
func (c *Client) WriteCallTransition(targetID, status string, elapsed time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"rpc_lifecycle",
		map[string]string{
			"target_id": targetID,
			"status":    status,
		},
		map[string]interface{}{
			"elapsed_ms": elapsed.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDispatch records an outbound dispatch with its payload size.
// Useful for spotting targets receiving oversized command payloads.
func (c *Client) WriteDispatch(targetID string, oneWay bool, payloadBytes int) {
	if !c.IsConnected() {
		return
	}

	kind := "twoway"
	if oneWay {
		kind = "oneway"
	}

	point := write.NewPoint(
		"rpc_dispatch",
		map[string]string{
			"target_id": targetID,
			"kind":      kind,
		},
		map[string]interface{}{
			"payload_bytes": payloadBytes,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
