// Package influxdb records RPC lifecycle telemetry in InfluxDB.
//
// Every state transition of a dispatched call is written as a point
// (non-blocking, batched), which gives operators latency and outcome
// distributions per target without touching the durable call store.
package influxdb
