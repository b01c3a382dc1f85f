// Package metrics defines the Prometheus instrumentation for the engine:
// capture and transmit counters, VAD transitions, playback queue activity,
// wire message and protocol error counts, session lifecycle metrics, and
// the monitoring API's own request metrics.
package metrics
