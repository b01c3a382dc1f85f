// Package server exposes the engine's monitoring HTTP API: health, the live
// session snapshot, the conversation transcript, engine statistics, sanitized
// configuration, and Prometheus metrics.
package server
