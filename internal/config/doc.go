// Package config provides configuration loading and validation for the voice session engine.
// It handles YAML-based configuration with per-section struct validation covering capture,
// VAD, playback, negotiation, transport, and monitoring parameters.
package config
