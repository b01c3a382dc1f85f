// Package vad provides energy-based voice activity detection with temporal
// hysteresis. A single frame above the energy threshold starts speech; ending
// speech requires continuous silence for a configured duration, with per-frame
// silence ticks reported for telemetry in between.
package vad
