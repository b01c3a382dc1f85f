package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// EventKind identifies a voice activity event.
type EventKind int

const (
	// SpeechStart fires once when the stream transitions from silence to speech.
	SpeechStart EventKind = iota
	// SpeechEnd fires once when speech has been followed by enough continuous silence.
	SpeechEnd
	// SilenceTick fires on every analysis pass below the energy threshold while
	// still classified as speaking. It reports the accumulated silence duration
	// for telemetry; the Speaking -> Silent transition itself is gated on
	// duration, not on tick count.
	SilenceTick
)

// Event represents a single voice activity event.
type Event struct {
	Kind      EventKind
	SilenceMs int       // accumulated silence for SilenceTick events
	Timestamp time.Time // when the analysis pass ran
}

// Config contains detector thresholds. Thresholds are fixed rather than
// adaptive so behavior stays deterministic.
type Config struct {
	EnergyThreshold  float64       // normalized RMS in 0..1 above which a frame counts as speech
	SilenceThreshold time.Duration // continuous silence required before SpeechEnd
}

// Detector classifies a live audio stream into speech and silence using
// short-time RMS energy with temporal hysteresis. A single loud frame flips
// Silent to Speaking; the reverse transition requires energy to stay at or
// below the threshold for the full silence threshold, so brief dips inside a
// word do not toggle state.
type Detector struct {
	config Config

	// Classification state
	speaking bool
	silence  time.Duration // accumulated silence while speaking
	level    float64       // latest normalized energy, 0..1

	// Statistics
	totalFrames  uint64
	speechFrames uint64
	lastAnalyzed time.Time

	mu sync.RWMutex
}

// DetectorStats represents detector statistics for monitoring.
type DetectorStats struct {
	Speaking         bool      `json:"speaking"`
	Level            float64   `json:"level"`
	TotalFrames      uint64    `json:"total_frames"`
	SpeechFrames     uint64    `json:"speech_frames"`
	SpeechPercentage float64   `json:"speech_percentage"`
	LastAnalyzed     time.Time `json:"last_analyzed"`
}

// NewDetector creates a voice activity detector.
func NewDetector(config Config) (*Detector, error) {
	if config.EnergyThreshold <= 0 || config.EnergyThreshold >= 1 {
		return nil, fmt.Errorf("energy threshold must be between 0 and 1 (exclusive), got %f", config.EnergyThreshold)
	}

	if config.SilenceThreshold <= 0 {
		return nil, fmt.Errorf("silence threshold must be positive, got %v", config.SilenceThreshold)
	}

	return &Detector{config: config}, nil
}

// Process runs one analysis pass over a frame of samples covering frameDuration
// of audio. It returns the events produced by this pass in emission order.
// The continuous audio level is updated on every pass regardless of
// classification and is read via Level.
func (d *Detector) Process(samples []int16, frameDuration time.Duration) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	energy := rms(samples)

	d.level = energy
	d.totalFrames++
	d.lastAnalyzed = now

	var events []Event

	if energy > d.config.EnergyThreshold {
		d.speechFrames++
		d.silence = 0

		if !d.speaking {
			d.speaking = true
			events = append(events, Event{Kind: SpeechStart, Timestamp: now})
		}
		return events
	}

	if !d.speaking {
		return nil
	}

	d.silence += frameDuration
	events = append(events, Event{
		Kind:      SilenceTick,
		SilenceMs: int(d.silence / time.Millisecond),
		Timestamp: now,
	})

	if d.silence >= d.config.SilenceThreshold {
		d.speaking = false
		d.silence = 0
		events = append(events, Event{Kind: SpeechEnd, Timestamp: now})
	}

	return events
}

// Level returns the latest normalized audio level in 0..1.
func (d *Detector) Level() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.level
}

// IsSpeaking reports the current classification.
func (d *Detector) IsSpeaking() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.speaking
}

// Reset clears classification state and statistics.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.speaking = false
	d.silence = 0
	d.level = 0
	d.totalFrames = 0
	d.speechFrames = 0
	d.lastAnalyzed = time.Time{}
}

// GetStats returns current detector statistics.
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	speechPercentage := float64(0)
	if d.totalFrames > 0 {
		speechPercentage = float64(d.speechFrames) / float64(d.totalFrames) * 100
	}

	return DetectorStats{
		Speaking:         d.speaking,
		Level:            d.level,
		TotalFrames:      d.totalFrames,
		SpeechFrames:     d.speechFrames,
		SpeechPercentage: speechPercentage,
		LastAnalyzed:     d.lastAnalyzed,
	}
}

// GetThreshold returns the configured energy threshold.
func (d *Detector) GetThreshold() float64 {
	return d.config.EnergyThreshold
}

// rms computes the root-mean-square energy of the samples, normalized to 0..1
// against the full int16 range.
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}

	return math.Sqrt(sum/float64(len(samples))) / 32768.0
}
