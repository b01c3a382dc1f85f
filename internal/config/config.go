package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration
type Config struct {
	Audio       AudioConfig       `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	Transport   TransportConfig   `yaml:"transport"`
	Session     SessionConfig     `yaml:"session"`
	HTTP        HTTPConfig        `yaml:"http"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AudioConfig contains microphone capture parameters
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"` // Hz, negotiated with the agent provider
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
	FrameSize  int `yaml:"frame_size"` // samples per outbound frame
}

// VADConfig contains voice activity detection configuration
type VADConfig struct {
	EnergyThreshold    float64 `yaml:"energy_threshold"`     // normalized RMS, 0..1
	SilenceThresholdMs int     `yaml:"silence_threshold_ms"` // silence duration before SpeechEnd
}

// PlaybackConfig contains agent-audio playback configuration
type PlaybackConfig struct {
	QueueCapacity int `yaml:"queue_capacity"` // pending chunks before enqueue rejects callers
}

// NegotiationConfig contains session negotiation service configuration
type NegotiationConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// TransportConfig contains duplex channel configuration
type TransportConfig struct {
	HandshakeTimeout int   `yaml:"handshake_timeout"` // seconds
	ReadLimit        int64 `yaml:"read_limit"`        // bytes per inbound message
}

// SessionConfig contains default session options requested at negotiation
type SessionConfig struct {
	Provider     string   `yaml:"provider"`
	Model        string   `yaml:"model"`
	VoiceID      string   `yaml:"voice_id"`
	Capabilities []string `yaml:"capabilities"`
}

// HTTPConfig contains monitoring API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills unset optional fields with working defaults
func (c *Config) ApplyDefaults() {
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.BitDepth == 0 {
		c.Audio.BitDepth = 16
	}
	if c.Audio.FrameSize == 0 {
		c.Audio.FrameSize = 1024
	}
	if c.VAD.SilenceThresholdMs == 0 {
		c.VAD.SilenceThresholdMs = 800
	}
	if c.Playback.QueueCapacity == 0 {
		c.Playback.QueueCapacity = 64
	}
	if c.Negotiation.Timeout == 0 {
		c.Negotiation.Timeout = 10
	}
	if c.Transport.HandshakeTimeout == 0 {
		c.Transport.HandshakeTimeout = 10
	}
	if c.Transport.ReadLimit == 0 {
		c.Transport.ReadLimit = 10 * 1024 * 1024
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	// Agent audio is rendered on stdout, so logs default to stderr.
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := c.Negotiation.Validate(); err != nil {
		return fmt.Errorf("negotiation config: %w", err)
	}

	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio capture configuration
func (a *AudioConfig) Validate() error {
	switch a.SampleRate {
	case 8000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("sample_rate must be one of [8000, 16000, 24000, 48000] Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16 for linear PCM16, got %d", a.BitDepth)
	}

	if a.FrameSize < 128 || a.FrameSize > 4096 {
		return fmt.Errorf("frame_size must be between 128 and 4096 samples, got %d", a.FrameSize)
	}

	// Keep the per-frame latency inside the mic-to-network budget.
	frameMs := float64(a.FrameSize) / float64(a.SampleRate) * 1000
	if frameMs > 100 {
		return fmt.Errorf("frame_size %d at %d Hz is %.0f ms per frame, exceeds the 100 ms latency budget",
			a.FrameSize, a.SampleRate, frameMs)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.EnergyThreshold <= 0 || v.EnergyThreshold >= 1 {
		return fmt.Errorf("energy_threshold must be between 0 and 1 (exclusive), got %f", v.EnergyThreshold)
	}

	if v.SilenceThresholdMs < 100 || v.SilenceThresholdMs > 10000 {
		return fmt.Errorf("silence_threshold_ms must be between 100 and 10000, got %d", v.SilenceThresholdMs)
	}

	return nil
}

// Validate validates playback configuration
func (p *PlaybackConfig) Validate() error {
	if p.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", p.QueueCapacity)
	}

	return nil
}

// Validate validates negotiation configuration
func (n *NegotiationConfig) Validate() error {
	if n.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if n.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", n.Timeout)
	}

	if n.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", n.MaxRetries)
	}

	return nil
}

// Validate validates transport configuration
func (t *TransportConfig) Validate() error {
	if t.HandshakeTimeout < 1 {
		return fmt.Errorf("handshake_timeout must be at least 1 second, got %d", t.HandshakeTimeout)
	}

	if t.ReadLimit < 4096 {
		return fmt.Errorf("read_limit must be at least 4096 bytes, got %d", t.ReadLimit)
	}

	return nil
}

// Validate validates default session options
func (s *SessionConfig) Validate() error {
	if s.Provider == "" {
		return fmt.Errorf("provider cannot be empty")
	}

	if s.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetFrameDuration returns the duration of one capture frame
func (a *AudioConfig) GetFrameDuration() time.Duration {
	return time.Duration(a.FrameSize) * time.Second / time.Duration(a.SampleRate)
}

// GetSilenceThreshold returns the silence gate as a time.Duration
func (v *VADConfig) GetSilenceThreshold() time.Duration {
	return time.Duration(v.SilenceThresholdMs) * time.Millisecond
}

// GetTimeoutDuration returns the negotiation timeout as a time.Duration
func (n *NegotiationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(n.Timeout) * time.Second
}

// GetHandshakeTimeout returns the channel handshake timeout as a time.Duration
func (t *TransportConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(t.HandshakeTimeout) * time.Second
}
