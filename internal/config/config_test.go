package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			BitDepth:   16,
			FrameSize:  1024,
		},
		VAD: VADConfig{
			EnergyThreshold:    0.02,
			SilenceThresholdMs: 800,
		},
		Playback: PlaybackConfig{
			QueueCapacity: 64,
		},
		Negotiation: NegotiationConfig{
			Endpoint:   "https://api.example.com/negotiate",
			APIKey:     "test-key",
			Timeout:    10,
			MaxRetries: 3,
		},
		Transport: TransportConfig{
			HandshakeTimeout: 10,
			ReadLimit:        10 * 1024 * 1024,
		},
		Session: SessionConfig{
			Provider: "openai",
			Model:    "gpt-4o-realtime",
			VoiceID:  "alloy",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "unsupported sample rate",
			mutate:      func(c *Config) { c.Audio.SampleRate = 44100 },
			expectError: true,
		},
		{
			name:        "stereo capture rejected",
			mutate:      func(c *Config) { c.Audio.Channels = 2 },
			expectError: true,
		},
		{
			name:        "bit depth must be 16",
			mutate:      func(c *Config) { c.Audio.BitDepth = 24 },
			expectError: true,
		},
		{
			name:        "frame size too small",
			mutate:      func(c *Config) { c.Audio.FrameSize = 64 },
			expectError: true,
		},
		{
			name: "frame exceeds latency budget",
			mutate: func(c *Config) {
				c.Audio.SampleRate = 8000
				c.Audio.FrameSize = 4096
			},
			expectError: true,
		},
		{
			name:        "energy threshold out of range",
			mutate:      func(c *Config) { c.VAD.EnergyThreshold = 1.5 },
			expectError: true,
		},
		{
			name:        "silence threshold too short",
			mutate:      func(c *Config) { c.VAD.SilenceThresholdMs = 50 },
			expectError: true,
		},
		{
			name:        "zero queue capacity",
			mutate:      func(c *Config) { c.Playback.QueueCapacity = 0 },
			expectError: true,
		},
		{
			name:        "missing negotiation endpoint",
			mutate:      func(c *Config) { c.Negotiation.Endpoint = "" },
			expectError: true,
		},
		{
			name:        "negative negotiation retries",
			mutate:      func(c *Config) { c.Negotiation.MaxRetries = -1 },
			expectError: true,
		},
		{
			name:        "read limit too small",
			mutate:      func(c *Config) { c.Transport.ReadLimit = 1024 },
			expectError: true,
		},
		{
			name:        "missing provider",
			mutate:      func(c *Config) { c.Session.Provider = "" },
			expectError: true,
		},
		{
			name:        "missing model",
			mutate:      func(c *Config) { c.Session.Model = "" },
			expectError: true,
		},
		{
			name:        "invalid http port when enabled",
			mutate:      func(c *Config) { c.HTTP.Port = 0 },
			expectError: true,
		},
		{
			name: "http disabled skips port validation",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
				c.HTTP.Address = ""
			},
			expectError: false,
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
		},
		{
			name:        "invalid log format",
			mutate:      func(c *Config) { c.Logging.Format = "xml" },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.expectError && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
audio:
  sample_rate: 16000
negotiation:
  endpoint: "https://api.example.com/negotiate"
session:
  provider: "openai"
  model: "gpt-4o-realtime"
vad:
  energy_threshold: 0.02
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Audio.Channels != 1 {
		t.Errorf("Expected default channels 1, got %d", cfg.Audio.Channels)
	}
	if cfg.Audio.FrameSize != 1024 {
		t.Errorf("Expected default frame size 1024, got %d", cfg.Audio.FrameSize)
	}
	if cfg.VAD.SilenceThresholdMs != 800 {
		t.Errorf("Expected default silence threshold 800, got %d", cfg.VAD.SilenceThresholdMs)
	}
	if cfg.Playback.QueueCapacity != 64 {
		t.Errorf("Expected default queue capacity 64, got %d", cfg.Playback.QueueCapacity)
	}
	if cfg.Transport.ReadLimit != 10*1024*1024 {
		t.Errorf("Expected default read limit 10MiB, got %d", cfg.Transport.ReadLimit)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Output != "stderr" {
		t.Errorf("Unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("audio: [not: valid"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
audio:
  sample_rate: 44100
negotiation:
  endpoint: "https://api.example.com/negotiate"
session:
  provider: "openai"
  model: "gpt-4o-realtime"
vad:
  energy_threshold: 0.02
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected validation error for unsupported sample rate")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := validConfig()

	if got := cfg.Audio.GetFrameDuration(); got != 64*time.Millisecond {
		t.Errorf("Expected 64ms frame duration, got %v", got)
	}
	if got := cfg.VAD.GetSilenceThreshold(); got != 800*time.Millisecond {
		t.Errorf("Expected 800ms silence threshold, got %v", got)
	}
	if got := cfg.Negotiation.GetTimeoutDuration(); got != 10*time.Second {
		t.Errorf("Expected 10s negotiation timeout, got %v", got)
	}
	if got := cfg.Transport.GetHandshakeTimeout(); got != 10*time.Second {
		t.Errorf("Expected 10s handshake timeout, got %v", got)
	}
}
