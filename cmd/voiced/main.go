package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ananyateklu/second-brain-sub005/internal/audio"
	"github.com/ananyateklu/second-brain-sub005/internal/config"
	"github.com/ananyateklu/second-brain-sub005/internal/metrics"
	"github.com/ananyateklu/second-brain-sub005/internal/playback"
	"github.com/ananyateklu/second-brain-sub005/internal/protocol"
	"github.com/ananyateklu/second-brain-sub005/internal/server"
	"github.com/ananyateklu/second-brain-sub005/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voiced"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_size", cfg.Audio.FrameSize),
		slog.Float64("vad_energy_threshold", cfg.VAD.EnergyThreshold),
		slog.Int("vad_silence_threshold_ms", cfg.VAD.SilenceThresholdMs),
		slog.String("negotiation_endpoint", cfg.Negotiation.Endpoint),
		slog.String("provider", cfg.Session.Provider),
		slog.String("model", cfg.Session.Model),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Microphone frames arrive as raw little-endian PCM16 on stdin; agent
	// audio leaves as raw PCM16 on stdout. Both ends are expected to be
	// piped to an audio device process.
	source := audio.NewReaderSource(os.Stdin)
	sink := playback.NewWriterSink(os.Stdout)

	// State changes are logged; the HTTP API serves full snapshots.
	onUpdate := func(snap session.Snapshot) {
		logger.Debug("Session update",
			slog.String("state", snap.State.String()),
			slog.Bool("mic_enabled", snap.MicEnabled),
			slog.Bool("playing", snap.Playing),
		)
	}

	orchestrator, err := session.NewOrchestrator(cfg, logger, appMetrics, source, sink, onUpdate)
	if err != nil {
		logger.Error("Failed to create session orchestrator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session orchestrator initialized",
		slog.String("negotiation_endpoint", cfg.Negotiation.Endpoint),
	)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, orchestrator, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start the voice session
	if err := orchestrator.Start(ctx); err != nil {
		logger.Error("Failed to start session", slog.String("error", err.Error()))
		if httpServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			httpServer.Stop(shutdownCtx)
			shutdownCancel()
		}
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal or session end
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	case <-waitForEnd(orchestrator):
		logger.Info("Session ended")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Tear the session down
	orchestrator.Stop()

	// Get final statistics
	stats := orchestrator.GetStats()
	logger.Info("Final engine statistics",
		slog.String("state", stats.State),
		slog.Uint64("frames_emitted", stats.FramesEmitted),
		slog.Uint64("negotiation_requests", stats.Negotiation.TotalRequests),
	)

	logger.Info("Service stopped")
}

// waitForEnd returns a channel that closes once the session reaches Ended.
func waitForEnd(orchestrator *session.Orchestrator) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if orchestrator.Snapshot().State == protocol.StateEnded {
				close(done)
				return
			}
		}
	}()
	return done
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
