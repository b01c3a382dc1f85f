package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// FrameSink receives captured frames in sequence order.
type FrameSink func(*Frame)

// CaptureError reports a capture pipeline acquisition or runtime failure.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// CaptureConfig contains capture pipeline parameters.
type CaptureConfig struct {
	SampleRate int // Hz
	FrameSize  int // samples per frame
}

// Capture pulls float samples from a Source, packs them into fixed-size
// PCM16 frames, and delivers each frame to the registered sink. Pausing
// suspends frame emission without tearing down the pump; stopping tears the
// pump down and is idempotent.
//
// The capture pipeline never closes the source. The session owner holds the
// underlying device handle and releases it on teardown.
type Capture struct {
	config  CaptureConfig
	sink    FrameSink
	onError func(error)
	logger  *slog.Logger

	// Pump state
	cancel context.CancelFunc
	done   chan struct{}

	// Statistics
	framesEmitted uint64
	framesDropped uint64

	started bool
	paused  bool
	mu      sync.Mutex
}

// NewCapture creates a capture pipeline. The sink is required; onError may be
// nil if the caller does not care about runtime pump failures.
func NewCapture(config CaptureConfig, logger *slog.Logger, sink FrameSink, onError func(error)) (*Capture, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", config.FrameSize)
	}

	if sink == nil {
		return nil, fmt.Errorf("frame sink cannot be nil")
	}

	return &Capture{
		config:  config,
		sink:    sink,
		onError: onError,
		logger:  logger,
	}, nil
}

// Start acquires the source and begins pumping frames until Stop is called.
// An acquisition failure, such as a denied microphone permission, is
// returned here before the pump ever runs.
func (c *Capture) Start(src Source) error {
	if src == nil {
		return &CaptureError{Op: "start", Err: fmt.Errorf("source cannot be nil")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return &CaptureError{Op: "start", Err: fmt.Errorf("capture already started")}
	}

	if err := src.Open(); err != nil {
		return &CaptureError{Op: "open", Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true

	go c.pump(ctx, src)

	c.logger.Debug("Capture pipeline started",
		slog.Int("sample_rate", c.config.SampleRate),
		slog.Int("frame_size", c.config.FrameSize),
	)

	return nil
}

// Pause suspends frame emission. Samples keep draining from the source so the
// device buffer does not back up, but no frames reach the sink. Idempotent.
func (c *Capture) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume continues frame emission after a pause. Idempotent.
func (c *Capture) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

// Stop tears down the pump. Safe to call multiple times or before Start.
// Stop does not wait for the pump goroutine so it can be called from a frame
// sink without deadlocking; no frames are emitted after Stop returns aside
// from one already in flight.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}

	c.cancel()
	c.started = false
	c.logger.Debug("Capture pipeline stopped",
		slog.Uint64("frames_emitted", c.framesEmitted),
		slog.Uint64("frames_dropped", c.framesDropped),
	)
}

// IsRunning reports whether the pump is active.
func (c *Capture) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// IsPaused reports whether frame emission is suspended.
func (c *Capture) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// FramesEmitted returns the number of frames delivered to the sink.
func (c *Capture) FramesEmitted() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framesEmitted
}

// pump is the capture loop: read floats, fill the frame buffer, convert to
// PCM16, emit. Runs until the context is cancelled or the source fails.
func (c *Capture) pump(ctx context.Context, src Source) {
	defer close(c.done)

	buf := make([]float32, c.config.FrameSize)
	filled := 0
	var sequence uint64

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := src.ReadSamples(buf[filled:])
		filled += n

		if filled == c.config.FrameSize {
			c.emitFrame(ctx, buf, &sequence)
			filled = 0
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err == io.EOF {
				// A microphone stream that dies mid-session is a pipeline
				// failure, not a quiet stop.
				err = fmt.Errorf("source stream ended: %w", err)
			}
			c.reportError(&CaptureError{Op: "read", Err: err})
			c.Stop()
			return
		}
	}
}

// emitFrame converts the filled buffer and delivers it unless paused.
func (c *Capture) emitFrame(ctx context.Context, samples []float32, sequence *uint64) {
	c.mu.Lock()
	paused := c.paused
	if paused {
		c.framesDropped++
	} else {
		c.framesEmitted++
	}
	c.mu.Unlock()

	if paused || ctx.Err() != nil {
		return
	}

	frame := &Frame{
		Sequence:   *sequence,
		SampleRate: c.config.SampleRate,
		PCM:        FloatsToPCM16(samples),
		Captured:   time.Now(),
	}
	*sequence++

	c.sink(frame)
}

// reportError delivers a pump failure to the error callback exactly once per
// failure.
func (c *Capture) reportError(err error) {
	c.logger.Error("Capture pipeline failure", slog.String("error", err.Error()))
	if c.onError != nil {
		c.onError(err)
	}
}
