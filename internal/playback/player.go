package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Chunk is one block of synthesized agent speech queued for rendering.
// Each chunk declares its own sample rate; Final marks the last chunk of the
// current agent turn.
type Chunk struct {
	Sequence   uint64
	SampleRate int
	PCM        []byte // little-endian signed 16-bit samples
	Final      bool
}

// Duration returns how long the chunk plays at its declared sample rate.
func (c *Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.PCM)/2) * time.Second / time.Duration(c.SampleRate)
}

// Sink renders PCM16 audio. WritePCM may return immediately (buffered output
// device) or block for the render duration; the player schedules around the
// immediate-return case so chunks are contiguous either way.
type Sink interface {
	WritePCM(sampleRate int, pcm []byte) error
}

// Player renders queued chunks as one continuous stream, decoupled from
// network jitter. Chunks arriving in bursts are scheduled back-to-back
// against an internal playhead so no silence is inserted between them.
// Stop halts and empties immediately; Clear empties the queue without
// cutting off audio that already started.
type Player struct {
	sink    Sink
	logger  *slog.Logger
	onEnded func()
	onError func(error)

	// Queue and scheduling state
	queue      []*Chunk
	capacity   int
	playing    bool
	playhead   time.Time // when currently scheduled audio ends
	interrupt  chan struct{}
	generation uint64
	closed     bool

	// Statistics
	chunksPlayed  uint64
	chunksDropped uint64
	bytesPlayed   uint64

	mu sync.Mutex
}

// PlayerStats represents player statistics for monitoring.
type PlayerStats struct {
	Playing       bool   `json:"playing"`
	QueueDepth    int    `json:"queue_depth"`
	ChunksPlayed  uint64 `json:"chunks_played"`
	ChunksDropped uint64 `json:"chunks_dropped"`
	BytesPlayed   uint64 `json:"bytes_played"`
}

// NewPlayer creates a playback pipeline over the given sink. onEnded fires
// exactly once each time the queue fully drains; onError reports a render
// failure once, after which the pipeline does not retry.
func NewPlayer(sink Sink, capacity int, logger *slog.Logger, onEnded func(), onError func(error)) (*Player, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}

	if capacity < 1 {
		return nil, fmt.Errorf("queue capacity must be at least 1, got %d", capacity)
	}

	return &Player{
		sink:      sink,
		capacity:  capacity,
		logger:    logger,
		onEnded:   onEnded,
		onError:   onError,
		interrupt: make(chan struct{}),
	}, nil
}

// Enqueue appends a chunk and begins playback if nothing is scheduled.
func (p *Player) Enqueue(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("chunk cannot be nil")
	}

	if chunk.SampleRate <= 0 {
		return fmt.Errorf("chunk sample rate must be positive, got %d", chunk.SampleRate)
	}

	if len(chunk.PCM)%2 != 0 {
		return fmt.Errorf("chunk PCM length must be even, got %d bytes", len(chunk.PCM))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("player is closed")
	}

	if len(p.queue) >= p.capacity {
		p.chunksDropped++
		return fmt.Errorf("playback queue full (%d chunks)", p.capacity)
	}

	p.queue = append(p.queue, chunk)

	if !p.playing {
		p.playing = true
		p.playhead = time.Now()
		go p.run(p.generation)
	}

	return nil
}

// Stop immediately halts in-progress and queued playback and empties the
// queue. Used for interruption; takes effect on the render loop's next
// scheduling point, well inside the perceptual latency budget.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haltLocked()
}

// Clear empties the queue without halting audio that already started.
func (p *Player) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chunksDropped += uint64(len(p.queue))
	p.queue = nil
}

// Close stops playback and rejects further chunks. Idempotent.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.haltLocked()
	p.closed = true
}

// haltLocked drops the queue and signals the active render loop to exit
// without firing onEnded. Callers hold p.mu.
func (p *Player) haltLocked() {
	p.chunksDropped += uint64(len(p.queue))
	p.queue = nil

	if p.playing {
		p.generation++
		close(p.interrupt)
		p.interrupt = make(chan struct{})
		p.playing = false
		p.playhead = time.Time{}
	}
}

// IsPlaying reports whether audio is currently scheduled or rendering.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// QueueDepth returns the number of pending chunks.
func (p *Player) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// GetStats returns current player statistics.
func (p *Player) GetStats() PlayerStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PlayerStats{
		Playing:       p.playing,
		QueueDepth:    len(p.queue),
		ChunksPlayed:  p.chunksPlayed,
		ChunksDropped: p.chunksDropped,
		BytesPlayed:   p.bytesPlayed,
	}
}

// run renders queued chunks back-to-back until the queue drains or the
// generation is invalidated by Stop/Close. One run services one burst; the
// drain fires onEnded exactly once.
func (p *Player) run(gen uint64) {
	for {
		p.mu.Lock()
		if p.generation != gen {
			p.mu.Unlock()
			return
		}

		if len(p.queue) == 0 {
			p.playing = false
			p.playhead = time.Time{}
			onEnded := p.onEnded
			p.mu.Unlock()

			if onEnded != nil {
				onEnded()
			}
			return
		}

		chunk := p.queue[0]
		p.queue = p.queue[1:]
		interrupt := p.interrupt
		p.mu.Unlock()

		if err := p.sink.WritePCM(chunk.SampleRate, chunk.PCM); err != nil {
			p.reportError(gen, fmt.Errorf("failed to render chunk %d: %w", chunk.Sequence, err))
			return
		}

		p.mu.Lock()
		if p.generation != gen {
			p.mu.Unlock()
			return
		}
		now := time.Now()
		if p.playhead.Before(now) {
			p.playhead = now
		}
		p.playhead = p.playhead.Add(chunk.Duration())
		deadline := p.playhead
		p.chunksPlayed++
		p.bytesPlayed += uint64(len(chunk.PCM))
		p.mu.Unlock()

		// Hold until the chunk's scheduled end so the next write starts
		// exactly when this chunk finishes.
		timer := time.NewTimer(time.Until(deadline))
		select {
		case <-timer.C:
		case <-interrupt:
			timer.Stop()
			return
		}
	}
}

// reportError surfaces a render failure once and halts the pipeline without
// firing onEnded. The session owner decides whether playback is still viable.
func (p *Player) reportError(gen uint64, err error) {
	p.mu.Lock()
	if p.generation == gen {
		p.haltLocked()
	}
	onError := p.onError
	p.mu.Unlock()

	if p.logger != nil {
		p.logger.Error("Playback pipeline failure", slog.String("error", err.Error()))
	}
	if onError != nil {
		onError(err)
	}
}
