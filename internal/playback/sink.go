package playback

import (
	"fmt"
	"io"
	"sync"
)

// WriterSink renders PCM by writing raw little-endian samples to an
// io.Writer, typically a pipe into an external audio device process.
// Writes are serialized.
type WriterSink struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriterSink creates a sink over the given writer.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// WritePCM writes the chunk's raw bytes to the underlying writer.
func (s *WriterSink) WritePCM(sampleRate int, pcm []byte) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(pcm); err != nil {
		return fmt.Errorf("failed to write PCM: %w", err)
	}
	return nil
}
