package audio

import (
	"fmt"
	"io"
	"sync"
)

// Source supplies raw microphone samples as floats in [-1, 1].
// Open acquires the underlying device or stream; a denied microphone
// permission surfaces here, before any samples flow. ReadSamples blocks
// until at least one sample is available and returns the number of samples
// written into p. It returns io.EOF when the underlying device or stream is
// exhausted.
//
// The source is owned by whoever acquired it; the capture pipeline opens
// and reads from it but never closes it.
type Source interface {
	Open() error
	ReadSamples(p []float32) (int, error)
	Close() error
}

// ReaderSource adapts an io.Reader of little-endian PCM16 bytes into a
// Source, converting each sample to its float representation. It lets the
// engine run against OS capture pipes (arecord, parec) that emit s16le.
type ReaderSource struct {
	r       io.Reader
	partial [2]byte // carry for a split sample across reads
	hasHalf bool

	mu     sync.Mutex
	closed bool
}

// NewReaderSource wraps r as a float sample source.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

// Open verifies the underlying reader is usable.
func (s *ReaderSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.r == nil {
		return fmt.Errorf("no underlying reader")
	}
	if s.closed {
		return fmt.Errorf("source is closed")
	}
	return nil
}

// ReadSamples fills p with converted samples from the underlying reader.
func (s *ReaderSource) ReadSamples(p []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("source is closed")
	}

	if len(p) == 0 {
		return 0, nil
	}

	buf := make([]byte, len(p)*2)
	offset := 0
	if s.hasHalf {
		buf[0] = s.partial[0]
		offset = 1
		s.hasHalf = false
	}

	n, err := s.r.Read(buf[offset:])
	total := offset + n
	if total < 2 {
		if total == 1 {
			s.partial[0] = buf[0]
			s.hasHalf = true
		}
		if err != nil {
			return 0, err
		}
		return 0, nil
	}

	if total%2 != 0 {
		s.partial[0] = buf[total-1]
		s.hasHalf = true
		total--
	}

	count := total / 2
	for i := 0; i < count; i++ {
		sample := int16(buf[i*2]) | int16(buf[i*2+1])<<8
		p[i] = PCM16ToFloat(sample)
	}

	if err != nil && count > 0 {
		// Deliver the samples we have; the error surfaces on the next read.
		return count, nil
	}
	return count, err
}

// Close marks the source closed. The underlying reader is closed only if it
// implements io.Closer.
func (s *ReaderSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
