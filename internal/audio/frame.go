package audio

import (
	"time"
)

// Frame is a fixed-size block of mono PCM16 samples captured from the
// microphone. Frames are immutable once emitted and carry a monotonically
// increasing sequence number in capture order.
type Frame struct {
	Sequence   uint64
	SampleRate int
	PCM        []byte // little-endian signed 16-bit samples
	Captured   time.Time
}

// SampleCount returns the number of samples in the frame.
func (f *Frame) SampleCount() int {
	return len(f.PCM) / 2
}

// Duration returns the wall-clock duration the frame covers at its sample rate.
func (f *Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SampleCount()) * time.Second / time.Duration(f.SampleRate)
}

// Samples decodes the frame payload into int16 samples.
func (f *Frame) Samples() []int16 {
	samples, _ := DecodePCM16(f.PCM)
	return samples
}
