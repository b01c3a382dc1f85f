package audio

import (
	"fmt"
	"math"
)

// pcm16Scale maps the float range [-1, 1] onto the signed 16-bit integer range.
const pcm16Scale = 32768

// FloatToPCM16 converts a float sample in [-1, 1] to a signed 16-bit sample.
// The value is linearly scaled, rounded to nearest (ties away from zero),
// and clamped to the int16 range.
func FloatToPCM16(sample float32) int16 {
	scaled := math.Round(float64(sample) * pcm16Scale)
	if scaled > math.MaxInt16 {
		return math.MaxInt16
	}
	if scaled < math.MinInt16 {
		return math.MinInt16
	}
	return int16(scaled)
}

// PCM16ToFloat converts a signed 16-bit sample back to a float in [-1, 1).
// Round-tripping a float sample through FloatToPCM16 and back stays within
// one quantization step (1/32768) of the original.
func PCM16ToFloat(sample int16) float32 {
	return float32(sample) / pcm16Scale
}

// EncodePCM16 packs samples into little-endian PCM16 bytes.
func EncodePCM16(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// DecodePCM16 unpacks little-endian PCM16 bytes into samples.
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm data length must be even, got %d bytes", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// FloatsToPCM16 converts a block of float samples to little-endian PCM16 bytes.
func FloatsToPCM16(samples []float32) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := FloatToPCM16(s)
		data[i*2] = byte(v)
		data[i*2+1] = byte(v >> 8)
	}
	return data
}
