// Package audio handles microphone capture and PCM16 format conversion.
// It pumps float samples from an acquired source into fixed-size little-endian
// PCM16 frames with pause/resume support for mute toggling.
package audio
