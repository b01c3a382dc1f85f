// Package playback renders synthesized agent speech as one continuous
// stream. Chunks arrive from the network in bursts; the player queues them
// and schedules each chunk to start exactly when the previous one ends, so
// jitter upstream never produces audible gaps. Stop halts and empties the
// queue immediately, which is what makes interruption feel instant.
package playback
