// Package session orchestrates one voice conversation: negotiation, the
// audio channel, microphone capture, voice activity detection, playback of
// agent speech, and the lifecycle state machine tying them together.
//
// Events arrive from several goroutines (the capture pump, the channel read
// loop, the playback loop) but every handler serializes on one mutex, so the
// state machine behaves as if it were single threaded. The half-duplex rule
// lives in the frame sink: captured audio leaves the engine only inside an
// utterance the VAD has opened, while the session is listening, the
// microphone is enabled, and no agent audio is scheduled for playback.
package session
