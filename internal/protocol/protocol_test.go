package protocol

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestDecodeTranscript(t *testing.T) {
	data := []byte(`{"type":"transcript","text":"hello there","isFinal":true,"confidence":0.92,"speakerId":"user"}`)

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	transcript, ok := msg.(*TranscriptMessage)
	if !ok {
		t.Fatalf("Expected *TranscriptMessage, got %T", msg)
	}

	if transcript.Text != "hello there" {
		t.Errorf("Expected text 'hello there', got %q", transcript.Text)
	}
	if !transcript.Final {
		t.Error("Expected final transcript")
	}
	if transcript.Confidence != 0.92 {
		t.Errorf("Expected confidence 0.92, got %f", transcript.Confidence)
	}
	if transcript.SpeakerID != "user" {
		t.Errorf("Expected speaker 'user', got %q", transcript.SpeakerID)
	}
}

func TestDecodeAudioChunk(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	encoded := base64.StdEncoding.EncodeToString(pcm)
	data := []byte(`{"type":"audio","audio":"` + encoded + `","sampleRate":24000,"sequence":7,"isFinal":false}`)

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	chunk, ok := msg.(*AudioChunkMessage)
	if !ok {
		t.Fatalf("Expected *AudioChunkMessage, got %T", msg)
	}

	if chunk.SampleRate != 24000 {
		t.Errorf("Expected sample rate 24000, got %d", chunk.SampleRate)
	}
	if chunk.Sequence != 7 {
		t.Errorf("Expected sequence 7, got %d", chunk.Sequence)
	}

	decoded, err := chunk.PCM()
	if err != nil {
		t.Fatalf("PCM decode failed: %v", err)
	}
	if len(decoded) != len(pcm) {
		t.Errorf("Expected %d PCM bytes, got %d", len(pcm), len(decoded))
	}
}

func TestAudioChunkBadBase64(t *testing.T) {
	chunk := &AudioChunkMessage{Type: TypeAudio, Audio: "not-base64!!!"}
	if _, err := chunk.PCM(); err == nil {
		t.Error("Expected error decoding invalid base64 payload")
	}
}

func TestDecodeStateNormalization(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected SessionState
	}{
		{"string form", `{"type":"state","state":"speaking","turnId":"t-1"}`, StateSpeaking},
		{"numeric form", `{"type":"state","state":3,"turnId":"t-1"}`, StateSpeaking},
		{"numeric idle", `{"type":"state","state":0}`, StateIdle},
		{"numeric ended", `{"type":"state","state":5,"reason":"agent closed"}`, StateEnded},
		{"string interrupted", `{"type":"state","state":"interrupted"}`, StateInterrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.payload))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			state, ok := msg.(*StateMessage)
			if !ok {
				t.Fatalf("Expected *StateMessage, got %T", msg)
			}

			if state.State != tt.expected {
				t.Errorf("Expected state %v, got %v", tt.expected, state.State)
			}
		})
	}
}

func TestDecodeStateInvalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"numeric out of range", `{"type":"state","state":42}`},
		{"unknown name", `{"type":"state","state":"daydreaming"}`},
		{"wrong json type", `{"type":"state","state":[1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.payload)); err == nil {
				t.Error("Expected decode error")
			}
		})
	}
}

func TestDecodeErrorMessage(t *testing.T) {
	data := []byte(`{"type":"error","code":"rate_limited","message":"slow down","recoverable":true,"details":{"retryAfterMs":500}}`)

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	errMsg, ok := msg.(*ErrorMessage)
	if !ok {
		t.Fatalf("Expected *ErrorMessage, got %T", msg)
	}

	if errMsg.Code != "rate_limited" || !errMsg.Recoverable {
		t.Errorf("Unexpected error message contents: %+v", errMsg)
	}
	if errMsg.Details["retryAfterMs"] != float64(500) {
		t.Errorf("Expected details to carry retryAfterMs, got %v", errMsg.Details)
	}
}

func TestDecodeMetadata(t *testing.T) {
	data := []byte(`{"type":"metadata","event":"tool_call_start","payload":{"tool":"web_search"}}`)

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	meta, ok := msg.(*MetadataMessage)
	if !ok {
		t.Fatalf("Expected *MetadataMessage, got %T", msg)
	}

	if meta.Event != "tool_call_start" {
		t.Errorf("Expected event 'tool_call_start', got %q", meta.Event)
	}
}

func TestDecodeUnknownTypeRecoverable(t *testing.T) {
	_, err := Decode([]byte(`{"type":"hologram","data":1}`))
	if err == nil {
		t.Fatal("Expected error for unknown message type")
	}

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("Expected *ProtocolError, got %T", err)
	}
	if !protoErr.Recoverable {
		t.Error("Unknown message types must be recoverable")
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	if err == nil {
		t.Fatal("Expected error for malformed JSON")
	}

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("Expected *ProtocolError, got %T", err)
	}
	if !protoErr.Recoverable {
		t.Error("Malformed messages must be recoverable")
	}
}

func TestEncodeAudioFrame(t *testing.T) {
	pcm := []byte{0x00, 0x01, 0x00, 0x02}
	msg := NewAudioFrameMessage(pcm, true)

	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Re-decoding the outbound shape through the inbound audio parser checks
	// the shared field contract.
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode of encoded frame failed: %v", err)
	}

	chunk, ok := decoded.(*AudioChunkMessage)
	if !ok {
		t.Fatalf("Expected *AudioChunkMessage, got %T", decoded)
	}

	raw, err := chunk.PCM()
	if err != nil {
		t.Fatalf("PCM decode failed: %v", err)
	}
	if len(raw) != len(pcm) {
		t.Errorf("Expected %d bytes, got %d", len(pcm), len(raw))
	}
	if !chunk.Final {
		t.Error("Expected final flag to survive the round trip")
	}
}

func TestControlMessageValidation(t *testing.T) {
	valid := []string{ActionStart, ActionStop, ActionInterrupt, ActionMute, ActionUnmute, ActionPing}
	for _, action := range valid {
		if err := NewControlMessage(action).Validate(); err != nil {
			t.Errorf("Action %q: unexpected error %v", action, err)
		}
	}

	if err := NewControlMessage("reboot").Validate(); err == nil {
		t.Error("Expected error for invalid control action")
	}
}

func TestSequenceTrackerStrictOrder(t *testing.T) {
	tracker := NewSequenceTracker()

	for seq := uint64(1); seq <= 5; seq++ {
		if err := tracker.Validate(seq); err != nil {
			t.Fatalf("Sequence %d: unexpected error %v", seq, err)
		}
	}
}

func TestSequenceTrackerDuplicate(t *testing.T) {
	tracker := NewSequenceTracker()

	if err := tracker.Validate(5); err != nil {
		t.Fatalf("First sequence: unexpected error %v", err)
	}

	err := tracker.Validate(5)
	if err == nil {
		t.Fatal("Expected error for duplicate sequence")
	}

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("Expected *ProtocolError, got %T", err)
	}
	if protoErr.Code != "sequence_duplicate" || !protoErr.Recoverable {
		t.Errorf("Unexpected protocol error: %+v", protoErr)
	}

	// The duplicate must not move the tracker; the true successor validates.
	if err := tracker.Validate(6); err != nil {
		t.Errorf("Successor after duplicate: unexpected error %v", err)
	}
}

func TestSequenceTrackerGap(t *testing.T) {
	tracker := NewSequenceTracker()

	if err := tracker.Validate(1); err != nil {
		t.Fatalf("First sequence: unexpected error %v", err)
	}

	err := tracker.Validate(4)
	if err == nil {
		t.Fatal("Expected error for sequence gap")
	}

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("Expected *ProtocolError, got %T", err)
	}
	if protoErr.Code != "sequence_gap" || !protoErr.Recoverable {
		t.Errorf("Unexpected protocol error: %+v", protoErr)
	}

	// After a gap the tracker skips forward so rendering continues.
	if err := tracker.Validate(5); err != nil {
		t.Errorf("Sequence after gap: unexpected error %v", err)
	}

	stats := tracker.GetStats()
	if stats.Gaps != 1 {
		t.Errorf("Expected 1 gap recorded, got %d", stats.Gaps)
	}
}

func TestSequenceTrackerResetTurn(t *testing.T) {
	tracker := NewSequenceTracker()

	if err := tracker.Validate(41); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	tracker.ResetTurn()

	// A new turn may restart numbering anywhere.
	if err := tracker.Validate(1); err != nil {
		t.Errorf("First sequence of new turn: unexpected error %v", err)
	}
}

func TestSessionStateNames(t *testing.T) {
	tests := []struct {
		state SessionState
		name  string
	}{
		{StateIdle, "idle"},
		{StateListening, "listening"},
		{StateProcessing, "processing"},
		{StateSpeaking, "speaking"},
		{StateInterrupted, "interrupted"},
		{StateEnded, "ended"},
	}

	for _, tt := range tests {
		if tt.state.String() != tt.name {
			t.Errorf("Expected %v to stringify as %q, got %q", tt.state, tt.name, tt.state.String())
		}

		parsed, err := ParseSessionState(tt.name)
		if err != nil {
			t.Errorf("ParseSessionState(%q) failed: %v", tt.name, err)
		}
		if parsed != tt.state {
			t.Errorf("ParseSessionState(%q) = %v, expected %v", tt.name, parsed, tt.state)
		}
	}

	if SessionState(99).IsValid() {
		t.Error("Expected out-of-range state to be invalid")
	}
}
