package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Message type discriminators carried in the "type" field of every envelope.
const (
	// Client -> agent
	TypeAudio   = "audio"
	TypeControl = "control"
	TypeConfig  = "config"

	// Agent -> client
	TypeTranscript = "transcript"
	TypeState      = "state"
	TypeError      = "error"
	TypeMetadata   = "metadata"
	TypePong       = "pong"
)

// Control actions.
const (
	ActionStart     = "start"
	ActionStop      = "stop"
	ActionInterrupt = "interrupt"
	ActionMute      = "mute"
	ActionUnmute    = "unmute"
	ActionPing      = "ping"
)

// Message is any wire message. Every concrete message carries its own type
// discriminator so it can be marshaled directly.
type Message interface {
	MessageType() string
}

// AudioFrameMessage carries one captured PCM16 frame to the agent.
type AudioFrameMessage struct {
	Type      string `json:"type"`
	Audio     string `json:"audio"` // base64 little-endian PCM16
	Timestamp int64  `json:"timestamp"`
	Final     bool   `json:"isFinal"`
}

// NewAudioFrameMessage wraps raw PCM16 bytes for transmission. Final marks
// the last frame of the current user utterance.
func NewAudioFrameMessage(pcm []byte, final bool) *AudioFrameMessage {
	return &AudioFrameMessage{
		Type:      TypeAudio,
		Audio:     base64.StdEncoding.EncodeToString(pcm),
		Timestamp: time.Now().UnixMilli(),
		Final:     final,
	}
}

func (m *AudioFrameMessage) MessageType() string { return TypeAudio }

// ControlMessage carries a client control action.
type ControlMessage struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

// NewControlMessage builds a control message for the given action.
func NewControlMessage(action string) *ControlMessage {
	return &ControlMessage{Type: TypeControl, Action: action}
}

func (m *ControlMessage) MessageType() string { return TypeControl }

// Validate checks the control action against the closed action set.
func (m *ControlMessage) Validate() error {
	switch m.Action {
	case ActionStart, ActionStop, ActionInterrupt, ActionMute, ActionUnmute, ActionPing:
		return nil
	default:
		return fmt.Errorf("invalid control action %q", m.Action)
	}
}

// OptionsPatch is a partial session-option override applied mid-session.
// Nil fields are left unchanged on the agent side.
type OptionsPatch struct {
	Provider   *string `json:"provider,omitempty"`
	Model      *string `json:"model,omitempty"`
	VoiceID    *string `json:"voiceId,omitempty"`
	SampleRate *int    `json:"sampleRate,omitempty"`
}

// ConfigMessage carries a partial session-option override.
type ConfigMessage struct {
	Type    string       `json:"type"`
	Options OptionsPatch `json:"options"`
}

// NewConfigMessage builds a config override message.
func NewConfigMessage(options OptionsPatch) *ConfigMessage {
	return &ConfigMessage{Type: TypeConfig, Options: options}
}

func (m *ConfigMessage) MessageType() string { return TypeConfig }

// WordTiming is optional per-word timing on a transcript.
type WordTiming struct {
	Word    string `json:"word"`
	StartMs int    `json:"startMs"`
	EndMs   int    `json:"endMs"`
}

// TranscriptMessage carries recognized speech text from the agent side.
type TranscriptMessage struct {
	Type       string       `json:"type"`
	Text       string       `json:"text"`
	Final      bool         `json:"isFinal"`
	Confidence float64      `json:"confidence"`
	Words      []WordTiming `json:"words,omitempty"`
	SpeakerID  string       `json:"speakerId,omitempty"`
}

func (m *TranscriptMessage) MessageType() string { return TypeTranscript }

// AudioChunkMessage carries one chunk of synthesized agent speech. Sequence
// numbers are strictly increasing within a turn; Final marks the end of the
// current agent utterance.
type AudioChunkMessage struct {
	Type       string `json:"type"`
	Audio      string `json:"audio"` // base64 little-endian PCM16
	SampleRate int    `json:"sampleRate"`
	Sequence   uint64 `json:"sequence"`
	Final      bool   `json:"isFinal"`
}

func (m *AudioChunkMessage) MessageType() string { return TypeAudio }

// PCM decodes the base64 payload into raw PCM16 bytes.
func (m *AudioChunkMessage) PCM() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return data, nil
}

// StateMessage is the authoritative session state signal from the agent side.
type StateMessage struct {
	Type   string       `json:"type"`
	State  SessionState `json:"state"`
	Reason string       `json:"reason,omitempty"`
	TurnID string       `json:"turnId,omitempty"`
}

func (m *StateMessage) MessageType() string { return TypeState }

// ErrorMessage reports an agent-side fault. Recoverable errors are surfaced
// without affecting the session; non-recoverable errors end it.
type ErrorMessage struct {
	Type        string         `json:"type"`
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Recoverable bool           `json:"recoverable"`
	Details     map[string]any `json:"details,omitempty"`
}

func (m *ErrorMessage) MessageType() string { return TypeError }

// MetadataMessage carries agent/tool-execution telemetry as a named event
// with a free-form payload. Unknown event names must be ignored without
// failing the session.
type MetadataMessage struct {
	Type    string         `json:"type"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (m *MetadataMessage) MessageType() string { return TypeMetadata }

// PongMessage is the liveness reply to a control ping.
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func (m *PongMessage) MessageType() string { return TypePong }

// Encode serializes a message to its JSON wire form.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.MessageType(), err)
	}
	return data, nil
}

// envelope is the minimal probe used to dispatch on the type discriminator.
type envelope struct {
	Type string `json:"type"`
}

// Decode parses an inbound wire message into its typed form. An unknown type
// discriminator is a recoverable protocol violation.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{
			Code:        "malformed_message",
			Message:     fmt.Sprintf("failed to parse message envelope: %v", err),
			Recoverable: true,
		}
	}

	var msg Message
	switch env.Type {
	case TypeTranscript:
		msg = &TranscriptMessage{}
	case TypeAudio:
		msg = &AudioChunkMessage{}
	case TypeState:
		msg = &StateMessage{}
	case TypeError:
		msg = &ErrorMessage{}
	case TypeMetadata:
		msg = &MetadataMessage{}
	case TypePong:
		msg = &PongMessage{}
	default:
		return nil, &ProtocolError{
			Code:        "unknown_message_type",
			Message:     fmt.Sprintf("unknown message type %q", env.Type),
			Recoverable: true,
		}
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, &ProtocolError{
			Code:        "malformed_message",
			Message:     fmt.Sprintf("failed to parse %s message: %v", env.Type, err),
			Recoverable: true,
		}
	}

	return msg, nil
}
