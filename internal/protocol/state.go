package protocol

import (
	"encoding/json"
	"fmt"
)

// SessionState is the closed set of session lifecycle states. Ended is
// terminal: a session that reaches it must be discarded.
type SessionState int

const (
	StateIdle SessionState = iota
	StateListening
	StateProcessing
	StateSpeaking
	StateInterrupted
	StateEnded
)

var stateNames = map[SessionState]string{
	StateIdle:        "idle",
	StateListening:   "listening",
	StateProcessing:  "processing",
	StateSpeaking:    "speaking",
	StateInterrupted: "interrupted",
	StateEnded:       "ended",
}

// String returns the wire name of the state.
func (s SessionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// IsValid reports whether s is one of the defined states.
func (s SessionState) IsValid() bool {
	_, ok := stateNames[s]
	return ok
}

// ParseSessionState maps a wire name to a SessionState.
func ParseSessionState(name string) (SessionState, error) {
	for state, n := range stateNames {
		if n == name {
			return state, nil
		}
	}
	return StateIdle, fmt.Errorf("unknown session state %q", name)
}

// MarshalJSON encodes the state as its wire name.
func (s SessionState) MarshalJSON() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("cannot encode invalid session state %d", int(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either the numeric or the named wire form. Some agent
// backends send state as a number; the numeric mapping stays confined to this
// decode step and never leaks past the protocol layer.
func (s *SessionState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		state, err := ParseSessionState(name)
		if err != nil {
			return err
		}
		*s = state
		return nil
	}

	var number int
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("session state must be a string or number, got %s", data)
	}

	state := SessionState(number)
	if !state.IsValid() {
		return fmt.Errorf("numeric session state %d out of range", number)
	}
	*s = state
	return nil
}
