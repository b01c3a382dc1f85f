// Package protocol defines the client/agent wire message set and its JSON
// encoding. It is the only package both sides must agree on field-for-field:
// outbound audio/control/config messages, inbound transcript/audio/state/
// error/metadata/pong messages, session state normalization, and per-turn
// audio sequence validation.
package protocol
