package protocol

import (
	"fmt"
	"sync"
)

// ProtocolError is a wire-contract violation detected on this side.
type ProtocolError struct {
	Code        string
	Message     string
	Recoverable bool
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error [%s]: %s", e.Code, e.Message)
}

// SequenceTracker validates that inbound audio sequence numbers are strictly
// increasing within one agent turn. Violations are reported as recoverable
// errors; the stream is never reordered and no retransmission is requested.
type SequenceTracker struct {
	started bool
	last    uint64

	// Statistics
	validated  uint64
	duplicates uint64
	gaps       uint64

	mu sync.Mutex
}

// TrackerStats represents sequence tracker statistics.
type TrackerStats struct {
	Validated  uint64 `json:"validated"`
	Duplicates uint64 `json:"duplicates"`
	Gaps       uint64 `json:"gaps"`
}

// NewSequenceTracker creates a tracker positioned before the first chunk of a
// turn.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{}
}

// Validate checks one inbound sequence number. On a duplicate or regression
// the tracker position is unchanged and the chunk should be dropped; on a gap
// the tracker skips forward so later chunks still validate, since whatever
// audio did arrive is still rendered.
func (t *SequenceTracker) Validate(sequence uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		t.started = true
		t.last = sequence
		t.validated++
		return nil
	}

	if sequence <= t.last {
		t.duplicates++
		return &ProtocolError{
			Code:        "sequence_duplicate",
			Message:     fmt.Sprintf("sequence %d repeats or precedes last seen %d", sequence, t.last),
			Recoverable: true,
		}
	}

	if sequence != t.last+1 {
		t.gaps++
		expected := t.last + 1
		t.last = sequence
		t.validated++
		return &ProtocolError{
			Code:        "sequence_gap",
			Message:     fmt.Sprintf("expected sequence %d, got %d", expected, sequence),
			Recoverable: true,
		}
	}

	t.last = sequence
	t.validated++
	return nil
}

// ResetTurn repositions the tracker for the next agent turn.
func (t *SequenceTracker) ResetTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = false
	t.last = 0
}

// GetStats returns current tracker statistics.
func (t *SequenceTracker) GetStats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return TrackerStats{
		Validated:  t.validated,
		Duplicates: t.duplicates,
		Gaps:       t.gaps,
	}
}
