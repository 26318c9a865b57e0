package scan

import (
	"fmt"
	"time"

	"github.com/schoolgate/schoolgate/internal/attendance"
)

// State is the lifecycle state of one station.
type State int

const (
	// StateIdle means no listener is armed. Initial state.
	StateIdle State = iota
	// StateAwaitingTap means the listener is armed.
	StateAwaitingTap
	// StateResolving means a tap is being looked up and recorded.
	StateResolving
	// StateCooldown is the short feedback pause after an accepted tap.
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingTap:
		return "awaiting_tap"
	case StateResolving:
		return "resolving"
	case StateCooldown:
		return "cooldown"
	}
	return "unknown"
}

// MarshalText renders the state name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateIdle, StateAwaitingTap, StateResolving, StateCooldown} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown station state %q", b)
}

// FeedbackKind is the operator-visible outcome of one tap.
type FeedbackKind string

const (
	FeedbackAccepted       FeedbackKind = "accepted"
	FeedbackAlreadyScanned FeedbackKind = "already_scanned"
	FeedbackUnrecognized   FeedbackKind = "unrecognized"
	FeedbackError          FeedbackKind = "error"
)

// Feedback is emitted once per processed tap.
type Feedback struct {
	Kind       FeedbackKind      `json:"kind"`
	StationID  string            `json:"stationId"`
	EntityID   string            `json:"entityId,omitempty"`
	EntityName string            `json:"entityName,omitempty"`
	Action     attendance.Action `json:"action,omitempty"`
	EventID    string            `json:"eventId,omitempty"`
	// Queued is set when the event was stored locally for later transmission.
	Queued bool      `json:"queued,omitempty"`
	At     time.Time `json:"at"`
}
