package session

import "fmt"

// State is the lifecycle state of a Session.
type State int

// Session states. Error is reachable from Connecting and Negotiating
// and is terminal, like Closed; a session torn down after a failure stays
// in Error.
const (
	StateIdle State = iota
	StateConnecting
	StateNegotiating
	StateStreaming
	StateError
	StateClosed
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateConnecting:  "connecting",
	StateNegotiating: "negotiating",
	StateStreaming:   "streaming",
	StateError:       "error",
	StateClosed:      "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}
