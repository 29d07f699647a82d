package loop

import "fmt"

// State is the lifecycle state of a mounted mode.
type State int

const (
	// StateInitializing holds from mount until setup finishes.
	StateInitializing State = iota
	// StateCameraDenied means the frame source could not be acquired.
	StateCameraDenied
	// StateEngineFailed means the detector could not be created.
	StateEngineFailed
	// StateActive means the render cycle is running.
	StateActive
)

var stateNames = map[State]string{
	StateInitializing: "initializing",
	StateCameraDenied: "camera_denied",
	StateEngineFailed: "engine_failed",
	StateActive:       "active",
}

var stateMessages = map[State]string{
	StateInitializing: "Loading...",
	StateCameraDenied: "Please allow camera permission",
	StateEngineFailed: "Something went wrong with the AI model",
	StateActive:       "",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Message is the text shown to the user while in s. Active shows the video
// instead of a message.
func (s State) Message() string {
	return stateMessages[s]
}

// Terminal reports whether s ends the mount's setup for good.
func (s State) Terminal() bool {
	return s == StateCameraDenied || s == StateEngineFailed
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// canTransition reports whether from → to is allowed. States only move
// forward out of Initializing.
func canTransition(from, to State) bool {
	return from == StateInitializing && to != StateInitializing
}
