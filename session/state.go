package session

// State is the lifecycle position of a session.
type State int32

const (
	Connecting State = iota // Waiting for the registration line
	Active                  // Registered and relaying chat
	Closed                  // Torn down; terminal
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Active:
		return "Active"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}
