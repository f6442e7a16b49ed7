package session

// State is a step of the session lifecycle. Transitions only move forward:
// Unconfigured -> Connecting -> Connected -> Disconnecting -> Terminated, or
// Connecting -> Terminated when connect fails.
type State int

const (
	Unconfigured State = iota
	Connecting
	Connected
	Disconnecting
	Terminated
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}
