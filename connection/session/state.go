package session

type State int

const (
	Idle State = iota
	Connecting
	Open
	Reconnecting
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case Open:
		return "Open"
	case Reconnecting:
		return "Reconnecting"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// StateChange is delivered to OnStateChange callbacks for every transition.
// Attempt is the reconnect attempt counter after the transition.
type StateChange struct {
	From    State
	To      State
	Attempt int
}
