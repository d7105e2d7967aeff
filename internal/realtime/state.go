package realtime

// State is the connection manager's lifecycle state.
type State int

const (
	// StateIdle means no connection exists and none is being attempted.
	// This is the initial state and the state after an explicit Disconnect.
	StateIdle State = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateOpen means the transport is established and Send is allowed.
	StateOpen

	// StateClosed means the transport was lost. The client either has a
	// retry pending or, after exhausting retries, rests here until an
	// explicit Connect.
	StateClosed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
