package call

// State is the lifecycle phase of a consultation call.
type State int

const (
	// StateIdle means no call is active.
	StateIdle State = iota

	// StateAcquiringMedia means camera/microphone capture is in progress.
	StateAcquiringMedia

	// StateNegotiating means signaling is under way but media is not
	// flowing yet.
	StateNegotiating

	// StateConnected means the peer connection reached the connected
	// state.
	StateConnected

	// StateEnded means the call was ended deliberately.
	StateEnded

	// StateFailed means the connection was lost or never established.
	// The user must end the call and start a new one to recover.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMedia:
		return "acquiring-media"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// active reports whether a call attempt is under way in this state.
func (s State) active() bool {
	switch s {
	case StateAcquiringMedia, StateNegotiating, StateConnected:
		return true
	default:
		return false
	}
}
