package call

import (
	"github.com/makrame5/healthconnect/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// eventKind discriminates the inputs feeding the controller loop. Relay
// traffic, pion callbacks, timers and screen-share endings all arrive as
// events so that one goroutine owns every piece of call state.
type eventKind int

const (
	evPeerJoined eventKind = iota
	evPeerLeft
	evSignal
	evOfferDue
	evConnState
	evICEState
	evNegotiationNeeded
	evRemoteTrack
	evPeerStatus
	evScreenEnded
)

// event is a single input to the controller loop. gen is the call
// generation the event belongs to; zero means the event is not scoped to
// a particular attempt (relay traffic). Events whose generation no longer
// matches the current call are discarded as stale.
type event struct {
	kind eventKind
	gen  uint64

	participant *signaling.Participant
	signal      *signaling.Signal
	connState   webrtc.PeerConnectionState
	iceState    webrtc.ICEConnectionState
	status      PeerStatus
}

// cmdKind discriminates user commands handled by the loop.
type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdToggleMic
	cmdToggleVideo
	cmdToggleScreen
	cmdEnd
	cmdShutdown
	cmdStats
)

type command struct {
	kind  cmdKind
	reply chan cmdResult
}

type cmdResult struct {
	err   error
	on    bool
	stats Stats
}
