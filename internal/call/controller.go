// Package call drives the lifecycle of a telemedicine video consultation:
// acquiring local media, negotiating the peer connection through the
// relay, tracking the remote participant's presence and winding the call
// down. A single loop goroutine owns all mutable call state; relay
// traffic, pion callbacks, timers and user commands enter it as events.
package call

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/makrame5/healthconnect/internal/media"
	"github.com/makrame5/healthconnect/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// defaultSettleDelay is how long the caller waits after joining the room
// before creating the first offer, giving the other side time to attach.
const defaultSettleDelay = time.Second

// Options configures a Controller.
type Options struct {
	// RoomID is the consultation room assigned by the appointment
	// system. Starting a call with an empty room fails with
	// ErrRoomUnresolved.
	RoomID string

	// Self is the identity presented to the relay.
	Self signaling.Participant

	Relay Relay
	Media media.Capability

	ICEServers []webrtc.ICEServer

	// Confirm gates EndCall. When non-nil and it returns false, the call
	// keeps running. Shutdown never consults it.
	Confirm func() bool

	// SettleDelay overrides the pre-offer wait; zero means the default.
	SettleDelay time.Duration
}

// Controller runs one participant's side of a consultation call.
type Controller struct {
	opts  Options
	relay Relay
	neg   *negotiator
	pres  *presence

	events   chan event
	commands chan command
	updates  chan Snapshot
	done     chan struct{}
	shutOnce sync.Once

	stateAtomic atomic.Int32

	statsMu    sync.Mutex
	finalStats Stats

	// Everything below is owned by the loop goroutine.
	state         State
	gen           uint64
	localStream   *media.Stream
	screenStream  *media.Stream
	cameraVideo   *media.Track
	micMuted      bool
	cameraOff     bool
	screenSharing bool
	iceRestarting bool
	peerStatus    PeerStatus
	remoteTracks  int
	notice        string
	stats         Stats
}

// New builds a controller and starts its loop goroutine.
func New(opts Options) *Controller {
	if opts.SettleDelay == 0 {
		opts.SettleDelay = defaultSettleDelay
	}

	c := &Controller{
		opts:     opts,
		relay:    opts.Relay,
		pres:     newPresence(),
		events:   make(chan event, 64),
		commands: make(chan command),
		updates:  make(chan Snapshot, 16),
		done:     make(chan struct{}),
		state:    StateIdle,
	}
	c.neg = newNegotiator(opts.Relay, opts.Media, opts.ICEServers, c.post)

	go c.run()
	return c
}

// StartCall begins a call attempt: capture media, open the connection,
// join the room and schedule the first offer. It fails when the room is
// unresolved or a call is already running.
func (c *Controller) StartCall() error {
	return c.sendCommand(cmdStart).err
}

// ToggleMic flips the microphone and reports whether it is now muted.
func (c *Controller) ToggleMic() (bool, error) {
	res := c.sendCommand(cmdToggleMic)
	return res.on, res.err
}

// ToggleVideo flips the camera and reports whether it is now off.
func (c *Controller) ToggleVideo() (bool, error) {
	res := c.sendCommand(cmdToggleVideo)
	return res.on, res.err
}

// ToggleScreenShare starts or stops screen sharing and reports whether a
// share is now active. The swap uses ReplaceTrack, so no renegotiation
// happens and the microphone keeps flowing.
func (c *Controller) ToggleScreenShare() (bool, error) {
	res := c.sendCommand(cmdToggleScreen)
	return res.on, res.err
}

// EndCall winds the call down after the confirmation gate approves. A
// declined confirmation leaves the call untouched.
func (c *Controller) EndCall() error {
	return c.sendCommand(cmdEnd).err
}

// Shutdown tears down any active call without confirmation and stops the
// controller. Safe to call more than once.
func (c *Controller) Shutdown() {
	c.sendCommand(cmdShutdown)
}

// Stats returns the running or final call statistics. It stays readable
// after Shutdown so the post-call summary can be rendered.
func (c *Controller) Stats() Stats {
	res := c.sendCommand(cmdStats)
	if errors.Is(res.err, ErrControllerClosed) {
		c.statsMu.Lock()
		defer c.statsMu.Unlock()
		return c.finalStats
	}
	return res.stats
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	return State(c.stateAtomic.Load())
}

// Updates delivers snapshots for rendering. Slow readers lose old
// snapshots, never new ones.
func (c *Controller) Updates() <-chan Snapshot {
	return c.updates
}

// PeerJoined feeds a user_joined announcement from the relay.
func (c *Controller) PeerJoined(p *signaling.Participant) {
	c.post(event{kind: evPeerJoined, participant: p})
}

// PeerLeft feeds a user_left announcement from the relay.
func (c *Controller) PeerLeft(p *signaling.Participant) {
	c.post(event{kind: evPeerLeft, participant: p})
}

// HandleSignal feeds an offer, answer or ICE candidate from the relay.
func (c *Controller) HandleSignal(sig *signaling.Signal) {
	c.post(event{kind: evSignal, signal: sig})
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) sendCommand(kind cmdKind) cmdResult {
	cmd := command{kind: kind, reply: make(chan cmdResult, 1)}
	select {
	case c.commands <- cmd:
	case <-c.done:
		return cmdResult{err: ErrControllerClosed}
	}
	select {
	case res := <-cmd.reply:
		return res
	case <-c.done:
		return cmdResult{err: ErrControllerClosed}
	}
}

func (c *Controller) run() {
	for {
		select {
		case cmd := <-c.commands:
			if cmd.kind == cmdShutdown {
				c.handleShutdown()
				cmd.reply <- cmdResult{}
				c.shutOnce.Do(func() { close(c.done) })
				return
			}
			cmd.reply <- c.handleCommand(cmd)

		case ev := <-c.events:
			c.handleEvent(ev)
		}
	}
}

func (c *Controller) handleCommand(cmd command) cmdResult {
	switch cmd.kind {
	case cmdStart:
		return cmdResult{err: c.startCall()}
	case cmdToggleMic:
		on, err := c.toggleMic()
		return cmdResult{on: on, err: err}
	case cmdToggleVideo:
		on, err := c.toggleVideo()
		return cmdResult{on: on, err: err}
	case cmdToggleScreen:
		on, err := c.toggleScreen()
		return cmdResult{on: on, err: err}
	case cmdEnd:
		return cmdResult{err: c.endCall()}
	case cmdStats:
		return cmdResult{stats: c.stats}
	default:
		return cmdResult{}
	}
}

func (c *Controller) handleEvent(ev event) {
	// Events carrying a generation belong to a specific call attempt;
	// completions from a torn-down attempt must not touch the current one.
	if ev.gen != 0 && ev.gen != c.gen {
		slog.Debug("stale event discarded", "kind", ev.kind, "gen", ev.gen)
		return
	}

	switch ev.kind {
	case evPeerJoined:
		c.handlePeerJoined(ev.participant)
	case evPeerLeft:
		c.handlePeerLeft(ev.participant)
	case evSignal:
		c.handleSignal(ev.signal)
	case evOfferDue:
		c.handleOfferDue()
	case evConnState:
		c.handleConnState(ev.connState)
	case evICEState:
		c.handleICEState(ev.iceState)
	case evNegotiationNeeded:
		c.handleNegotiationNeeded()
	case evRemoteTrack:
		c.remoteTracks++
		c.pushUpdate()
	case evPeerStatus:
		c.peerStatus = ev.status
		c.pushUpdate()
	case evScreenEnded:
		// The user ended the share from outside the app; fall back to
		// the camera.
		c.stopScreenShare()
		c.pushUpdate()
	}
}

// startCall runs the caller-side setup sequence.
func (c *Controller) startCall() error {
	if c.state.active() {
		return NewError("start call", ErrCallInProgress)
	}
	if c.opts.RoomID == "" {
		return NewError("start call", ErrRoomUnresolved)
	}

	c.resetAttempt()
	c.stats = Stats{RoomID: c.opts.RoomID, StartedAt: time.Now()}
	c.setState(StateAcquiringMedia)
	c.pushUpdate()

	stream, err := c.acquireMedia()
	if err != nil {
		c.notice = mediaNotice(err)
		c.setState(StateIdle)
		c.pushUpdate()
		return WrapError("start call", err, "capturing local media")
	}
	c.localStream = stream
	c.setState(StateNegotiating)
	c.pushUpdate()

	if err := c.neg.initialize(c.opts.RoomID, c.localStream, c.gen); err != nil {
		c.teardownAttempt()
		c.setState(StateIdle)
		c.pushUpdate()
		return err
	}

	if err := c.relay.Join(c.opts.RoomID, c.opts.Self); err != nil {
		c.teardownAttempt()
		c.setState(StateIdle)
		c.pushUpdate()
		return WrapError("start call", err, "joining room")
	}

	// Let the room settle before offering, so a peer joining right after
	// us still catches the offer.
	gen := c.gen
	time.AfterFunc(c.opts.SettleDelay, func() {
		c.post(event{kind: evOfferDue, gen: gen})
	})

	return nil
}

// acquireMedia captures camera and microphone, preferring the HD profile
// and retrying without constraints before giving up.
func (c *Controller) acquireMedia() (*media.Stream, error) {
	stream, err := c.opts.Media.Acquire(media.HDProfile)
	if err == nil {
		return stream, nil
	}
	slog.Warn("preferred capture profile failed, retrying generic", "error", err)

	return c.opts.Media.Acquire(media.Profile{})
}

func (c *Controller) toggleMic() (bool, error) {
	if c.localStream == nil {
		return false, NewError("toggle mic", ErrNoActiveCall)
	}
	track := c.localStream.AudioTrack()
	if track == nil {
		return false, NewError("toggle mic", ErrMediaUnavailable)
	}

	enabled := !track.Enabled()
	if err := c.gateSender(webrtc.RTPCodecTypeAudio, track, enabled); err != nil {
		return c.micMuted, WrapError("toggle mic", err, "")
	}
	track.SetEnabled(enabled)
	c.micMuted = !enabled
	c.sendStatus()
	c.pushUpdate()
	return c.micMuted, nil
}

func (c *Controller) toggleVideo() (bool, error) {
	if c.localStream == nil {
		return false, NewError("toggle video", ErrNoActiveCall)
	}
	track := c.localStream.VideoTrack()
	if track == nil {
		return false, NewError("toggle video", ErrMediaUnavailable)
	}

	enabled := !track.Enabled()
	// While screen sharing the video sender carries the screen track; the
	// camera's state is applied when the share stops.
	if !c.screenSharing {
		if err := c.gateSender(webrtc.RTPCodecTypeVideo, track, enabled); err != nil {
			return c.cameraOff, WrapError("toggle video", err, "")
		}
	}
	track.SetEnabled(enabled)
	c.cameraOff = !enabled
	c.sendStatus()
	c.pushUpdate()
	return c.cameraOff, nil
}

// gateSender makes a device toggle real on the wire: disabling swaps the
// outbound sender to a placeholder that emits nothing, enabling restores
// the captured track. Uses ReplaceTrack, so no renegotiation happens.
func (c *Controller) gateSender(kind webrtc.RTPCodecType, track *media.Track, enabled bool) error {
	if !c.neg.hasConnection() {
		return nil
	}

	if enabled {
		return c.neg.replaceTrack(kind, track.Local())
	}

	muted, err := media.NewMutedTrack(kind)
	if err != nil {
		return err
	}
	return c.neg.replaceTrack(kind, muted)
}

func (c *Controller) toggleScreen() (bool, error) {
	if c.localStream == nil {
		return false, NewError("share screen", ErrNoActiveCall)
	}

	if c.screenSharing {
		c.stopScreenShare()
		c.pushUpdate()
		return false, nil
	}

	stream, err := c.opts.Media.CaptureScreen()
	if err != nil {
		return false, WrapError("share screen", err, "")
	}
	screenTrack := stream.VideoTrack()
	if screenTrack == nil {
		stream.Stop()
		return false, NewError("share screen", ErrMediaUnavailable)
	}

	if err := c.neg.replaceTrack(webrtc.RTPCodecTypeVideo, screenTrack.Local()); err != nil {
		stream.Stop()
		return false, err
	}

	c.cameraVideo = c.localStream.VideoTrack()
	c.screenStream = stream
	c.screenSharing = true

	gen := c.gen
	screenTrack.OnEnded(func() {
		c.post(event{kind: evScreenEnded, gen: gen})
	})

	c.sendStatus()
	c.pushUpdate()
	return true, nil
}

// stopScreenShare reverts the outgoing video to the camera and releases
// the screen capture.
func (c *Controller) stopScreenShare() {
	if !c.screenSharing {
		return
	}

	if c.cameraVideo != nil {
		restore := c.cameraVideo.Local()
		if c.cameraOff {
			// The camera was toggled off; the share's place is taken by
			// the placeholder, not live video.
			if muted, err := media.NewMutedTrack(webrtc.RTPCodecTypeVideo); err == nil {
				restore = muted
			}
		}
		if err := c.neg.replaceTrack(webrtc.RTPCodecTypeVideo, restore); err != nil {
			slog.Warn("failed to restore camera track", "error", err)
		}
	}

	c.screenStream.Stop()
	c.screenStream = nil
	c.cameraVideo = nil
	c.screenSharing = false
	c.sendStatus()
}

func (c *Controller) endCall() error {
	if c.state == StateIdle || c.state == StateEnded {
		return NewError("end call", ErrNoActiveCall)
	}

	if c.opts.Confirm != nil && !c.opts.Confirm() {
		return nil
	}

	c.teardownAttempt()
	c.setState(StateEnded)
	c.pushUpdate()
	return nil
}

// handleShutdown is endCall without the confirmation gate, used on
// application exit.
func (c *Controller) handleShutdown() {
	if c.state == StateIdle || c.state == StateEnded {
		return
	}
	c.teardownAttempt()
	c.setState(StateEnded)
	c.pushUpdate()
}

// teardownAttempt releases media, closes the connection and leaves the
// room. Bumping the generation first makes any in-flight completions of
// this attempt stale.
func (c *Controller) teardownAttempt() {
	c.gen++

	if c.screenSharing {
		c.screenStream.Stop()
		c.screenStream = nil
		c.cameraVideo = nil
		c.screenSharing = false
	}
	if c.localStream != nil {
		c.localStream.Stop()
		c.localStream = nil
	}

	c.neg.close()

	if !c.stats.StartedAt.IsZero() && c.stats.EndedAt.IsZero() {
		c.stats.EndedAt = time.Now()
	}
	c.statsMu.Lock()
	c.finalStats = c.stats
	c.statsMu.Unlock()

	if err := c.relay.Leave(c.opts.RoomID); err != nil {
		slog.Warn("failed to leave room", "error", err)
	}
}

// resetAttempt clears per-call state before a fresh start.
func (c *Controller) resetAttempt() {
	c.gen++
	c.pres.reset()
	c.micMuted = false
	c.cameraOff = false
	c.screenSharing = false
	c.iceRestarting = false
	c.peerStatus = PeerStatus{}
	c.remoteTracks = 0
	c.notice = ""
}

func (c *Controller) handlePeerJoined(p *signaling.Participant) {
	first := c.pres.joined(p)
	c.pushUpdate()
	if !first {
		return
	}

	slog.Info("participant joined consultation", "user", p.UserID, "name", p.UserName)

	// If we are mid-call with media ready and no connection established
	// yet, offer to the arrival.
	if c.neg.hasConnection() && c.localStream != nil && c.state != StateConnected {
		if err := c.neg.createOffer(false); err != nil {
			slog.Warn("offer to arriving participant failed", "error", err)
			return
		}
		c.stats.Offers++
	}
}

func (c *Controller) handlePeerLeft(p *signaling.Participant) {
	c.pres.left(p)
	// The connection is left alone: a brief relay drop does not mean the
	// media path is gone, and the participant may rejoin.
	c.notice = p.UserName + " left the consultation"
	c.pushUpdate()
}

func (c *Controller) handleSignal(sig *signaling.Signal) {
	switch sig.Type {
	case signaling.SignalOffer:
		c.handleRemoteOffer(sig)

	case signaling.SignalAnswer:
		if !c.neg.hasConnection() {
			// An answer with nothing to answer; out-of-order signaling.
			slog.Warn("answer received with no connection, dropping", "sender", sig.SenderID)
			return
		}
		if err := c.neg.handleAnswer(sig.SDP); err != nil {
			slog.Error("failed to apply answer", "error", err)
		}

	case signaling.SignalICECandidate:
		c.neg.handleCandidate(sig.Candidate)

	default:
		slog.Warn("unknown signal type", "type", sig.Type)
	}
}

// handleRemoteOffer answers an incoming offer, bootstrapping media and
// the connection first when the other side called before we pressed
// anything.
func (c *Controller) handleRemoteOffer(sig *signaling.Signal) {
	if !c.neg.hasConnection() {
		if c.stats.StartedAt.IsZero() {
			c.stats = Stats{RoomID: c.opts.RoomID, StartedAt: time.Now()}
		}

		if c.localStream == nil {
			c.setState(StateAcquiringMedia)
			c.pushUpdate()

			stream, err := c.acquireMedia()
			if err != nil {
				slog.Error("media capture for incoming call failed", "error", err)
				c.notice = mediaNotice(err)
				c.setState(StateIdle)
				c.pushUpdate()
				return
			}
			c.localStream = stream
		}

		c.setState(StateNegotiating)
		c.pushUpdate()

		if err := c.neg.initialize(c.opts.RoomID, c.localStream, c.gen); err != nil {
			slog.Error("failed to initialize connection for incoming call", "error", err)
			return
		}
	}

	if err := c.neg.handleOffer(sig.SDP); err != nil {
		// Leave the call no worse than before the offer arrived.
		slog.Error("failed to answer offer", "error", err)
	}
}

func (c *Controller) handleOfferDue() {
	if !c.neg.hasConnection() {
		return
	}
	if err := c.neg.createOffer(false); err != nil {
		slog.Warn("initial offer failed", "error", err)
		return
	}
	c.stats.Offers++
}

func (c *Controller) handleConnState(s webrtc.PeerConnectionState) {
	slog.Info("connection state", "state", s)

	switch s {
	case webrtc.PeerConnectionStateConnected:
		if c.stats.ConnectedAt.IsZero() {
			c.stats.ConnectedAt = time.Now()
		}
		c.notice = ""
		c.setState(StateConnected)
		c.pushUpdate()

	case webrtc.PeerConnectionStateFailed:
		c.notice = "Connection lost. End the call and start again."
		c.setState(StateFailed)
		c.pushUpdate()

	case webrtc.PeerConnectionStateDisconnected:
		c.notice = "Connection interrupted, waiting for recovery"
		c.pushUpdate()
	}
}

// handleICEState restarts ICE once per failure. The in-flight flag stops
// repeated failure callbacks from stacking restarts, and clears when the
// transport recovers.
func (c *Controller) handleICEState(s webrtc.ICEConnectionState) {
	switch s {
	case webrtc.ICEConnectionStateFailed:
		if c.iceRestarting {
			return
		}
		c.iceRestarting = true
		slog.Warn("ice failed, restarting")
		if err := c.neg.createOffer(true); err != nil {
			slog.Error("ice restart failed", "error", err)
			return
		}
		c.stats.ICERestarts++

	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		c.iceRestarting = false
	}
}

// handleNegotiationNeeded renegotiates only on an established call.
// Before that point the startup sequence owns offer creation, and a
// premature negotiationneeded offer would corrupt it.
func (c *Controller) handleNegotiationNeeded() {
	if c.state != StateConnected {
		slog.Debug("negotiationneeded suppressed", "state", c.state)
		return
	}
	if err := c.neg.createOffer(false); err != nil {
		slog.Warn("renegotiation offer failed", "error", err)
		return
	}
	c.stats.Offers++
}

func (c *Controller) sendStatus() {
	c.neg.sendStatus(PeerStatus{
		MicMuted:      c.micMuted,
		CameraOff:     c.cameraOff,
		ScreenSharing: c.screenSharing,
	})
}

func (c *Controller) setState(s State) {
	c.state = s
	c.stateAtomic.Store(int32(s))
}

// pushUpdate publishes a snapshot, evicting the oldest unread one when
// the reader lags.
func (c *Controller) pushUpdate() {
	snap := Snapshot{
		State:         c.state,
		RoomID:        c.opts.RoomID,
		Self:          c.opts.Self,
		Peer:          c.pres.peer,
		PeerOnline:    c.pres.online,
		MicMuted:      c.micMuted,
		CameraOff:     c.cameraOff,
		ScreenSharing: c.screenSharing,
		PeerStatus:    c.peerStatus,
		RemoteTracks:  c.remoteTracks,
		Notice:        c.notice,
	}

	select {
	case c.updates <- snap:
	default:
		select {
		case <-c.updates:
		default:
		}
		select {
		case c.updates <- snap:
		default:
		}
	}
}

// mediaNotice phrases a capture failure for the user.
func mediaNotice(err error) string {
	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		return "Camera/microphone access was denied. Check device permissions."
	case errors.Is(err, media.ErrDeviceBusy):
		return "Camera or microphone is in use by another application."
	case errors.Is(err, media.ErrDeviceNotFound):
		return "No camera or microphone was found."
	default:
		return "Could not access camera or microphone."
	}
}
