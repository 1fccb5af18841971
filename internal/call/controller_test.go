package call

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/makrame5/healthconnect/internal/media"
	"github.com/makrame5/healthconnect/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// fakeRelay records everything the controller sends.
type fakeRelay struct {
	mu      sync.Mutex
	joins   []string
	leaves  []string
	signals []*signaling.Signal
}

func (r *fakeRelay) Join(roomID string, self signaling.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins = append(r.joins, roomID)
	return nil
}

func (r *fakeRelay) Leave(roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves = append(r.leaves, roomID)
	return nil
}

func (r *fakeRelay) SendSignal(roomID string, sig *signaling.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
	return nil
}

func (r *fakeRelay) countSignals(sigType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.signals {
		if s.Type == sigType {
			n++
		}
	}
	return n
}

func (r *fakeRelay) lastSignal(sigType string) *signaling.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.signals) - 1; i >= 0; i-- {
		if r.signals[i].Type == sigType {
			return r.signals[i]
		}
	}
	return nil
}

func (r *fakeRelay) leaveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.leaves)
}

// fakeMedia wraps the synthetic source with failure injection and
// records the requested profiles.
type fakeMedia struct {
	inner *media.Synthetic

	mu       sync.Mutex
	profiles []media.Profile
	failHD   bool
	failAll  bool
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{inner: media.NewSynthetic()}
}

func (f *fakeMedia) NewAPI() (*webrtc.API, error) {
	return f.inner.NewAPI()
}

func (f *fakeMedia) Acquire(p media.Profile) (*media.Stream, error) {
	f.mu.Lock()
	f.profiles = append(f.profiles, p)
	failAll := f.failAll
	failHD := f.failHD
	f.mu.Unlock()

	if failAll {
		return nil, fmt.Errorf("%w: injected failure", media.ErrDeviceNotFound)
	}
	if failHD && !p.Generic() {
		return nil, fmt.Errorf("%w: injected failure", media.ErrDeviceBusy)
	}
	return f.inner.Acquire(p)
}

func (f *fakeMedia) CaptureScreen() (*media.Stream, error) {
	return f.inner.CaptureScreen()
}

func (f *fakeMedia) acquiredProfiles() []media.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]media.Profile(nil), f.profiles...)
}

func newTestController(t *testing.T, relay *fakeRelay, cap *fakeMedia, opts Options) *Controller {
	t.Helper()

	if opts.RoomID == "" {
		opts.RoomID = "room-42"
	}
	if opts.Self.UserID == "" {
		opts.Self = signaling.Participant{UserID: "u-self", UserName: "Dr. Lane", UserRole: signaling.RoleDoctor}
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = 20 * time.Millisecond
	}
	opts.Relay = relay
	opts.Media = cap

	c := New(opts)
	t.Cleanup(c.Shutdown)
	return c
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartCall_RoomUnresolved(t *testing.T) {
	// No room assigned by the appointment system yet.
	c := New(Options{
		Self:        signaling.Participant{UserID: "u-self", UserName: "Dr. Lane"},
		Relay:       &fakeRelay{},
		Media:       newFakeMedia(),
		SettleDelay: 20 * time.Millisecond,
	})
	t.Cleanup(c.Shutdown)

	err := c.StartCall()
	if !errors.Is(err, ErrRoomUnresolved) {
		t.Fatalf("StartCall() = %v, want ErrRoomUnresolved", err)
	}
	if got := c.State(); got != StateIdle {
		t.Errorf("State() = %v, want idle", got)
	}
}

func TestStartCall_AlreadyInProgress(t *testing.T) {
	c := newTestController(t, &fakeRelay{}, newFakeMedia(), Options{})

	if err := c.StartCall(); err != nil {
		t.Fatalf("first StartCall() = %v", err)
	}

	err := c.StartCall()
	if !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("second StartCall() = %v, want ErrCallInProgress", err)
	}
}

func TestStartCall_ProfileFallback(t *testing.T) {
	cap := newFakeMedia()
	cap.failHD = true
	c := newTestController(t, &fakeRelay{}, cap, Options{})

	if err := c.StartCall(); err != nil {
		t.Fatalf("StartCall() = %v, want fallback to succeed", err)
	}

	profiles := cap.acquiredProfiles()
	if len(profiles) != 2 {
		t.Fatalf("acquire attempts = %d, want 2", len(profiles))
	}
	if profiles[0] != media.HDProfile {
		t.Errorf("first attempt = %+v, want HD profile", profiles[0])
	}
	if !profiles[1].Generic() {
		t.Errorf("second attempt = %+v, want generic profile", profiles[1])
	}
}

func TestStartCall_MediaFailure(t *testing.T) {
	cap := newFakeMedia()
	cap.failAll = true
	c := newTestController(t, &fakeRelay{}, cap, Options{})

	err := c.StartCall()
	if !errors.Is(err, media.ErrDeviceNotFound) {
		t.Fatalf("StartCall() = %v, want device-not-found", err)
	}
	if got := c.State(); got != StateIdle {
		t.Errorf("State() after media failure = %v, want idle", got)
	}
}

func TestStartCall_SendsInitialOfferAfterSettle(t *testing.T) {
	relay := &fakeRelay{}
	c := newTestController(t, relay, newFakeMedia(), Options{})

	if err := c.StartCall(); err != nil {
		t.Fatalf("StartCall() = %v", err)
	}

	waitFor(t, 3*time.Second, "initial offer", func() bool {
		return relay.countSignals(signaling.SignalOffer) >= 1
	})

	offer := relay.lastSignal(signaling.SignalOffer)
	if offer.SDP == "" {
		t.Error("offer carries no SDP")
	}
	if got := c.Stats().Offers; got < 1 {
		t.Errorf("Stats().Offers = %d, want >= 1", got)
	}
}

func TestIncomingOffer_BootstrapsResponder(t *testing.T) {
	// A caller produces a real offer...
	relayA := &fakeRelay{}
	a := newTestController(t, relayA, newFakeMedia(), Options{})
	if err := a.StartCall(); err != nil {
		t.Fatalf("caller StartCall() = %v", err)
	}
	waitFor(t, 3*time.Second, "caller offer", func() bool {
		return relayA.countSignals(signaling.SignalOffer) >= 1
	})
	offer := relayA.lastSignal(signaling.SignalOffer)

	// ...delivered to an idle participant, who must capture media,
	// build the connection and answer without any local action.
	relayB := &fakeRelay{}
	b := newTestController(t, relayB, newFakeMedia(), Options{})

	b.HandleSignal(&signaling.Signal{Type: signaling.SignalOffer, SDP: offer.SDP, SenderID: "u-self"})

	waitFor(t, 3*time.Second, "responder answer", func() bool {
		return relayB.countSignals(signaling.SignalAnswer) >= 1
	})

	if got := b.State(); got != StateNegotiating && got != StateConnected {
		t.Errorf("responder State() = %v, want negotiating or connected", got)
	}
}

func TestCandidatesBeforeOfferAreBuffered(t *testing.T) {
	relayA := &fakeRelay{}
	a := newTestController(t, relayA, newFakeMedia(), Options{})
	if err := a.StartCall(); err != nil {
		t.Fatalf("caller StartCall() = %v", err)
	}
	waitFor(t, 3*time.Second, "caller offer", func() bool {
		return relayA.countSignals(signaling.SignalOffer) >= 1
	})
	offer := relayA.lastSignal(signaling.SignalOffer)

	relayB := &fakeRelay{}
	b := newTestController(t, relayB, newFakeMedia(), Options{})

	// Candidates race ahead of the offer; they must be held, not
	// dropped, and must not crash negotiation when replayed.
	candidate, _ := json.Marshal(webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host",
	})
	b.HandleSignal(&signaling.Signal{Type: signaling.SignalICECandidate, Candidate: candidate})
	b.HandleSignal(&signaling.Signal{Type: signaling.SignalOffer, SDP: offer.SDP})

	waitFor(t, 3*time.Second, "responder answer", func() bool {
		return relayB.countSignals(signaling.SignalAnswer) >= 1
	})
}

func TestAnswerWithoutConnectionIsDropped(t *testing.T) {
	c := newTestController(t, &fakeRelay{}, newFakeMedia(), Options{})

	// Out-of-order answer on an idle controller: logged and ignored.
	c.HandleSignal(&signaling.Signal{Type: signaling.SignalAnswer, SDP: "v=0"})

	time.Sleep(50 * time.Millisecond)
	if got := c.State(); got != StateIdle {
		t.Errorf("State() = %v, want idle after stray answer", got)
	}
}

func TestEndCall_ConfirmationDeclined(t *testing.T) {
	relay := &fakeRelay{}
	confirm := false
	c := newTestController(t, relay, newFakeMedia(), Options{
		Confirm: func() bool { return confirm },
	})

	if err := c.StartCall(); err != nil {
		t.Fatalf("StartCall() = %v", err)
	}

	if err := c.EndCall(); err != nil {
		t.Fatalf("declined EndCall() = %v, want nil", err)
	}
	if got := c.State(); got == StateEnded {
		t.Fatal("declined confirmation must not end the call")
	}

	confirm = true
	if err := c.EndCall(); err != nil {
		t.Fatalf("confirmed EndCall() = %v", err)
	}
	if got := c.State(); got != StateEnded {
		t.Errorf("State() = %v, want ended", got)
	}
	if relay.leaveCount() != 1 {
		t.Errorf("leave count = %d, want 1", relay.leaveCount())
	}
}

func TestEndCall_NoActiveCall(t *testing.T) {
	c := newTestController(t, &fakeRelay{}, newFakeMedia(), Options{})

	err := c.EndCall()
	if !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("EndCall() = %v, want ErrNoActiveCall", err)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	relay := &fakeRelay{}
	c := newTestController(t, relay, newFakeMedia(), Options{})

	if err := c.StartCall(); err != nil {
		t.Fatalf("StartCall() = %v", err)
	}

	c.Shutdown()
	c.Shutdown()

	if got := c.State(); got != StateEnded {
		t.Errorf("State() = %v, want ended", got)
	}

	stats := c.Stats()
	if stats.StartedAt.IsZero() || stats.EndedAt.IsZero() {
		t.Error("Stats() must remain readable after shutdown")
	}
	if relay.leaveCount() != 1 {
		t.Errorf("leave count = %d, want 1", relay.leaveCount())
	}
}

// senderTrack returns the outbound track of the given kind currently
// bound to the peer connection.
func senderTrack(t *testing.T, c *Controller, kind webrtc.RTPCodecType) webrtc.TrackLocal {
	t.Helper()
	for _, s := range c.neg.pc.GetSenders() {
		if tr := s.Track(); tr != nil && tr.Kind() == kind {
			return tr
		}
	}
	t.Fatalf("no %s sender on connection", kind)
	return nil
}

func TestToggleMic(t *testing.T) {
	c := newTestController(t, &fakeRelay{}, newFakeMedia(), Options{})

	if _, err := c.ToggleMic(); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("ToggleMic() before call = %v, want ErrNoActiveCall", err)
	}

	if err := c.StartCall(); err != nil {
		t.Fatalf("StartCall() = %v", err)
	}

	muted, err := c.ToggleMic()
	if err != nil || !muted {
		t.Fatalf("ToggleMic() = (%v, %v), want muted", muted, err)
	}
	// Muting must gate the wire, not just the flag: the sender now
	// carries the silent placeholder instead of the microphone.
	if got := senderTrack(t, c, webrtc.RTPCodecTypeAudio).StreamID(); got != "muted" {
		t.Errorf("audio sender stream while muted = %q, want placeholder", got)
	}

	muted, err = c.ToggleMic()
	if err != nil || muted {
		t.Fatalf("second ToggleMic() = (%v, %v), want unmuted", muted, err)
	}
	if got := senderTrack(t, c, webrtc.RTPCodecTypeAudio).StreamID(); got != "synthetic-mic" {
		t.Errorf("audio sender stream after unmute = %q, want microphone", got)
	}
}

func TestToggleVideo_GatesCameraSender(t *testing.T) {
	c := newTestController(t, &fakeRelay{}, newFakeMedia(), Options{})

	if err := c.StartCall(); err != nil {
		t.Fatalf("StartCall() = %v", err)
	}

	off, err := c.ToggleVideo()
	if err != nil || !off {
		t.Fatalf("ToggleVideo() = (%v, %v), want camera off", off, err)
	}
	if got := senderTrack(t, c, webrtc.RTPCodecTypeVideo).StreamID(); got != "muted" {
		t.Errorf("video sender stream with camera off = %q, want placeholder", got)
	}

	off, err = c.ToggleVideo()
	if err != nil || off {
		t.Fatalf("second ToggleVideo() = (%v, %v), want camera on", off, err)
	}
	if got := senderTrack(t, c, webrtc.RTPCodecTypeVideo).StreamID(); got != "synthetic-camera" {
		t.Errorf("video sender stream after re-enable = %q, want camera", got)
	}
}

func TestToggleScreenShare(t *testing.T) {
	relay := &fakeRelay{}
	c := newTestController(t, relay, newFakeMedia(), Options{})

	if err := c.StartCall(); err != nil {
		t.Fatalf("StartCall() = %v", err)
	}
	waitFor(t, 3*time.Second, "initial offer", func() bool {
		return relay.countSignals(signaling.SignalOffer) >= 1
	})
	offersBefore := relay.countSignals(signaling.SignalOffer)

	sharing, err := c.ToggleScreenShare()
	if err != nil || !sharing {
		t.Fatalf("ToggleScreenShare() = (%v, %v), want sharing", sharing, err)
	}
	if got := senderTrack(t, c, webrtc.RTPCodecTypeVideo).StreamID(); got != "synthetic-screen" {
		t.Errorf("video sender stream while sharing = %q, want screen", got)
	}

	sharing, err = c.ToggleScreenShare()
	if err != nil || sharing {
		t.Fatalf("second ToggleScreenShare() = (%v, %v), want stopped", sharing, err)
	}
	if got := senderTrack(t, c, webrtc.RTPCodecTypeVideo).StreamID(); got != "synthetic-camera" {
		t.Errorf("video sender stream after sharing = %q, want camera restored", got)
	}

	// The swap rides on ReplaceTrack; neither toggle may cost an
	// offer/answer round trip.
	if got := relay.countSignals(signaling.SignalOffer); got != offersBefore {
		t.Errorf("offers after share on/off = %d, want %d", got, offersBefore)
	}
}

func TestStartEndChurn_TeardownIsClean(t *testing.T) {
	// Tight start/end cycles overlap candidate gathering with teardown;
	// nothing here may panic or leak a stale completion into the next
	// attempt.
	relay := &fakeRelay{}
	c := newTestController(t, relay, newFakeMedia(), Options{
		SettleDelay: time.Millisecond,
	})

	for i := 0; i < 10; i++ {
		if err := c.StartCall(); err != nil {
			t.Fatalf("StartCall() cycle %d = %v", i, err)
		}
		if err := c.EndCall(); err != nil {
			t.Fatalf("EndCall() cycle %d = %v", i, err)
		}
	}

	if got := relay.leaveCount(); got != 10 {
		t.Errorf("leave count = %d, want 10", got)
	}
}

func TestPeerLeft_KeepsCallAlive(t *testing.T) {
	c := newTestController(t, &fakeRelay{}, newFakeMedia(), Options{})

	if err := c.StartCall(); err != nil {
		t.Fatalf("StartCall() = %v", err)
	}

	peer := &signaling.Participant{UserID: "u-peer", UserName: "Sam"}
	c.PeerJoined(peer)
	c.PeerLeft(peer)

	time.Sleep(50 * time.Millisecond)
	if got := c.State(); got == StateEnded || got == StateFailed {
		t.Fatalf("State() = %v, peer departure must not end the call", got)
	}

	if err := c.EndCall(); err != nil {
		t.Errorf("EndCall() after peer left = %v", err)
	}
}

func TestICERestart_OncePerFailure(t *testing.T) {
	relay := &fakeRelay{}
	c := newTestController(t, relay, newFakeMedia(), Options{
		// Keep the scheduled initial offer out of the way.
		SettleDelay: time.Minute,
	})

	if err := c.StartCall(); err != nil {
		t.Fatalf("StartCall() = %v", err)
	}

	c.post(event{kind: evICEState, iceState: webrtc.ICEConnectionStateFailed})
	waitFor(t, 3*time.Second, "restart offer", func() bool {
		return relay.countSignals(signaling.SignalOffer) == 1
	})

	// A second failure while the restart is in flight must not stack
	// another one.
	c.post(event{kind: evICEState, iceState: webrtc.ICEConnectionStateFailed})
	time.Sleep(100 * time.Millisecond)
	if got := relay.countSignals(signaling.SignalOffer); got != 1 {
		t.Fatalf("offers after duplicate failure = %d, want 1", got)
	}

	// Recovery clears the guard; the next failure restarts again.
	c.post(event{kind: evICEState, iceState: webrtc.ICEConnectionStateConnected})
	c.post(event{kind: evICEState, iceState: webrtc.ICEConnectionStateFailed})
	waitFor(t, 3*time.Second, "second restart offer", func() bool {
		return relay.countSignals(signaling.SignalOffer) == 2
	})

	if got := c.Stats().ICERestarts; got != 2 {
		t.Errorf("Stats().ICERestarts = %d, want 2", got)
	}
}

func TestNegotiationNeeded_SuppressedUntilConnected(t *testing.T) {
	relay := &fakeRelay{}
	c := newTestController(t, relay, newFakeMedia(), Options{
		SettleDelay: time.Minute,
	})

	if err := c.StartCall(); err != nil {
		t.Fatalf("StartCall() = %v", err)
	}

	// Mid-negotiation the callback must not produce an offer.
	c.post(event{kind: evNegotiationNeeded})
	time.Sleep(100 * time.Millisecond)
	if got := relay.countSignals(signaling.SignalOffer); got != 0 {
		t.Fatalf("offers while negotiating = %d, want 0", got)
	}

	// Once connected, renegotiation is allowed.
	c.post(event{kind: evConnState, connState: webrtc.PeerConnectionStateConnected})
	waitFor(t, time.Second, "connected state", func() bool {
		return c.State() == StateConnected
	})

	c.post(event{kind: evNegotiationNeeded})
	waitFor(t, 3*time.Second, "renegotiation offer", func() bool {
		return relay.countSignals(signaling.SignalOffer) == 1
	})
}
