package call

import (
	"encoding/json"
	"log/slog"

	"github.com/makrame5/healthconnect/internal/media"
	"github.com/makrame5/healthconnect/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// negotiator owns the peer connection and the SDP/ICE mechanics of one
// consultation. All methods run on the controller loop goroutine; pion
// callbacks cross back into the loop by posting events.
type negotiator struct {
	relay      Relay
	roomID     string
	iceServers []webrtc.ICEServer
	capability media.Capability
	post       func(event)

	pc      *webrtc.PeerConnection
	control *webrtc.DataChannel
	buffer  *candidateBuffer
	gen     uint64
}

func newNegotiator(relay Relay, capability media.Capability, iceServers []webrtc.ICEServer, post func(event)) *negotiator {
	n := &negotiator{
		relay:      relay,
		capability: capability,
		iceServers: iceServers,
		post:       post,
	}
	n.buffer = newCandidateBuffer(
		func() bool { return n.pc != nil && n.pc.RemoteDescription() != nil },
		func(c webrtc.ICECandidateInit) error { return n.pc.AddICECandidate(c) },
	)
	return n
}

func (n *negotiator) hasConnection() bool {
	return n.pc != nil
}

// initialize creates the peer connection, attaches the local tracks and
// wires the pion callbacks. Calling it while a connection exists is a
// programming error surfaced as ErrConnectionExists.
func (n *negotiator) initialize(roomID string, localStream *media.Stream, gen uint64) error {
	if n.pc != nil {
		return NewError("initialize connection", ErrConnectionExists)
	}

	api, err := n.capability.NewAPI()
	if err != nil {
		return WrapError("initialize connection", err, "building media engine")
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: n.iceServers,
	})
	if err != nil {
		return WrapError("initialize connection", err, "creating peer connection")
	}

	attached := false
	if localStream != nil {
		for _, t := range localStream.Tracks() {
			if _, err := pc.AddTrack(t.Local()); err != nil {
				slog.Error("failed to attach local track", "kind", t.Kind(), "error", err)
				continue
			}
			attached = true
		}
	}
	if !attached {
		// No local media; add recvonly transceivers so the SDP still has
		// valid m-lines with ICE credentials.
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			slog.Error("failed to add video transceiver", "error", err)
		}
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			slog.Error("failed to add audio transceiver", "error", err)
		}
	}

	n.pc = pc
	n.roomID = roomID
	n.gen = gen

	// Both sides open the control channel; SCTP multiplexes the two
	// label-matched channels over one application m-line.
	control, err := pc.CreateDataChannel(controlChannelLabel, nil)
	if err != nil {
		slog.Warn("failed to create control channel", "error", err)
	} else {
		n.control = control
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != controlChannelLabel {
			return
		}
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			status, err := parseStatus(msg.Data)
			if err != nil {
				slog.Warn("malformed peer status", "error", err)
				return
			}
			n.post(event{kind: evPeerStatus, gen: gen, status: status})
		})
	})

	// roomID is captured here rather than read from the struct: the
	// callback runs on a pion goroutine and the loop clears the field on
	// teardown.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		n.sendCandidate(roomID, c.ToJSON())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		slog.Info("remote track arrived", "kind", track.Kind(), "id", track.ID())
		n.post(event{kind: evRemoteTrack, gen: gen})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		n.post(event{kind: evConnState, gen: gen, connState: s})
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		n.post(event{kind: evICEState, gen: gen, iceState: s})
	})

	pc.OnNegotiationNeeded(func() {
		n.post(event{kind: evNegotiationNeeded, gen: gen})
	})

	return nil
}

// createOffer generates an offer, installs it locally and ships it to the
// peer. With restart set the offer carries new ICE credentials.
func (n *negotiator) createOffer(restart bool) error {
	if n.pc == nil {
		return NewError("create offer", ErrNoConnection)
	}

	var opts *webrtc.OfferOptions
	if restart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}

	offer, err := n.pc.CreateOffer(opts)
	if err != nil {
		return WrapError("create offer", err, "")
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return WrapError("create offer", err, "setting local description")
	}

	return n.relay.SendSignal(n.roomID, &signaling.Signal{
		Type: signaling.SignalOffer,
		SDP:  offer.SDP,
	})
}

// handleOffer installs a remote offer, flushes any buffered candidates
// and answers.
func (n *negotiator) handleOffer(sdp string) error {
	if n.pc == nil {
		return NewError("handle offer", ErrNoConnection)
	}

	err := n.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
	if err != nil {
		return WrapError("handle offer", err, "setting remote description")
	}
	n.buffer.Flush()

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return WrapError("handle offer", err, "creating answer")
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return WrapError("handle offer", err, "setting local description")
	}

	return n.relay.SendSignal(n.roomID, &signaling.Signal{
		Type: signaling.SignalAnswer,
		SDP:  answer.SDP,
	})
}

// handleAnswer installs a remote answer and flushes buffered candidates.
func (n *negotiator) handleAnswer(sdp string) error {
	if n.pc == nil {
		return NewError("handle answer", ErrNoConnection)
	}

	err := n.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		return WrapError("handle answer", err, "setting remote description")
	}
	n.buffer.Flush()
	return nil
}

// handleCandidate parses a trickled ICE candidate and hands it to the
// buffer, which applies or queues it depending on negotiation progress.
func (n *negotiator) handleCandidate(raw json.RawMessage) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		slog.Warn("malformed ice candidate", "error", err)
		return
	}
	n.buffer.Add(init)
}

func (n *negotiator) sendCandidate(roomID string, init webrtc.ICECandidateInit) {
	payload, err := json.Marshal(init)
	if err != nil {
		slog.Error("failed to marshal ice candidate", "error", err)
		return
	}
	if err := n.relay.SendSignal(roomID, &signaling.Signal{
		Type:      signaling.SignalICECandidate,
		Candidate: payload,
	}); err != nil {
		slog.Warn("failed to send ice candidate", "error", err)
	}
}

// replaceTrack swaps the outbound track of the given kind without
// renegotiation. Used for screen sharing and for gating muted devices;
// senders of the other kind are untouched.
func (n *negotiator) replaceTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) error {
	if n.pc == nil {
		return NewError("replace track", ErrNoConnection)
	}

	for _, sender := range n.pc.GetSenders() {
		current := sender.Track()
		if current == nil || current.Kind() != kind {
			continue
		}
		if err := sender.ReplaceTrack(t); err != nil {
			return WrapError("replace track", err, "")
		}
		return nil
	}

	return NewError("replace track", ErrNoSender)
}

// sendStatus ships a device-status update over the control channel. A
// channel that is not open yet is not an error; the peer will learn the
// state from the next toggle.
func (n *negotiator) sendStatus(status PeerStatus) {
	if n.control == nil || n.control.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}

	data, err := marshalStatus(status)
	if err != nil {
		slog.Error("failed to marshal peer status", "error", err)
		return
	}
	if err := n.control.Send(data); err != nil {
		slog.Warn("failed to send peer status", "error", err)
	}
}

// close tears the connection down and drops anything queued.
func (n *negotiator) close() {
	if n.pc != nil {
		if err := n.pc.Close(); err != nil {
			slog.Warn("error closing peer connection", "error", err)
		}
	}
	n.pc = nil
	n.control = nil
	n.buffer.queued = nil
	n.roomID = ""
}
