// Package media acquires local audio/video for a consultation and wraps
// the captured tracks with the mute/unmute bookkeeping the call screen
// needs. Hardware capture goes through pion/mediadevices; a synthetic
// source exists for machines without devices and for tests.
package media

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// Capture errors, classified so the caller can phrase guidance to the user.
var (
	ErrPermissionDenied  = errors.New("media device access denied")
	ErrDeviceNotFound    = errors.New("no media device found")
	ErrDeviceBusy        = errors.New("media device is busy")
	ErrScreenUnavailable = errors.New("screen capture unavailable")
)

// Profile describes the capture quality to request. The zero Profile asks
// for whatever the device offers.
type Profile struct {
	Width  int
	Height int
}

// HDProfile is the preferred capture profile for consultations.
var HDProfile = Profile{Width: 1280, Height: 720}

// Generic reports whether the profile carries no constraints.
func (p Profile) Generic() bool {
	return p.Width == 0 && p.Height == 0
}

// Capability is a source of local media. Implementations must return
// tracks that were registered with the API their NewAPI method builds,
// so the codecs of captured tracks always match the peer connection.
type Capability interface {
	// NewAPI builds the webrtc API configured for this source's codecs.
	NewAPI() (*webrtc.API, error)

	// Acquire captures a camera/microphone stream at the given profile.
	Acquire(profile Profile) (*Stream, error)

	// CaptureScreen captures the screen as a video-only stream.
	CaptureScreen() (*Stream, error)
}

// Track wraps a local track with an enabled flag. A disabled track emits
// nothing: sources consult the flag before writing samples, and the call
// controller swaps the outbound sender to a muted placeholder, so the
// peer receives silence rather than live media.
type Track struct {
	kind  webrtc.RTPCodecType
	local webrtc.TrackLocal
	stop  func() error

	mu      sync.Mutex
	enabled bool
	onEnded func()
	ended   bool
}

// NewTrack wraps a local track. stop releases the underlying capture
// resource and may be nil.
func NewTrack(kind webrtc.RTPCodecType, local webrtc.TrackLocal, stop func() error) *Track {
	return &Track{
		kind:    kind,
		local:   local,
		stop:    stop,
		enabled: true,
	}
}

// Kind returns the track's codec type (audio or video).
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }

// Local returns the underlying track to hand to a peer connection sender.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

// Enabled reports whether the track is currently live from the user's
// point of view.
func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled flips the track's live state and returns the new value.
func (t *Track) SetEnabled(enabled bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	return t.enabled
}

// OnEnded registers a handler invoked once when the capture source stops
// on its own (for screen shares: the user ended the share).
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

// FireEnded invokes the OnEnded handler at most once.
func (t *Track) FireEnded() {
	t.mu.Lock()
	fn := t.onEnded
	fired := t.ended
	t.ended = true
	t.mu.Unlock()

	if !fired && fn != nil {
		fn()
	}
}

// Stop releases the capture resource behind the track.
func (t *Track) Stop() error {
	if t.stop == nil {
		return nil
	}
	return t.stop()
}

// NewMutedTrack returns a local track that never produces samples. The
// call controller swaps it onto the outbound sender while the matching
// device is disabled, so a muted microphone or covered camera sends
// nothing to the peer.
func NewMutedTrack(kind webrtc.RTPCodecType) (webrtc.TrackLocal, error) {
	mime, id := webrtc.MimeTypeOpus, "muted-audio"
	if kind == webrtc.RTPCodecTypeVideo {
		mime, id = webrtc.MimeTypeVP8, "muted-video"
	}
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime},
		id,
		"muted",
	)
}

// Stream is a bundle of local tracks captured together.
type Stream struct {
	tracks []*Track
}

// NewStream bundles tracks into a stream.
func NewStream(tracks ...*Track) *Stream {
	return &Stream{tracks: tracks}
}

// Tracks returns all tracks in the stream.
func (s *Stream) Tracks() []*Track { return s.tracks }

// AudioTrack returns the first audio track, or nil.
func (s *Stream) AudioTrack() *Track {
	for _, t := range s.tracks {
		if t.kind == webrtc.RTPCodecTypeAudio {
			return t
		}
	}
	return nil
}

// VideoTrack returns the first video track, or nil.
func (s *Stream) VideoTrack() *Track {
	for _, t := range s.tracks {
		if t.kind == webrtc.RTPCodecTypeVideo {
			return t
		}
	}
	return nil
}

// Stop releases every track in the stream.
func (s *Stream) Stop() {
	if s == nil {
		return
	}
	for _, t := range s.tracks {
		t.Stop()
	}
}

// iceTimeouts configures generous ICE timeouts so a brief relay/NAT hiccup
// does not immediately terminate the consultation. The default
// disconnectedTimeout of 5s is too short for TURN paths that can have short
// outages during re-keying or failover.
func iceTimeouts(se *webrtc.SettingEngine) {
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)
}

// DeviceInfo describes a capture device for the devices listing.
type DeviceInfo struct {
	ID    string
	Kind  string
	Label string
}
