package call

import (
	"time"

	"github.com/makrame5/healthconnect/internal/config"
	"github.com/makrame5/healthconnect/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// Relay is the signaling surface the controller talks to. The production
// implementation forwards over the websocket client; tests wire two
// controllers together in memory.
type Relay interface {
	Join(roomID string, self signaling.Participant) error
	Leave(roomID string) error
	SendSignal(roomID string, sig *signaling.Signal) error
}

// Snapshot is an observable view of the call for the rendering layer.
// The controller publishes a fresh snapshot after every visible change.
type Snapshot struct {
	State      State
	RoomID     string
	Self       signaling.Participant
	Peer       *signaling.Participant
	PeerOnline bool

	MicMuted      bool
	CameraOff     bool
	ScreenSharing bool

	PeerStatus   PeerStatus
	RemoteTracks int

	// Notice carries a transient user-facing message, e.g. why media
	// capture failed or that the connection dropped.
	Notice string
}

// Stats summarizes a finished call for the post-call report.
type Stats struct {
	RoomID      string
	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
	Offers      int
	ICERestarts int
}

// Duration is the wall time from start to end, zero while running.
func (s Stats) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// ICEServers assembles the pion ICE server list from configuration:
// the public STUN set plus the TURN fallback when configured.
func ICEServers(cfg *config.Config) []webrtc.ICEServer {
	servers := []webrtc.ICEServer{
		{URLs: cfg.GetSTUNServers()},
	}

	if turnURLs := cfg.GetTURNServers(); len(turnURLs) > 0 {
		user, pass := cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turnURLs,
			Username:   user,
			Credential: pass,
		})
	}

	return servers
}
