package call

import (
	"github.com/vmihailenco/msgpack/v5"
)

// controlChannelLabel names the in-call data channel used for peer status
// updates. Both sides open a channel with this label; SCTP multiplexes
// them over the single application m-line, so no renegotiation happens.
const controlChannelLabel = "peer-status"

// PeerStatus is exchanged over the control channel whenever a participant
// toggles a device. The receiving side uses it to render "mic muted" and
// "camera off" badges without inspecting the media itself.
type PeerStatus struct {
	MicMuted      bool `msgpack:"mic_muted"`
	CameraOff     bool `msgpack:"camera_off"`
	ScreenSharing bool `msgpack:"screen_sharing"`
}

func marshalStatus(s PeerStatus) ([]byte, error) {
	return msgpack.Marshal(&s)
}

func parseStatus(data []byte) (PeerStatus, error) {
	var s PeerStatus
	err := msgpack.Unmarshal(data, &s)
	return s, err
}
