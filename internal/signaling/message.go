package signaling

import "encoding/json"

// Message represents all WebSocket messages between the CLI and the relay.
type Message struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants.
const (
	MessageTypeJoinRoom  = "join_room"
	MessageTypeLeaveRoom = "leave_room"
	MessageTypeSignal    = "webrtc_signal"

	MessageTypeUserJoined = "user_joined"
	MessageTypeUserLeft   = "user_left"
	MessageTypeError      = "error"
)

// Participant identifies a room member. The relay echoes it back to the
// other member on join/leave, with Timestamp filled in.
type Participant struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	UserRole  string `json:"user_role,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Participant roles.
const (
	RoleDoctor  = "doctor"
	RolePatient = "patient"
)

// Signal carries the WebRTC signaling data (SDP offer/answer or ICE candidate).
type Signal struct {
	Type      string          `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	SenderID  string          `json:"sender_id,omitempty"`
}

// Signal type constants.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
)

// ErrorPayload represents error messages from the relay.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewSignalMessage wraps a Signal into a webrtc_signal envelope.
func NewSignalMessage(roomID string, sig *Signal) (*Message, error) {
	payload, err := json.Marshal(sig)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    MessageTypeSignal,
		RoomID:  roomID,
		Payload: payload,
	}, nil
}

// NewJoinMessage wraps a Participant into a join_room envelope.
func NewJoinMessage(roomID string, p *Participant) (*Message, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    MessageTypeJoinRoom,
		RoomID:  roomID,
		Payload: payload,
	}, nil
}

// NewLeaveMessage builds a leave_room envelope.
func NewLeaveMessage(roomID string) *Message {
	return &Message{
		Type:   MessageTypeLeaveRoom,
		RoomID: roomID,
	}
}
