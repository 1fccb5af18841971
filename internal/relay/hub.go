package relay

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/makrame5/healthconnect/internal/signaling"
)

// inbound couples a parsed message with the connection it arrived on.
type inbound struct {
	msg  *signaling.Message
	from *Client
}

// Hub is the central brain of the relay server.
// It manages all active consultation rooms and clients.
type Hub struct {
	// Rooms maps room IDs to Room instances.
	Rooms map[string]*Room

	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for unregistering clients.
	Unregister chan *Client

	// Inbound is the channel clients deliver their messages to.
	// The hub processes them one at a time, so room state needs no locks.
	Inbound chan inbound
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		Rooms:      make(map[string]*Room),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan inbound),
	}
}

// Run starts the hub's main processing loop.
// This is the single goroutine that safely manages all state (rooms, clients).
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			// The client is not in a room yet. They need to send a
			// "join_room" message first.
			slog.Info("client registered", "client", client.ID)

		case client := <-h.Unregister:
			slog.Info("client unregistered", "client", client.ID)
			h.leaveRoom(client)
			close(client.Send)

		case in := <-h.Inbound:
			h.handleMessage(in.msg, in.from)
		}
	}
}

func (h *Hub) handleMessage(msg *signaling.Message, from *Client) {
	switch msg.Type {

	case signaling.MessageTypeJoinRoom:
		h.handleJoin(msg, from)

	case signaling.MessageTypeLeaveRoom:
		h.leaveRoom(from)

	case signaling.MessageTypeSignal:
		h.handleSignal(msg, from)

	default:
		slog.Warn("unknown message type", "type", msg.Type, "client", from.ID)
	}
}

// handleJoin adds a client to a consultation room. Rooms are created on
// first join and hold at most two participants. A join with a user ID
// already present in the room rebinds that identity to the new connection
// instead of announcing a duplicate arrival.
func (h *Hub) handleJoin(msg *signaling.Message, from *Client) {
	var p signaling.Participant
	if msg.Payload != nil {
		json.Unmarshal(msg.Payload, &p)
	}

	if msg.RoomID == "" || p.UserID == "" {
		from.Send <- errorMessage("Invalid join request")
		return
	}

	// Doctors are addressed by title everywhere in the UI.
	if p.UserRole == signaling.RoleDoctor && !strings.HasPrefix(p.UserName, "Dr. ") {
		p.UserName = "Dr. " + p.UserName
	}

	room, ok := h.Rooms[msg.RoomID]
	if !ok {
		room = NewRoom(msg.RoomID)
		h.Rooms[msg.RoomID] = room
		slog.Info("room created", "room", room.ID)
	}

	if prev, rejoined := room.Members[p.UserID]; rejoined {
		// Same participant reconnecting; swap the connection silently.
		if prev != from {
			prev.RoomID = ""
		}
		from.RoomID = room.ID
		from.Participant = p
		room.Members[p.UserID] = from
		slog.Info("participant reconnected", "room", room.ID, "user", p.UserID)
		return
	}

	if len(room.Members) >= 2 {
		slog.Warn("room join failed: full", "room", room.ID, "user", p.UserID)
		from.Send <- errorMessage("Room is full")
		return
	}

	p.Timestamp = time.Now().UTC().Format(time.RFC3339)
	from.RoomID = room.ID
	from.Participant = p
	room.Members[p.UserID] = from

	slog.Info("participant joined", "room", room.ID, "user", p.UserID, "role", p.UserRole)

	// Announce the arrival to the other participant, and tell the new
	// arrival who is already here.
	for _, other := range room.Others(p.UserID) {
		other.Send <- participantMessage(signaling.MessageTypeUserJoined, room.ID, &p)
		from.Send <- participantMessage(signaling.MessageTypeUserJoined, room.ID, &other.Participant)
	}
}

// handleSignal relays a WebRTC signal (offer, answer or ICE candidate) to
// every other participant in the sender's room. The relay never echoes a
// signal back to its sender.
func (h *Hub) handleSignal(msg *signaling.Message, from *Client) {
	if from.RoomID == "" {
		slog.Warn("signal from client outside any room", "client", from.ID)
		from.Send <- errorMessage("You must join a room first")
		return
	}

	room, ok := h.Rooms[from.RoomID]
	if !ok {
		from.Send <- errorMessage("Room not found")
		return
	}

	var sig signaling.Signal
	if err := json.Unmarshal(msg.Payload, &sig); err != nil {
		from.Send <- errorMessage("Invalid signal payload")
		return
	}
	sig.SenderID = from.Participant.UserID

	payload, err := json.Marshal(&sig)
	if err != nil {
		return
	}

	out := &signaling.Message{
		Type:    signaling.MessageTypeSignal,
		RoomID:  room.ID,
		Payload: payload,
	}

	others := room.Others(from.Participant.UserID)
	if len(others) == 0 {
		slog.Debug("signal dropped: no other participant", "room", room.ID)
		return
	}

	for _, other := range others {
		other.Send <- out
	}
}

// leaveRoom removes a client from its room, announces the departure, and
// deletes the room when it empties. Called for explicit leave_room and for
// connection loss alike.
func (h *Hub) leaveRoom(client *Client) {
	if client.RoomID == "" {
		return
	}

	room, ok := h.Rooms[client.RoomID]
	client.RoomID = ""
	if !ok {
		return
	}

	uid := client.Participant.UserID
	if room.Members[uid] != client {
		return // identity was rebound to a newer connection
	}
	delete(room.Members, uid)

	if len(room.Members) == 0 {
		delete(h.Rooms, room.ID)
		slog.Info("room deleted", "room", room.ID)
		return
	}

	slog.Info("participant left", "room", room.ID, "user", uid)
	departed := client.Participant
	departed.Timestamp = time.Now().UTC().Format(time.RFC3339)
	for _, other := range room.Others(uid) {
		other.Send <- participantMessage(signaling.MessageTypeUserLeft, room.ID, &departed)
	}
}

func participantMessage(msgType, roomID string, p *signaling.Participant) *signaling.Message {
	payload, _ := json.Marshal(p)
	return &signaling.Message{
		Type:    msgType,
		RoomID:  roomID,
		Payload: payload,
	}
}

func errorMessage(text string) *signaling.Message {
	payload, _ := json.Marshal(signaling.ErrorPayload{Error: text})
	return &signaling.Message{
		Type:    signaling.MessageTypeError,
		Payload: payload,
	}
}
