package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/makrame5/healthconnect/internal/signaling"
)

// newTestHub starts a hub whose clients have no websocket behind them;
// the loop only ever touches the Send channels.
func newTestHub() *Hub {
	h := NewHub()
	go h.Run()
	return h
}

func newTestClient(h *Hub, id string) *Client {
	return &Client{
		Hub:  h,
		ID:   id,
		Send: make(chan *signaling.Message, 16),
	}
}

func join(t *testing.T, h *Hub, c *Client, roomID string, p signaling.Participant) {
	t.Helper()
	payload, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal participant: %v", err)
	}
	h.Inbound <- inbound{
		msg:  &signaling.Message{Type: signaling.MessageTypeJoinRoom, RoomID: roomID, Payload: payload},
		from: c,
	}
}

func sendSignal(t *testing.T, h *Hub, c *Client, sig signaling.Signal) {
	t.Helper()
	msg, err := signaling.NewSignalMessage(c.RoomID, &sig)
	if err != nil {
		t.Fatalf("marshal signal: %v", err)
	}
	h.Inbound <- inbound{msg: msg, from: c}
}

func receive(t *testing.T, c *Client) *signaling.Message {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func participantFrom(t *testing.T, msg *signaling.Message) signaling.Participant {
	t.Helper()
	var p signaling.Participant
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal participant: %v", err)
	}
	return p
}

func TestHub_JoinAnnouncesBothWays(t *testing.T) {
	h := newTestHub()
	doctor := newTestClient(h, "conn-1")
	patient := newTestClient(h, "conn-2")

	join(t, h, doctor, "appt-7", signaling.Participant{UserID: "d1", UserName: "Lane", UserRole: signaling.RoleDoctor})
	expectNothing(t, doctor) // alone in the room, nothing to announce

	join(t, h, patient, "appt-7", signaling.Participant{UserID: "p1", UserName: "Sam", UserRole: signaling.RolePatient})

	// The doctor learns about the arrival.
	msg := receive(t, doctor)
	if msg.Type != signaling.MessageTypeUserJoined {
		t.Fatalf("doctor got %s, want user_joined", msg.Type)
	}
	arrival := participantFrom(t, msg)
	if arrival.UserID != "p1" {
		t.Errorf("arrival user = %s, want p1", arrival.UserID)
	}
	if arrival.Timestamp == "" {
		t.Error("arrival has no timestamp")
	}

	// The patient learns who is already present.
	msg = receive(t, patient)
	if msg.Type != signaling.MessageTypeUserJoined {
		t.Fatalf("patient got %s, want user_joined", msg.Type)
	}
	present := participantFrom(t, msg)
	if present.UserID != "d1" {
		t.Errorf("present user = %s, want d1", present.UserID)
	}
}

func TestHub_DoctorNamePrefixed(t *testing.T) {
	h := newTestHub()
	doctor := newTestClient(h, "conn-1")
	patient := newTestClient(h, "conn-2")

	join(t, h, patient, "appt-7", signaling.Participant{UserID: "p1", UserName: "Sam", UserRole: signaling.RolePatient})
	join(t, h, doctor, "appt-7", signaling.Participant{UserID: "d1", UserName: "Lane", UserRole: signaling.RoleDoctor})

	msg := receive(t, patient)
	arrival := participantFrom(t, msg)
	if arrival.UserName != "Dr. Lane" {
		t.Errorf("doctor announced as %q, want \"Dr. Lane\"", arrival.UserName)
	}

	// An already-titled name is not prefixed twice.
	h2 := newTestHub()
	doctor2 := newTestClient(h2, "conn-3")
	patient2 := newTestClient(h2, "conn-4")
	join(t, h2, patient2, "appt-8", signaling.Participant{UserID: "p2", UserName: "Ona"})
	join(t, h2, doctor2, "appt-8", signaling.Participant{UserID: "d2", UserName: "Dr. Reyes", UserRole: signaling.RoleDoctor})

	msg = receive(t, patient2)
	arrival = participantFrom(t, msg)
	if arrival.UserName != "Dr. Reyes" {
		t.Errorf("doctor announced as %q, want \"Dr. Reyes\"", arrival.UserName)
	}
}

func TestHub_RoomCapacity(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h, "conn-1")
	b := newTestClient(h, "conn-2")
	c := newTestClient(h, "conn-3")

	join(t, h, a, "appt-7", signaling.Participant{UserID: "u1", UserName: "A"})
	join(t, h, b, "appt-7", signaling.Participant{UserID: "u2", UserName: "B"})
	receive(t, a) // user_joined
	receive(t, b) // roster

	join(t, h, c, "appt-7", signaling.Participant{UserID: "u3", UserName: "C"})

	msg := receive(t, c)
	if msg.Type != signaling.MessageTypeError {
		t.Fatalf("third join got %s, want error", msg.Type)
	}
	var errPayload signaling.ErrorPayload
	json.Unmarshal(msg.Payload, &errPayload)
	if errPayload.Error != "Room is full" {
		t.Errorf("error = %q, want \"Room is full\"", errPayload.Error)
	}
}

func TestHub_RejoinRebindsWithoutAnnouncement(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h, "conn-1")
	b := newTestClient(h, "conn-2")

	join(t, h, a, "appt-7", signaling.Participant{UserID: "u1", UserName: "A"})
	join(t, h, b, "appt-7", signaling.Participant{UserID: "u2", UserName: "B"})
	receive(t, a)
	receive(t, b)

	// Same participant on a fresh connection: no duplicate arrival.
	b2 := newTestClient(h, "conn-3")
	join(t, h, b2, "appt-7", signaling.Participant{UserID: "u2", UserName: "B"})
	expectNothing(t, a)

	// Signals now route to the new connection.
	sdpPayload, _ := json.Marshal(&signaling.Signal{Type: signaling.SignalOffer, SDP: "v=0"})
	h.Inbound <- inbound{
		msg:  &signaling.Message{Type: signaling.MessageTypeSignal, RoomID: "appt-7", Payload: sdpPayload},
		from: a,
	}
	msg := receive(t, b2)
	if msg.Type != signaling.MessageTypeSignal {
		t.Fatalf("rebound connection got %s, want webrtc_signal", msg.Type)
	}
}

func TestHub_SignalRoutedToOthersOnly(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h, "conn-1")
	b := newTestClient(h, "conn-2")

	join(t, h, a, "appt-7", signaling.Participant{UserID: "u1", UserName: "A"})
	join(t, h, b, "appt-7", signaling.Participant{UserID: "u2", UserName: "B"})
	receive(t, a)
	receive(t, b)

	sendSignal(t, h, a, signaling.Signal{Type: signaling.SignalOffer, SDP: "v=0"})

	msg := receive(t, b)
	if msg.Type != signaling.MessageTypeSignal {
		t.Fatalf("peer got %s, want webrtc_signal", msg.Type)
	}
	var sig signaling.Signal
	if err := json.Unmarshal(msg.Payload, &sig); err != nil {
		t.Fatalf("unmarshal signal: %v", err)
	}
	if sig.SenderID != "u1" {
		t.Errorf("sender_id = %q, want u1", sig.SenderID)
	}

	// Never echoed back to the sender.
	expectNothing(t, a)
}

func TestHub_SignalOutsideRoomRejected(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h, "conn-1")

	sdpPayload, _ := json.Marshal(&signaling.Signal{Type: signaling.SignalOffer, SDP: "v=0"})
	h.Inbound <- inbound{
		msg:  &signaling.Message{Type: signaling.MessageTypeSignal, Payload: sdpPayload},
		from: a,
	}

	msg := receive(t, a)
	if msg.Type != signaling.MessageTypeError {
		t.Fatalf("got %s, want error", msg.Type)
	}
}

func TestHub_LeaveAnnouncesDeparture(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h, "conn-1")
	b := newTestClient(h, "conn-2")

	join(t, h, a, "appt-7", signaling.Participant{UserID: "u1", UserName: "A"})
	join(t, h, b, "appt-7", signaling.Participant{UserID: "u2", UserName: "B"})
	receive(t, a)
	receive(t, b)

	h.Inbound <- inbound{
		msg:  &signaling.Message{Type: signaling.MessageTypeLeaveRoom, RoomID: "appt-7"},
		from: b,
	}

	msg := receive(t, a)
	if msg.Type != signaling.MessageTypeUserLeft {
		t.Fatalf("got %s, want user_left", msg.Type)
	}
	departed := participantFrom(t, msg)
	if departed.UserID != "u2" {
		t.Errorf("departed user = %s, want u2", departed.UserID)
	}
}

func TestHub_DisconnectAnnouncesDeparture(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h, "conn-1")
	b := newTestClient(h, "conn-2")

	join(t, h, a, "appt-7", signaling.Participant{UserID: "u1", UserName: "A"})
	join(t, h, b, "appt-7", signaling.Participant{UserID: "u2", UserName: "B"})
	receive(t, a)
	receive(t, b)

	// Connection loss behaves like an explicit leave.
	h.Unregister <- b

	msg := receive(t, a)
	if msg.Type != signaling.MessageTypeUserLeft {
		t.Fatalf("got %s, want user_left", msg.Type)
	}
}

func TestHub_InvalidJoinRejected(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h, "conn-1")

	h.Inbound <- inbound{
		msg:  &signaling.Message{Type: signaling.MessageTypeJoinRoom, RoomID: "appt-7"},
		from: a,
	}

	msg := receive(t, a)
	if msg.Type != signaling.MessageTypeError {
		t.Fatalf("got %s, want error for join without participant", msg.Type)
	}
}
