package signaling

import "encoding/json"

// Handler routes incoming relay messages to appropriate channels.
type Handler struct {
	client     *Client
	UserJoined chan *Participant
	UserLeft   chan *Participant
	Signal     chan *Signal
	Error      chan string
	closed     bool
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client:     client,
		UserJoined: make(chan *Participant, 1),
		UserLeft:   make(chan *Participant, 1),
		Signal:     make(chan *Signal, 32),
		Error:      make(chan string, 1),
	}
}

// Start begins listening to incoming messages and routing them.
func (h *Handler) Start() {
	for msg := range h.client.Incoming() {

		switch msg.Type {

		case MessageTypeUserJoined:
			h.handleUserJoined(msg)

		case MessageTypeUserLeft:
			h.handleUserLeft(msg)

		case MessageTypeSignal:
			h.handleSignal(msg)

		case MessageTypeError:
			h.handleError(msg)

		default:

		}
	}
}

// handleUserJoined is called when the other participant enters our room.
func (h *Handler) handleUserJoined(msg *Message) {
	var p Participant
	if msg.Payload != nil {
		json.Unmarshal(msg.Payload, &p)
	}

	h.UserJoined <- &p
}

// handleUserLeft is called when the other participant leaves the room.
func (h *Handler) handleUserLeft(msg *Message) {
	var p Participant
	if msg.Payload != nil {
		json.Unmarshal(msg.Payload, &p)
	}

	h.UserLeft <- &p
}

// handleSignal parses the WebRTC signaling payload and sends it.
func (h *Handler) handleSignal(msg *Message) {
	var sig Signal

	if err := json.Unmarshal(msg.Payload, &sig); err != nil {
		h.Error <- "Failed to parse signal payload"
		return
	}

	h.Signal <- &sig
}

// handleError parses the error message and sends it through the Error channel.
func (h *Handler) handleError(msg *Message) {
	var errPayload ErrorPayload

	if err := json.Unmarshal(msg.Payload, &errPayload); err != nil {
		h.Error <- "Unknown error from server"
		return
	}

	h.Error <- errPayload.Error
}

// Close closes all handler channels.
func (h *Handler) Close() {
	if h.closed {
		return
	}
	h.closed = true

	close(h.UserJoined)
	close(h.UserLeft)
	close(h.Signal)
	close(h.Error)
}
