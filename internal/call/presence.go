package call

import "github.com/makrame5/healthconnect/internal/signaling"

// presence tracks the remote participant's room membership. It is owned
// by the controller loop and needs no locking.
type presence struct {
	peer   *signaling.Participant
	online bool
	seen   map[string]bool
}

func newPresence() *presence {
	return &presence{seen: make(map[string]bool)}
}

// joined records a user_joined announcement. It returns true only the
// first time a given participant is seen; the relay can replay a join
// when a connection is rebound and a duplicate must not retrigger the
// arrival handling.
func (p *presence) joined(participant *signaling.Participant) bool {
	first := !p.seen[participant.UserID]
	p.seen[participant.UserID] = true
	p.peer = participant
	p.online = true
	return first
}

// left records a user_left announcement. The participant stays known so
// a later rejoin is not treated as a first arrival.
func (p *presence) left(participant *signaling.Participant) {
	if p.peer != nil && p.peer.UserID == participant.UserID {
		p.online = false
	}
}

// reset clears presence for a fresh call attempt.
func (p *presence) reset() {
	p.peer = nil
	p.online = false
	p.seen = make(map[string]bool)
}
