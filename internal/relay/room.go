package relay

// Room represents a single consultation room where a doctor and a patient
// can connect. Rooms are created lazily on the first join and hold at most
// two members.
type Room struct {
	// ID is the unique identifier for the room, assigned by the
	// appointment system.
	ID string

	// Members maps participant user IDs to their connections.
	Members map[string]*Client
}

// NewRoom creates an empty room.
func NewRoom(id string) *Room {
	return &Room{
		ID:      id,
		Members: make(map[string]*Client),
	}
}

// Others returns every member except the one with the given user ID.
func (r *Room) Others(userID string) []*Client {
	others := make([]*Client, 0, len(r.Members))
	for id, c := range r.Members {
		if id != userID {
			others = append(others, c)
		}
	}
	return others
}
