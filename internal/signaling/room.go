package signaling

import (
	"sort"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/protocol"
)

// Peer is the outbound side of one client connection.
type Peer interface {
	// ID is the server-assigned connection id.
	ID() string

	// Deliver enqueues msg without blocking. It reports false when the
	// message could not be queued.
	Deliver(msg *protocol.Message) bool
}

// Participant is a member of a room.
type Participant struct {
	ID       string
	Name     string
	JoinedAt time.Time

	peer Peer
}

func (p *Participant) user() protocol.User {
	return protocol.User{
		SocketID: p.ID,
		UserName: p.Name,
		JoinedAt: p.JoinedAt.UnixMilli(),
	}
}

// Room is a set of participants guarded by its own lock, so rooms never
// contend with each other.
type Room struct {
	ID string

	mu      sync.Mutex
	members map[string]*Participant

	// closed is set once the last member left and the room was removed
	// from the registry. A joiner holding a stale pointer must retry.
	closed bool
}

func newRoom(id string) *Room {
	return &Room{
		ID:      id,
		members: make(map[string]*Participant),
	}
}

// snapshotLocked returns the members ordered by join time. Callers hold r.mu.
func (r *Room) snapshotLocked() []Participant {
	out := make([]Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// RoomInfo is a point-in-time copy of a room for the HTTP surface.
type RoomInfo struct {
	ID    string
	Users []Participant
}
