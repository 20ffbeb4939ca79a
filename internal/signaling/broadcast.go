package signaling

import (
	"github.com/BioHazard786/meshcall/internal/metrics"
	"github.com/BioHazard786/meshcall/internal/protocol"
)

// Membership notifications are enqueued while the room lock is held and
// after the mutation is applied. Each recipient therefore observes them in
// the order the registry applied the mutations for that room.

// announceJoinLocked sends the snapshot to the joiner and a user-joined
// event to everyone else.
func (g *Registry) announceJoinLocked(room *Room, joiner *Participant, others []Participant) {
	users := make([]protocol.User, 0, len(others))
	for i := range others {
		users = append(users, others[i].user())
	}
	g.deliver(joiner, protocol.MustNew(protocol.TypeRoomUsers, users))

	joined := protocol.MustNew(protocol.TypeUserJoined, joiner.user())
	for id, member := range room.members {
		if id == joiner.ID {
			continue
		}
		g.deliver(member, joined)
	}
}

// announceLeaveLocked tells every remaining member that p left.
func (g *Registry) announceLeaveLocked(room *Room, p *Participant) {
	left := protocol.MustNew(protocol.TypeUserLeft, protocol.UserLeftPayload{
		UserName: p.Name,
		SocketID: p.ID,
	})
	for _, member := range room.members {
		g.deliver(member, left)
	}
}

func (g *Registry) deliver(p *Participant, msg *protocol.Message) bool {
	if p.peer.Deliver(msg) {
		return true
	}
	g.metrics.Drop(metrics.DropReasonQueueFull)
	g.log.Warn("Dropped message for slow connection", "type", msg.Type, "conn", p.ID)
	return false
}
