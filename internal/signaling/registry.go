package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/go4org/hashtriemap"

	"github.com/BioHazard786/meshcall/internal/metrics"
)

// Registry is the authoritative room -> participant mapping.
//
// Lookups go through lock-free maps. Membership changes of one room are
// serialized by that room's lock; creation and removal of rooms are
// serialized by mu. Lock order is room.mu before mu.
//
// Join and Leave for the same connection id must not run concurrently; the
// connection's read goroutine is their only caller.
type Registry struct {
	rooms hashtriemap.HashTrieMap[string, *Room]

	// membership maps connection id -> room id
	membership hashtriemap.HashTrieMap[string, string]

	mu      sync.Mutex
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Registry{
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Join adds the peer to roomID under the given display name, leaving any
// room it was in before. The returned snapshot holds every other member at
// the instant of insertion. The snapshot is delivered to the joiner and the
// join is announced to the others before the room lock is released.
func (g *Registry) Join(p Peer, roomID, name string) []Participant {
	if current, ok := g.membership.Load(p.ID()); ok {
		g.log.Debug("Leaving previous room before join", "conn", p.ID(), "from", current, "to", roomID)
		g.Leave(p.ID())
	}

	for {
		room := g.loadOrCreate(roomID)

		room.mu.Lock()
		if room.closed {
			room.mu.Unlock()
			continue
		}

		others := room.snapshotLocked()
		joiner := &Participant{
			ID:       p.ID(),
			Name:     name,
			JoinedAt: g.now(),
			peer:     p,
		}
		room.members[joiner.ID] = joiner
		g.membership.Store(joiner.ID, roomID)

		g.metrics.Joins.Inc()
		g.metrics.Participants.Inc()
		g.log.Info("User joined room", "room", roomID, "user", name, "conn", joiner.ID, "size", len(room.members))

		g.announceJoinLocked(room, joiner, others)
		room.mu.Unlock()

		return others
	}
}

// Leave removes the connection from its room, deleting the room when it
// becomes empty. It is a no-op for connections that are not in a room.
func (g *Registry) Leave(connID string) (Participant, bool) {
	roomID, ok := g.membership.LoadAndDelete(connID)
	if !ok {
		return Participant{}, false
	}
	room, ok := g.rooms.Load(roomID)
	if !ok {
		return Participant{}, false
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	p, ok := room.members[connID]
	if !ok {
		return Participant{}, false
	}
	delete(room.members, connID)

	g.metrics.Leaves.Inc()
	g.metrics.Participants.Dec()
	g.log.Info("User left room", "room", roomID, "user", p.Name, "conn", connID, "size", len(room.members))

	if len(room.members) == 0 {
		room.closed = true
		g.mu.Lock()
		if cur, ok := g.rooms.Load(roomID); ok && cur == room {
			g.rooms.Delete(roomID)
			g.metrics.Rooms.Dec()
		}
		g.mu.Unlock()
		g.log.Info("Room deleted", "room", roomID)
		return *p, true
	}

	g.announceLeaveLocked(room, p)
	return *p, true
}

// RoomOf returns the room id the connection is currently in.
func (g *Registry) RoomOf(connID string) (string, bool) {
	return g.membership.Load(connID)
}

// Room returns a copy of the room's membership.
func (g *Registry) Room(roomID string) (RoomInfo, bool) {
	room, ok := g.rooms.Load(roomID)
	if !ok {
		return RoomInfo{}, false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return RoomInfo{}, false
	}
	return RoomInfo{ID: room.ID, Users: room.snapshotLocked()}, true
}

// Stats counts rooms and participants.
func (g *Registry) Stats() (rooms, users int) {
	g.rooms.Range(func(_ string, room *Room) bool {
		room.mu.Lock()
		if !room.closed {
			rooms++
			users += len(room.members)
		}
		room.mu.Unlock()
		return true
	})
	return rooms, users
}

func (g *Registry) loadOrCreate(roomID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	if room, ok := g.rooms.Load(roomID); ok {
		return room
	}
	room := newRoom(roomID)
	g.rooms.Store(roomID, room)
	g.metrics.Rooms.Inc()
	g.log.Info("Room created", "room", roomID)
	return room
}
