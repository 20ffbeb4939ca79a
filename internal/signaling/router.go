package signaling

import (
	"log/slog"

	"github.com/BioHazard786/meshcall/internal/metrics"
	"github.com/BioHazard786/meshcall/internal/protocol"
)

// Router forwards signaling payloads between members of a room. Delivery is
// best effort: no retry, no buffering beyond the recipient's queue and no
// acknowledgement.
type Router struct {
	registry *Registry
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewRouter creates a router over the registry's rooms.
func NewRouter(registry *Registry, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		registry: registry,
		metrics:  registry.metrics,
		log:      log,
	}
}

// Route delivers data to toID iff toID is currently a member of roomID.
// A missing recipient is a race with its departure: the payload is dropped,
// logged and ErrRoutingMiss returned for the caller's bookkeeping only.
func (r *Router) Route(roomID, fromID, toID string, data []byte) error {
	room, ok := r.registry.rooms.Load(roomID)
	if !ok {
		return r.miss(roomID, fromID, toID)
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	target, ok := room.members[toID]
	if room.closed || !ok {
		return r.miss(roomID, fromID, toID)
	}

	var fromName string
	if sender, ok := room.members[fromID]; ok {
		fromName = sender.Name
	}

	msg := protocol.MustNew(protocol.TypeSignal, protocol.SignalPayload{
		RoomID:   roomID,
		Data:     data,
		FromUser: fromID,
		FromName: fromName,
		ToUser:   toID,
	})
	if !r.registry.deliver(target, msg) {
		return ErrQueueFull
	}

	r.metrics.Routed.Inc()
	r.log.Debug("Relayed signal", "room", roomID, "from", fromID, "to", toID)
	return nil
}

func (r *Router) miss(roomID, fromID, toID string) error {
	r.metrics.Drop(metrics.DropReasonRoutingMiss)
	r.log.Info("Signal dropped: recipient not in room", "room", roomID, "from", fromID, "to", toID)
	return ErrRoutingMiss
}
