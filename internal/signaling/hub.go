package signaling

import (
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/metrics"
	"github.com/BioHazard786/meshcall/internal/protocol"
)

// Hub is the central brain of the signaling server. Each connection's read
// goroutine calls into it directly; state lives in the Registry, which is
// locked per room, so rooms are handled in parallel.
type Hub struct {
	registry *Registry
	router   *Router
	metrics  *metrics.Metrics
	cfg      config.ServerConfig
	log      *slog.Logger
	newID    func() string
}

// NewHub creates a Hub with its own registry and router.
func NewHub(cfg config.ServerConfig, log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = config.DefaultSendQueueSize
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = config.DefaultMessagesPerSecond
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = config.DefaultMessageBurst
	}

	registry := NewRegistry(log.With("component", "registry"), m)
	return &Hub{
		registry: registry,
		router:   NewRouter(registry, log.With("component", "router")),
		metrics:  m,
		cfg:      cfg,
		log:      log,
		newID:    uuid.NewString,
	}
}

// Registry exposes the room registry for the HTTP surface.
func (h *Hub) Registry() *Registry { return h.registry }

// Register greets a new connection with its id.
func (h *Hub) Register(p Peer) {
	h.metrics.Connections.Inc()
	h.log.Info("Client registered", "conn", p.ID())
	p.Deliver(protocol.MustNew(protocol.TypeWelcome, protocol.WelcomePayload{SocketID: p.ID()}))
}

// Unregister removes a closed connection from its room.
func (h *Hub) Unregister(p Peer) {
	h.metrics.Connections.Dec()
	h.log.Info("Client unregistered", "conn", p.ID())
	h.registry.Leave(p.ID())
}

// Dispatch handles one inbound message from p.
func (h *Hub) Dispatch(p Peer, msg *protocol.Message) {
	h.log.Debug("Message received", "type", msg.Type, "conn", p.ID())

	switch msg.Type {

	case protocol.TypeJoinRoom:
		var req protocol.JoinRoomPayload
		if err := msg.Decode(&req); err != nil {
			h.reject(p, "Invalid join-room payload", err)
			return
		}
		roomID := strings.TrimSpace(req.RoomID)
		userName := strings.TrimSpace(req.UserName)
		if roomID == "" || userName == "" {
			h.reject(p, "roomId and userName are required", nil)
			return
		}
		h.registry.Join(p, roomID, userName)

	case protocol.TypeSignal:
		var sig protocol.SignalPayload
		if err := msg.Decode(&sig); err != nil {
			h.reject(p, "Invalid signal payload", err)
			return
		}
		if current, ok := h.registry.RoomOf(p.ID()); !ok || current != sig.RoomID {
			h.metrics.Drop(metrics.DropReasonNotInRoom)
			h.reject(p, "You must join a room first", nil)
			return
		}
		// Misses and full queues are logged and counted by the router.
		_ = h.router.Route(sig.RoomID, p.ID(), sig.ToUser, sig.Data)

	default:
		h.log.Warn("Unknown message type", "type", msg.Type, "conn", p.ID())
		p.Deliver(protocol.ErrorMessage("Unknown message type: " + msg.Type))
	}
}

func (h *Hub) reject(p Peer, text string, err error) {
	if err != nil {
		h.log.Warn(text, "conn", p.ID(), "error", err)
	} else {
		h.log.Warn(text, "conn", p.ID())
	}
	p.Deliver(protocol.ErrorMessage(text))
}
