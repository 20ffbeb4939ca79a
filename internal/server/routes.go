package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/meshcall/internal/metrics"
	"github.com/BioHazard786/meshcall/internal/signaling"
)

// Configure the websocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024, // 64 KB
	WriteBufferSize: 64 * 1024, // 64 KB

	// Rooms carry no authorization, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Rooms      int    `json:"rooms"`
	TotalUsers int    `json:"totalUsers"`
}

// RoomUser is one entry of RoomResponse.Users.
type RoomUser struct {
	UserName string `json:"userName"`
	JoinedAt int64  `json:"joinedAt"`
}

// RoomResponse is the body of GET /room/{roomId}.
type RoomResponse struct {
	RoomID    string     `json:"roomId"`
	UserCount int        `json:"userCount"`
	Users     []RoomUser `json:"users"`
}

// NewMux wires every HTTP route of the signaling server.
func NewMux(hub *signaling.Hub, m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HealthHandler(hub.Registry()))
	mux.HandleFunc("GET /room/{roomId}", RoomHandler(hub.Registry()))
	mux.HandleFunc("/ws", ServeWs(hub))
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	return mux
}

// ServeWs returns an http.HandlerFunc that handles websocket requests.
// It takes the hub as a dependency.
func ServeWs(hub *signaling.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("Failed to upgrade connection", "error", err)
			return
		}

		client := signaling.NewClient(hub, conn)
		hub.Register(client)

		// These methods will handle the client's lifecycle
		go client.WritePump()
		go client.ReadPump()
	}
}

// HealthHandler reports room and user totals.
func HealthHandler(registry *signaling.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, users := registry.Stats()
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:     "ok",
			Rooms:      rooms,
			TotalUsers: users,
		})
	}
}

// RoomHandler describes one room or answers 404.
func RoomHandler(registry *signaling.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.PathValue("roomId")
		info, ok := registry.Room(roomID)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Room not found"})
			return
		}

		users := make([]RoomUser, 0, len(info.Users))
		for _, u := range info.Users {
			users = append(users, RoomUser{UserName: u.Name, JoinedAt: u.JoinedAt.UnixMilli()})
		}
		writeJSON(w, http.StatusOK, RoomResponse{
			RoomID:    info.ID,
			UserCount: len(users),
			Users:     users,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}
