package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default configuration values
const (
	DefaultPort            = 5000
	DefaultSignalingServer = "http://localhost:5000"

	DefaultMessagesPerSecond = 50
	DefaultMessageBurst      = 100
	DefaultSendQueueSize     = 256

	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 1 * time.Second
	DefaultConnectTimeout    = 20 * time.Second
)

// DefaultSTUNServers is the fixed ICE configuration. There is no TURN
// fallback, so peers behind symmetric NATs may fail to connect.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// ServerConfig holds signaling server configuration
type ServerConfig struct {
	// Port the HTTP listener binds to
	Port int

	// Inbound rate limit applied to every websocket connection
	MessagesPerSecond float64
	MessageBurst      int

	// Outbound messages buffered per connection before it is dropped as slow
	SendQueueSize int
}

// ServerOptions for loading server config with CLI flag overrides
type ServerOptions struct {
	Port int
}

// LoadServer reads configuration with the following priority:
// 1. CLI flags (passed via ServerOptions) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func LoadServer(opts ServerOptions) (*ServerConfig, error) {
	port := opts.Port
	if port == 0 {
		if raw, ok := os.LookupEnv("PORT"); ok && strings.TrimSpace(raw) != "" {
			p, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return nil, fmt.Errorf("PORT: %w", err)
			}
			port = p
		}
	}
	if port == 0 {
		port = DefaultPort
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("port %d out of range", port)
	}

	return &ServerConfig{
		Port:              port,
		MessagesPerSecond: DefaultMessagesPerSecond,
		MessageBurst:      DefaultMessageBurst,
		SendQueueSize:     DefaultSendQueueSize,
	}, nil
}

// Addr is the listen address for net/http.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ClientConfig holds configuration for joining calls
type ClientConfig struct {
	// SignalingServer is the base HTTP(S) URL of the signaling server
	SignalingServer string

	// WebSocketURL is constructed from SignalingServer
	WebSocketURL string

	// Reconnection policy of the messaging channel
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration

	// ICE servers for WebRTC
	STUNServers []string
}

// ClientOptions for loading client config with CLI flag overrides
type ClientOptions struct {
	SignalingServer string
}

// LoadClient resolves the signaling endpoint: CLI flag > SIGNALING_SERVER > default.
func LoadClient(opts ClientOptions) (*ClientConfig, error) {
	server := opts.SignalingServer
	if server == "" {
		server = os.Getenv("SIGNALING_SERVER")
	}
	if server == "" {
		server = DefaultSignalingServer
	}
	server = strings.TrimRight(strings.TrimSpace(server), "/")

	wsURL, err := websocketURL(server)
	if err != nil {
		return nil, err
	}

	stun := make([]string, len(DefaultSTUNServers))
	copy(stun, DefaultSTUNServers)

	return &ClientConfig{
		SignalingServer:   server,
		WebSocketURL:      wsURL,
		ReconnectAttempts: DefaultReconnectAttempts,
		ReconnectDelay:    DefaultReconnectDelay,
		ConnectTimeout:    DefaultConnectTimeout,
		STUNServers:       stun,
	}, nil
}

func websocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid signaling server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid signaling server URL %q: unsupported scheme %q", server, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid signaling server URL %q: missing host", server)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// GetRoomURL returns the room info endpoint for a room ID
func (c *ClientConfig) GetRoomURL(roomID string) string {
	return fmt.Sprintf("%s/room/%s", c.SignalingServer, url.PathEscape(roomID))
}

// GetHealthURL returns the health endpoint of the signaling server
func (c *ClientConfig) GetHealthURL() string {
	return c.SignalingServer + "/health"
}
