// Package channel is the client half of the signaling connection: a
// websocket to the signaling server with event handlers and a bounded
// reconnection policy.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/dns"
	"github.com/BioHazard786/meshcall/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	outgoingBuffer = 64
)

// Lifecycle events delivered through On alongside server message types.
const (
	EventConnect         = "connect"
	EventConnectError    = "connect_error"
	EventDisconnect      = "disconnect"
	EventReconnectFailed = "reconnect_failed"
)

// ErrNotConnected is returned by Emit while no connection is established.
var ErrNotConnected = errors.New("signaling channel not connected")

// Handler receives one event. Lifecycle events that carry an error use a
// protocol.ErrorPayload.
type Handler func(msg *protocol.Message)

// Options configure a Client.
type Options struct {
	URL string

	// Attempts after the first failed dial or after a drop.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration

	Resolver *dns.Resolver
	Logger   *slog.Logger
}

// Client manages the websocket connection to the signaling server.
type Client struct {
	opts   Options
	dialer *websocket.Dialer
	log    *slog.Logger

	mu       sync.Mutex
	handlers map[string][]Handler
	link     *link
	cancel   context.CancelFunc
	stopped  chan struct{}
}

// link is one established websocket connection.
type link struct {
	conn *websocket.Conn
	out  chan *protocol.Message
	done chan struct{}
}

// NewClient creates a client; call On to register handlers, then Connect.
func NewClient(opts Options) *Client {
	if opts.Resolver == nil {
		opts.Resolver = dns.NewResolver()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 20 * time.Second
	}
	return &Client{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
			NetDialContext:   opts.Resolver.DialContext,
		},
		log:      opts.Logger.With("component", "channel"),
		handlers: make(map[string][]Handler),
	}
}

// On registers fn for a server message type or a lifecycle event. Handlers
// run on the client's reader goroutine and must not block on Disconnect.
func (c *Client) On(event string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

// Connect starts dialing in the background. Outcomes are reported through
// the connect, connect_error and reconnect_failed events. Calling Connect
// while a previous run is still active is a no-op; after reconnect_failed or
// Disconnect it starts over with a fresh attempt budget.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		select {
		case <-c.stopped:
		default:
			return
		}
		c.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = make(chan struct{})
	go c.run(ctx, c.stopped)
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// Emit queues a message for the server.
func (c *Client) Emit(msgType string, payload any) error {
	msg, err := protocol.New(msgType, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}

	select {
	case l.out <- msg:
		return nil
	case <-l.done:
		return ErrNotConnected
	}
}

// Disconnect closes the connection and stops reconnecting. It blocks until
// the background goroutines have exited.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, stopped := c.cancel, c.stopped
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped

	c.mu.Lock()
	if c.stopped == stopped {
		c.cancel = nil
		c.stopped = nil
	}
	c.mu.Unlock()
}

func (c *Client) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	failures := 0
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			c.log.Debug("Dial failed", "attempt", failures, "error", err)
			c.emitLocal(EventConnectError, err)
			if failures > c.opts.ReconnectAttempts {
				c.emitLocal(EventReconnectFailed, fmt.Errorf("gave up after %d attempts: %w", failures, err))
				return
			}
			if !sleep(ctx, c.opts.ReconnectDelay) {
				return
			}
			continue
		}

		failures = 0
		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.log.Info("Connection lost", "error", err)
		c.emitLocal(EventDisconnect, err)
		if !sleep(ctx, c.opts.ReconnectDelay) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// serve runs one connection until it fails or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	l := &link{
		conn: conn,
		out:  make(chan *protocol.Message, outgoingBuffer),
		done: make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.mu.Lock()
	c.link = l
	c.mu.Unlock()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(ctx, l)
	}()

	c.emitLocal(EventConnect, nil)
	err := c.readPump(l)

	c.mu.Lock()
	c.link = nil
	c.mu.Unlock()
	close(l.done)
	conn.Close()
	<-writerDone
	return err
}

func (c *Client) readPump(l *link) error {
	for {
		var msg protocol.Message
		if err := l.conn.ReadJSON(&msg); err != nil {
			return err
		}
		c.dispatch(&msg)
	}
}

func (c *Client) writePump(ctx context.Context, l *link) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()

	for {
		select {
		case msg := <-l.out:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteJSON(msg); err != nil {
				c.log.Debug("Write failed", "type", msg.Type, "error", err)
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			l.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-l.done:
			return
		}
	}
}

func (c *Client) emitLocal(event string, err error) {
	msg := &protocol.Message{Type: event}
	if err != nil {
		msg = protocol.MustNew(event, protocol.ErrorPayload{Error: err.Error()})
	}
	c.dispatch(msg)
}

func (c *Client) dispatch(msg *protocol.Message) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[msg.Type]...)
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.log.Debug("Unhandled event", "type", msg.Type)
		return
	}
	for _, h := range handlers {
		h(msg)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
