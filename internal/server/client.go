package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrRoomNotFound is returned by Client.Room for rooms with no participants.
var ErrRoomNotFound = errors.New("room not found")

var errNotFound = errors.New("not found")

// Client queries the HTTP side of a signaling server.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the server at base (http or https URL).
// dial, when non-nil, replaces the transport's dialer.
func NewClient(base string, dial func(ctx context.Context, network, addr string) (net.Conn, error)) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if dial != nil {
		transport.DialContext = dial
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Transport: transport, Timeout: 10 * time.Second},
	}
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Room fetches GET /room/{roomId}.
func (c *Client) Room(ctx context.Context, roomID string) (*RoomResponse, error) {
	var out RoomResponse
	err := c.get(ctx, "/room/"+url.PathEscape(roomID), &out)
	if errors.Is(err, errNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RoomTaken reports whether roomID currently has participants.
func (c *Client) RoomTaken(ctx context.Context, roomID string) (bool, error) {
	_, err := c.Room(ctx, roomID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrRoomNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return errNotFound
	default:
		return fmt.Errorf("GET %s: unexpected status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}
