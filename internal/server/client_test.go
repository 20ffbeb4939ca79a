package server_test

import (
	"context"
	"errors"
	"testing"

	"github.com/BioHazard786/meshcall/internal/protocol"
	"github.com/BioHazard786/meshcall/internal/server"
)

func TestClient_HealthAndRoom(t *testing.T) {
	ts := newTestServer(t)
	client := server.NewClient(ts.URL+"/", nil)
	ctx := context.Background()

	taken, err := client.RoomTaken(ctx, "quiet-heron-lamp")
	if err != nil || taken {
		t.Fatalf("RoomTaken on empty server=%v, %v; want false, nil", taken, err)
	}

	alice := dial(t, ts)
	alice.send(protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: "quiet-heron-lamp", UserName: "Alice"})
	alice.expect(protocol.TypeRoomUsers, nil)

	room, err := client.Room(ctx, "quiet-heron-lamp")
	if err != nil {
		t.Fatalf("Room: %v", err)
	}
	if room.UserCount != 1 || room.Users[0].UserName != "Alice" {
		t.Fatalf("room=%+v, want Alice alone", room)
	}
	if taken, err := client.RoomTaken(ctx, "quiet-heron-lamp"); err != nil || !taken {
		t.Fatalf("RoomTaken=%v, %v; want true, nil", taken, err)
	}

	health, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Rooms != 1 || health.TotalUsers != 1 {
		t.Fatalf("health=%+v, want 1 room 1 user", health)
	}
}

func TestClient_RoomNotFound(t *testing.T) {
	ts := newTestServer(t)
	_, err := server.NewClient(ts.URL, nil).Room(context.Background(), "nobody-here")
	if !errors.Is(err, server.ErrRoomNotFound) {
		t.Fatalf("err=%v, want ErrRoomNotFound", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	ts := newTestServer(t)
	url := ts.URL
	ts.Close()

	if _, err := server.NewClient(url, nil).Health(context.Background()); err == nil {
		t.Fatal("Health against a closed server succeeded")
	}
}
