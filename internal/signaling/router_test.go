package signaling

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/BioHazard786/meshcall/internal/metrics"
	"github.com/BioHazard786/meshcall/internal/protocol"
)

func TestRoute_DeliversOnlyToCurrentMembers(t *testing.T) {
	g := newTestRegistry()
	r := NewRouter(g, nil)
	alice, bob := newFakePeer("a"), newFakePeer("b")
	g.Join(alice, "r1", "Alice")
	g.Join(bob, "r1", "Bob")

	data := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	if err := r.Route("r1", "a", "b", data); err != nil {
		t.Fatalf("route to member: %v", err)
	}

	sigs := bob.messages(protocol.TypeSignal)
	if len(sigs) != 1 {
		t.Fatalf("signals=%d, want 1", len(sigs))
	}
	var payload protocol.SignalPayload
	if err := sigs[0].Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.FromUser != "a" || payload.FromName != "Alice" || payload.ToUser != "b" || payload.RoomID != "r1" {
		t.Fatalf("payload=%+v", payload)
	}
	if string(payload.Data) != string(data) {
		t.Fatalf("data=%s, want %s", payload.Data, data)
	}

	g.Leave("b")
	if err := r.Route("r1", "a", "b", data); !errors.Is(err, ErrRoutingMiss) {
		t.Fatalf("route to departed member: err=%v, want ErrRoutingMiss", err)
	}
	if err := r.Route("nope", "a", "b", data); !errors.Is(err, ErrRoutingMiss) {
		t.Fatalf("route to unknown room: err=%v, want ErrRoutingMiss", err)
	}
	if got := testutil.ToFloat64(g.metrics.Dropped.WithLabelValues(metrics.DropReasonRoutingMiss)); got != 2 {
		t.Fatalf("routing misses=%v, want 2", got)
	}
	if got := testutil.ToFloat64(g.metrics.Routed); got != 1 {
		t.Fatalf("routed=%v, want 1", got)
	}
}

func TestRoute_DoesNotCrossRooms(t *testing.T) {
	g := newTestRegistry()
	r := NewRouter(g, nil)
	alice, bob := newFakePeer("a"), newFakePeer("b")
	g.Join(alice, "r1", "Alice")
	g.Join(bob, "r2", "Bob")

	if err := r.Route("r1", "a", "b", json.RawMessage(`{}`)); !errors.Is(err, ErrRoutingMiss) {
		t.Fatalf("route across rooms: err=%v, want ErrRoutingMiss", err)
	}
}

func TestRoute_FullQueueIsDropped(t *testing.T) {
	g := newTestRegistry()
	r := NewRouter(g, nil)
	alice, bob := newFakePeer("a"), newFakePeer("b")
	g.Join(alice, "r1", "Alice")
	g.Join(bob, "r1", "Bob")

	bob.mu.Lock()
	bob.reject = true
	bob.mu.Unlock()

	if err := r.Route("r1", "a", "b", json.RawMessage(`{}`)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("route to full queue: err=%v, want ErrQueueFull", err)
	}
	if got := testutil.ToFloat64(g.metrics.Dropped.WithLabelValues(metrics.DropReasonQueueFull)); got != 1 {
		t.Fatalf("queue full drops=%v, want 1", got)
	}
}
