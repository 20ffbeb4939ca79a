package call

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/BioHazard786/meshcall/internal/channel"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/protocol"
	"github.com/BioHazard786/meshcall/internal/webrtc"
)

func TestCall_JoinBuildsMeshFromSnapshot(t *testing.T) {
	h := newHarness(t, media.SyntheticSource{})
	h.joined("m")

	var join protocol.JoinRoomPayload
	if err := h.channel.messages(protocol.TypeJoinRoom)[0].Decode(&join); err != nil {
		t.Fatalf("decode join: %v", err)
	}
	if join.RoomID != "room-1" || join.UserName != "Me" {
		t.Fatalf("join=%+v", join)
	}

	h.roomUsers(
		protocol.User{SocketID: "a", UserName: "Alice"},
		protocol.User{SocketID: "m", UserName: "Me"},
		protocol.User{SocketID: "z", UserName: "Zed"},
	)
	waitFor(t, "two sessions", func() bool { return h.call.Snapshot().ParticipantCount == 2 })

	alice, zed := h.transport.session("Alice"), h.transport.session("Zed")
	if alice == nil || zed == nil || h.transport.count("Me") != 0 {
		t.Fatalf("sessions not created for exactly the other members")
	}
	if !alice.opts.Initiator || !zed.opts.Initiator {
		t.Fatalf("sessions must be initiators")
	}
	// The lower connection id is the polite side.
	if alice.opts.Polite || !zed.opts.Polite {
		t.Fatalf("polite flags alice=%v zed=%v, want false/true", alice.opts.Polite, zed.opts.Polite)
	}
	if alice.opts.Local == nil {
		t.Fatalf("local stream not attached")
	}

	snap := h.call.Snapshot()
	if snap.Status != StatusWaiting {
		t.Fatalf("status=%s, want waiting", snap.Status)
	}
	p, ok := participant(snap, "a")
	if !ok || p.State != SessionNegotiating || p.Name != "Alice" {
		t.Fatalf("alice=%+v ok=%v", p, ok)
	}
}

func TestCall_StatusFollowsConnectedSessions(t *testing.T) {
	h := newHarness(t, media.SyntheticSource{})
	h.joined("m")
	h.roomUsers(protocol.User{SocketID: "a", UserName: "Alice"})
	waitFor(t, "session", func() bool { return h.transport.session("Alice") != nil })

	alice := h.transport.session("Alice")
	alice.events.OnStream(&webrtc.RemoteStream{ID: "s1"})
	waitFor(t, "connected", func() bool { return h.call.Snapshot().Status == StatusConnected })

	h.channel.fire(protocol.TypeUserJoined, protocol.User{SocketID: "b", UserName: "Bob"})
	waitFor(t, "bob", func() bool { return h.call.Snapshot().ParticipantCount == 2 })
	if got := h.call.Snapshot().Status; got != StatusConnected {
		t.Fatalf("status=%s, want connected while alice is connected", got)
	}

	h.channel.fire(protocol.TypeUserLeft, protocol.UserLeftPayload{SocketID: "a", UserName: "Alice"})
	waitFor(t, "alice gone", func() bool { return h.call.Snapshot().ParticipantCount == 1 })
	if got := h.call.Snapshot().Status; got != StatusWaiting {
		t.Fatalf("status=%s, want waiting after last connected peer left", got)
	}
	if !alice.isClosed() {
		t.Fatalf("alice transport not closed")
	}
}

func TestCall_DuplicateJoinIsIgnored(t *testing.T) {
	h := newHarness(t, media.SyntheticSource{})
	h.joined("m")
	h.roomUsers(protocol.User{SocketID: "a", UserName: "Alice"})
	h.channel.fire(protocol.TypeUserJoined, protocol.User{SocketID: "a", UserName: "Alice"})
	h.channel.fire(protocol.TypeUserJoined, protocol.User{SocketID: "m", UserName: "Me"})
	h.channel.fire(protocol.TypeUserJoined, protocol.User{SocketID: "b", UserName: "Bob"})

	waitFor(t, "bob", func() bool { return h.call.Snapshot().ParticipantCount == 2 })
	if got := h.transport.count("Alice"); got != 1 {
		t.Fatalf("alice sessions=%d, want 1", got)
	}
	if got := h.transport.count("Me"); got != 0 {
		t.Fatalf("session created for self")
	}
}

func TestCall_SignalsRouteByConnectionID(t *testing.T) {
	h := newHarness(t, media.SyntheticSource{})
	h.joined("m")
	h.roomUsers(
		protocol.User{SocketID: "a", UserName: "Alice"},
		protocol.User{SocketID: "b", UserName: "Bob"},
	)
	waitFor(t, "sessions", func() bool { return h.call.Snapshot().ParticipantCount == 2 })

	alice, bob := h.transport.session("Alice"), h.transport.session("Bob")
	alice.events.OnSignal(json.RawMessage(`{"type":"offer","sdp":"A"}`))
	waitFor(t, "outbound signal", func() bool { return len(h.channel.messages(protocol.TypeSignal)) == 1 })

	sig := h.channel.signals(t)[0]
	if sig.ToUser != "a" || sig.FromUser != "m" || sig.RoomID != "room-1" || string(sig.Data) != `{"type":"offer","sdp":"A"}` {
		t.Fatalf("signal=%+v", sig)
	}

	h.channel.fire(protocol.TypeSignal, protocol.SignalPayload{RoomID: "room-1", FromUser: "b", ToUser: "m", Data: json.RawMessage(`{"type":"answer"}`)})
	h.channel.fire(protocol.TypeSignal, protocol.SignalPayload{RoomID: "room-1", FromUser: "ghost", ToUser: "m", Data: json.RawMessage(`{}`)})
	waitFor(t, "inbound signal", func() bool { return bob.receivedCount() == 1 })
	if alice.receivedCount() != 0 {
		t.Fatalf("signal for bob reached alice")
	}
	if got := h.call.Snapshot().ParticipantCount; got != 2 {
		t.Fatalf("unknown sender changed participants: %d", got)
	}
}

func TestCall_QueuedSignalsFlushInOrderOnReconnect(t *testing.T) {
	h := newHarness(t, media.SyntheticSource{})
	h.joined("m")
	h.roomUsers(protocol.User{SocketID: "a", UserName: "Alice"})
	waitFor(t, "session", func() bool { return h.transport.session("Alice") != nil })
	alice := h.transport.session("Alice")

	h.channel.setUp(false)
	h.channel.fire(channel.EventDisconnect, protocol.ErrorPayload{Error: "gone"})
	for _, sdp := range []string{`"1"`, `"2"`, `"3"`} {
		alice.events.OnSignal(json.RawMessage(sdp))
	}
	waitFor(t, "connecting", func() bool { return h.call.Snapshot().Status == StatusConnecting })
	if n := len(h.channel.messages(protocol.TypeSignal)); n != 0 {
		t.Fatalf("signals sent while down: %d", n)
	}

	h.channel.setUp(true)
	h.channel.fire(channel.EventConnect, nil)
	waitFor(t, "flush", func() bool { return len(h.channel.messages(protocol.TypeSignal)) == 3 })

	for i, sig := range h.channel.signals(t) {
		if want := []string{`"1"`, `"2"`, `"3"`}[i]; string(sig.Data) != want {
			t.Fatalf("signal %d=%s, want %s", i, sig.Data, want)
		}
	}

	// Reconnection does not re-join by itself.
	if n := len(h.channel.messages(protocol.TypeJoinRoom)); n != 1 {
		t.Fatalf("join-room sent %d times, want 1", n)
	}
	waitFor(t, "rejoin hint", func() bool { return h.call.Snapshot().NeedsRejoin })
}

func TestCall_FailedSessionIsRemovedOthersContinue(t *testing.T) {
	h := newHarness(t, media.SyntheticSource{})
	h.joined("m")
	h.roomUsers(
		protocol.User{SocketID: "a", UserName: "Alice"},
		protocol.User{SocketID: "b", UserName: "Bob"},
	)
	waitFor(t, "sessions", func() bool { return h.call.Snapshot().ParticipantCount == 2 })
	alice, bob := h.transport.session("Alice"), h.transport.session("Bob")
	bob.events.OnStream(&webrtc.RemoteStream{})

	alice.events.OnError(errors.New("ice failed"))
	waitFor(t, "alice removed", func() bool { return h.call.Snapshot().ParticipantCount == 1 })

	if !alice.isClosed() || bob.isClosed() {
		t.Fatalf("closed alice=%v bob=%v, want true/false", alice.isClosed(), bob.isClosed())
	}
	snap := h.call.Snapshot()
	if snap.Status != StatusConnected {
		t.Fatalf("status=%s, want connected", snap.Status)
	}
	if _, ok := participant(snap, "a"); ok {
		t.Fatalf("failed participant still visible")
	}

	// Late events from the failed session are ignored.
	alice.events.OnStream(&webrtc.RemoteStream{})
	alice.events.OnSignal(json.RawMessage(`{}`))
	h.call.ToggleAudio()
	waitFor(t, "toggle", func() bool { return !h.call.Snapshot().AudioEnabled })
	if n := len(h.channel.messages(protocol.TypeSignal)); n != 0 {
		t.Fatalf("signal from failed session sent")
	}
}

func TestCall_BadSignalFailsOnlyThatSession(t *testing.T) {
	h := newHarness(t, media.SyntheticSource{})
	h.joined("m")
	h.roomUsers(protocol.User{SocketID: "a", UserName: "Alice"})
	waitFor(t, "session", func() bool { return h.transport.session("Alice") != nil })

	alice := h.transport.session("Alice")
	alice.mu.Lock()
	alice.signalErr = webrtc.ErrUnexpectedSignal
	alice.mu.Unlock()

	h.channel.fire(protocol.TypeSignal, protocol.SignalPayload{FromUser: "a", ToUser: "m", Data: json.RawMessage(`{}`)})
	waitFor(t, "alice removed", func() bool { return h.call.Snapshot().ParticipantCount == 0 })
	if got := h.call.Snapshot().Status; got != StatusWaiting {
		t.Fatalf("status=%s, want waiting", got)
	}
}

func TestCall_ToggleAnnouncesWithoutTouchingSessions(t *testing.T) {
	h := newHarness(t, media.SyntheticSource{})
	h.joined("m")
	h.roomUsers(protocol.User{SocketID: "a", UserName: "Alice"})
	waitFor(t, "session", func() bool { return h.transport.session("Alice") != nil })
	alice := h.transport.session("Alice")
	alice.events.OnStream(&webrtc.RemoteStream{})
	waitFor(t, "connected", func() bool { return h.call.Snapshot().Status == StatusConnected })

	if state, n := alice.lastState(); n != 1 || !state.Audio || !state.Video {
		t.Fatalf("initial announcement=%+v (%d), want audio+video", state, n)
	}

	h.call.ToggleAudio()
	waitFor(t, "audio off", func() bool { return !h.call.Snapshot().AudioEnabled })
	if state, _ := alice.lastState(); state.Audio || !state.Video {
		t.Fatalf("announced=%+v, want audio off video on", state)
	}

	h.call.ToggleVideo()
	h.call.ToggleVideo()
	h.call.ToggleAudio()
	waitFor(t, "restored", func() bool {
		_, n := alice.lastState()
		snap := h.call.Snapshot()
		return n == 5 && snap.AudioEnabled && snap.VideoEnabled
	})
	snap := h.call.Snapshot()
	if !snap.AudioEnabled || !snap.VideoEnabled {
		t.Fatalf("double toggles did not restore state: %+v", snap)
	}
	p, _ := participant(snap, "a")
	if p.State != SessionConnected || snap.Status != StatusConnected {
		t.Fatalf("toggle changed session state to %s", p.State)
	}
	if n := len(h.channel.messages(protocol.TypeSignal)); n != 0 {
		t.Fatalf("toggle produced %d signals", n)
	}
}

func TestCall_RemoteMediaStateIsTracked(t *testing.T) {
	h := newHarness(t, media.SyntheticSource{})
	h.joined("m")
	h.roomUsers(protocol.User{SocketID: "a", UserName: "Alice"})
	waitFor(t, "session", func() bool { return h.transport.session("Alice") != nil })

	h.transport.session("Alice").events.OnMediaState(webrtc.MediaState{Audio: false, Video: true})
	waitFor(t, "remote mute", func() bool {
		p, _ := participant(h.call.Snapshot(), "a")
		return !p.Audio && p.Video
	})
}

func TestCall_MediaFailureIsTerminalError(t *testing.T) {
	h := newHarness(t, media.SyntheticSource{Deny: true})
	h.call.Start()

	waitFor(t, "error status", func() bool { return h.call.Snapshot().Status == StatusError })
	snap := h.call.Snapshot()
	if !errors.Is(snap.Err, ErrMediaAcquisition) {
		t.Fatalf("err=%v, want ErrMediaAcquisition", snap.Err)
	}
	if h.channel.connectCount() != 0 {
		t.Fatalf("channel connected despite media failure")
	}

	h.call.Rejoin()
	h.call.ToggleAudio()
	h.call.Hangup("x")
	h.call.Close()
	if h.channel.connectCount() != 0 {
		t.Fatalf("rejoin connected after media failure")
	}
}

func TestCall_ReconnectFailedThenRejoin(t *testing.T) {
	h := newHarness(t, media.SyntheticSource{})
	h.joined("m")
	h.roomUsers(protocol.User{SocketID: "a", UserName: "Alice"})
	waitFor(t, "session", func() bool { return h.transport.session("Alice") != nil })

	h.channel.setUp(false)
	h.channel.fire(channel.EventDisconnect, nil)
	h.channel.fire(channel.EventReconnectFailed, protocol.ErrorPayload{Error: "gave up"})
	waitFor(t, "error", func() bool { return h.call.Snapshot().Status == StatusError })
	if !errors.Is(h.call.Snapshot().Err, ErrSignalingChannel) {
		t.Fatalf("err=%v, want ErrSignalingChannel", h.call.Snapshot().Err)
	}

	h.call.Rejoin()
	waitFor(t, "reconnect", func() bool { return h.channel.connectCount() == 2 })
	if !h.transport.session("Alice").isClosed() {
		t.Fatalf("rejoin kept the stale session")
	}

	h.channel.setUp(true)
	h.channel.fire(channel.EventConnect, nil)
	h.channel.fire(protocol.TypeWelcome, protocol.WelcomePayload{SocketID: "m2"})
	waitFor(t, "second join", func() bool { return len(h.channel.messages(protocol.TypeJoinRoom)) == 2 })
	waitFor(t, "waiting", func() bool { return h.call.Snapshot().Status == StatusWaiting })

	h.roomUsers(protocol.User{SocketID: "a", UserName: "Alice"})
	waitFor(t, "new session", func() bool { return h.transport.count("Alice") == 2 })
}

func TestCall_RejoinWhileConnectedSendsJoinAgain(t *testing.T) {
	h := newHarness(t, media.SyntheticSource{})
	h.joined("m")
	h.roomUsers(protocol.User{SocketID: "a", UserName: "Alice"})
	waitFor(t, "session", func() bool { return h.transport.session("Alice") != nil })

	h.call.Rejoin()
	waitFor(t, "join again", func() bool { return len(h.channel.messages(protocol.TypeJoinRoom)) == 2 })
	waitFor(t, "sessions dropped", func() bool { return h.call.Snapshot().ParticipantCount == 0 })
	if !h.transport.session("Alice").isClosed() {
		t.Fatalf("stale session not closed")
	}
}

func TestCall_CloseTearsEverythingDown(t *testing.T) {
	h := newHarness(t, media.SyntheticSource{})
	h.joined("m")
	h.roomUsers(
		protocol.User{SocketID: "a", UserName: "Alice"},
		protocol.User{SocketID: "b", UserName: "Bob"},
	)
	waitFor(t, "sessions", func() bool { return h.call.Snapshot().ParticipantCount == 2 })
	stream := h.call.acquired.Load()

	h.call.Close()

	snap := h.call.Snapshot()
	if snap.Status != StatusDisconnected || snap.ParticipantCount != 0 {
		t.Fatalf("after close: status=%s participants=%d", snap.Status, snap.ParticipantCount)
	}
	if !h.transport.session("Alice").isClosed() || !h.transport.session("Bob").isClosed() {
		t.Fatalf("sessions not destroyed")
	}
	if stream == nil || !stream.Stopped() {
		t.Fatalf("local tracks not stopped")
	}
	h.channel.mu.Lock()
	disconnected := h.channel.disconnected
	h.channel.mu.Unlock()
	if !disconnected {
		t.Fatalf("channel not disconnected")
	}

	// Nothing runs after teardown.
	h.channel.fire(protocol.TypeUserJoined, protocol.User{SocketID: "c", UserName: "Carol"})
	h.call.ToggleAudio()
	if h.transport.count("Carol") != 0 {
		t.Fatalf("session created after close")
	}
	for range h.call.Updates() {
	}
	h.call.Close()
}

func TestCall_CloseBeforeStart(t *testing.T) {
	h := newHarness(t, media.SyntheticSource{})
	h.call.Close()
	h.call.Start()
	if got := h.call.Snapshot().Status; got != StatusDisconnected {
		t.Fatalf("status=%s, want disconnected", got)
	}
	if h.channel.connectCount() != 0 {
		t.Fatalf("closed call connected")
	}
}
