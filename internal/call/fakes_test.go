package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/meshcall/internal/channel"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/protocol"
	"github.com/BioHazard786/meshcall/internal/webrtc"
)

type fakeChannel struct {
	mu           sync.Mutex
	handlers     map[string][]channel.Handler
	up           bool
	connects     int
	disconnected bool
	sent         []*protocol.Message
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string][]channel.Handler)}
}

func (f *fakeChannel) On(event string, fn channel.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], fn)
}

func (f *fakeChannel) Connect(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
}

func (f *fakeChannel) Emit(msgType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.up {
		return channel.ErrNotConnected
	}
	f.sent = append(f.sent, protocol.MustNew(msgType, payload))
	return nil
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up = false
	f.disconnected = true
}

func (f *fakeChannel) setUp(up bool) {
	f.mu.Lock()
	f.up = up
	f.mu.Unlock()
}

// fire delivers an event as the real channel would, from another goroutine.
func (f *fakeChannel) fire(event string, payload any) {
	f.mu.Lock()
	handlers := append([]channel.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()

	msg := &protocol.Message{Type: event}
	if payload != nil {
		msg = protocol.MustNew(event, payload)
	}
	for _, h := range handlers {
		h(msg)
	}
}

func (f *fakeChannel) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeChannel) messages(typ string) []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Message
	for _, m := range f.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeChannel) signals(t *testing.T) []protocol.SignalPayload {
	t.Helper()
	var out []protocol.SignalPayload
	for _, m := range f.messages(protocol.TypeSignal) {
		var p protocol.SignalPayload
		if err := m.Decode(&p); err != nil {
			t.Fatalf("decode signal: %v", err)
		}
		out = append(out, p)
	}
	return out
}

type fakeSession struct {
	opts   webrtc.SessionOptions
	events webrtc.Events

	mu        sync.Mutex
	received  []json.RawMessage
	states    []webrtc.MediaState
	closed    bool
	signalErr error
}

func (s *fakeSession) Signal(data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signalErr != nil {
		return s.signalErr
	}
	s.received = append(s.received, data)
	return nil
}

func (s *fakeSession) SendMediaState(state webrtc.MediaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) lastState() (webrtc.MediaState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return webrtc.MediaState{}, 0
	}
	return s.states[len(s.states)-1], len(s.states)
}

func (s *fakeSession) receivedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

type fakeTransport struct {
	mu       sync.Mutex
	sessions map[string][]*fakeSession
	fail     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sessions: make(map[string][]*fakeSession)}
}

func (f *fakeTransport) NewSession(opts webrtc.SessionOptions, events webrtc.Events) (TransportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("no transport")
	}
	s := &fakeSession{opts: opts, events: events}
	f.sessions[opts.Peer] = append(f.sessions[opts.Peer], s)
	return s, nil
}

// session returns the latest session created for the named peer.
func (f *fakeTransport) session(peer string) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.sessions[peer]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (f *fakeTransport) count(peer string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions[peer])
}

type harness struct {
	t         *testing.T
	call      *Call
	channel   *fakeChannel
	transport *fakeTransport
}

func newHarness(t *testing.T, src media.Source) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		channel:   newFakeChannel(),
		transport: newFakeTransport(),
	}
	h.call = New(Options{
		RoomID:    "room-1",
		UserName:  "Me",
		Media:     src,
		Channel:   h.channel,
		Transport: h.transport,
	})
	t.Cleanup(h.call.Close)
	return h
}

// joined starts the call and walks it through connect and welcome.
func (h *harness) joined(selfID string) {
	h.t.Helper()
	h.call.Start()
	waitFor(h.t, "channel connect", func() bool { return h.channel.connectCount() == 1 })

	h.channel.setUp(true)
	h.channel.fire(channel.EventConnect, nil)
	h.channel.fire(protocol.TypeWelcome, protocol.WelcomePayload{SocketID: selfID})
	waitFor(h.t, "join-room", func() bool { return len(h.channel.messages(protocol.TypeJoinRoom)) == 1 })
	waitFor(h.t, "waiting status", func() bool { return h.call.Snapshot().Status == StatusWaiting })
}

func (h *harness) roomUsers(users ...protocol.User) {
	h.channel.fire(protocol.TypeRoomUsers, users)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func participant(s Snapshot, id string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}
