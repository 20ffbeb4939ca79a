// Package call runs one client's participation in a room: it acquires local
// media, joins through the signaling channel and keeps one media session
// per remote participant as membership changes.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/BioHazard786/meshcall/internal/channel"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/protocol"
	"github.com/BioHazard786/meshcall/internal/webrtc"
)

// Options configure a Call.
type Options struct {
	RoomID   string
	UserName string

	// Constraints are tried first, Fallback if they cannot be met.
	Constraints media.Constraints
	Fallback    media.Constraints

	Media     media.Source
	Channel   Channel
	Transport Transport
	Logger    *slog.Logger
}

// Participant is a remote member as shown to the user.
type Participant struct {
	ID    string
	Name  string
	State SessionState

	// Remote media state as last announced by the participant.
	Audio bool
	Video bool
}

// Snapshot is a consistent view of the call for rendering.
type Snapshot struct {
	Status Status
	Err    error

	RoomID   string
	UserName string
	SelfID   string

	Participants     []Participant
	ParticipantCount int

	AudioEnabled bool
	VideoEnabled bool

	// NeedsRejoin is set after the channel reconnected on a new connection
	// that has not joined the room yet.
	NeedsRejoin bool

	// ServerError is the last error message sent by the signaling server.
	ServerError string
}

// Call is the per-session orchestrator. All state below the loop marker is
// owned by a single event-loop goroutine; other goroutines hand work to it
// through post.
type Call struct {
	opts Options
	log  *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}

	// acquired is the captured stream, visible to Close even when its
	// continuation never ran.
	acquired atomic.Pointer[media.LocalStream]

	mu       sync.RWMutex
	snapshot Snapshot
	updates  chan Snapshot

	// loop state
	selfID    string
	local     *media.LocalStream
	sessions  map[string]*PeerSession
	progress  Progress
	joined    bool
	connGen   int
	joinedGen int
	serverErr string
}

// New creates a call. Nothing happens until Start.
func New(opts Options) *Call {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Media == nil {
		opts.Media = media.SyntheticSource{}
	}
	if !opts.Constraints.Audio && !opts.Constraints.Video {
		opts.Constraints = media.DefaultConstraints
	}
	if !opts.Fallback.Audio && !opts.Fallback.Video {
		opts.Fallback = media.BasicConstraints
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Call{
		opts:     opts,
		log:      opts.Logger.With("component", "call", "room", opts.RoomID),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		updates:  make(chan Snapshot, 1),
		sessions: make(map[string]*PeerSession),
	}

	ch := opts.Channel
	ch.On(channel.EventConnect, c.handle(c.onConnect))
	ch.On(channel.EventConnectError, c.handle(c.onConnectError))
	ch.On(channel.EventDisconnect, c.handle(c.onDisconnect))
	ch.On(channel.EventReconnectFailed, c.handle(c.onReconnectFailed))
	ch.On(protocol.TypeWelcome, c.handle(c.onWelcome))
	ch.On(protocol.TypeRoomUsers, c.handle(c.onRoomUsers))
	ch.On(protocol.TypeUserJoined, c.handle(c.onUserJoined))
	ch.On(protocol.TypeUserLeft, c.handle(c.onUserLeft))
	ch.On(protocol.TypeSignal, c.handle(c.onSignal))
	ch.On(protocol.TypeError, c.handle(c.onServerError))

	c.snapshot = c.buildSnapshot()
	return c
}

// Start acquires local media and, once it is ready, connects the channel.
func (c *Call) Start() {
	c.startOnce.Do(func() {
		go c.loop()

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			stream, err := media.AcquireWithFallback(c.ctx, c.opts.Media, c.opts.Constraints, c.opts.Fallback)
			if err == nil {
				c.acquired.Store(stream)
			}
			c.post(func() { c.mediaReady(stream, err) })
		}()
	})
}

// Close tears the call down synchronously: the loop is stopped first, so no
// continuation can run afterwards, then local tracks are stopped, every
// session is destroyed and the channel disconnected.
func (c *Call) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.startOnce.Do(func() { close(c.loopDone) })
		<-c.loopDone
		c.wg.Wait()

		if s := c.acquired.Load(); s != nil {
			s.StopAllTracks()
		}
		for id, s := range c.sessions {
			s.end(SessionClosed, nil)
			delete(c.sessions, id)
		}
		c.opts.Channel.Disconnect()

		c.progress.TornDown = true
		c.publish()
		close(c.updates)
		c.log.Info("Call closed")
	})
}

// Snapshot returns the latest published state.
func (c *Call) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Updates delivers snapshots as they change; intermediate ones may be
// skipped. It is closed by Close.
func (c *Call) Updates() <-chan Snapshot {
	return c.updates
}

// ToggleAudio mutes or unmutes the local audio and tells every peer.
func (c *Call) ToggleAudio() {
	c.post(func() {
		if c.local == nil {
			return
		}
		c.local.ToggleAudio()
		c.broadcastMediaState()
	})
}

// ToggleVideo turns the local video on or off and tells every peer.
func (c *Call) ToggleVideo() {
	c.post(func() {
		if c.local == nil {
			return
		}
		c.local.ToggleVideo()
		c.broadcastMediaState()
	})
}

// Hangup ends the session with one participant.
func (c *Call) Hangup(remoteID string) {
	c.post(func() {
		if s, ok := c.sessions[remoteID]; ok {
			c.removePeer(s, SessionClosed, nil)
		}
	})
}

// Rejoin drops every session and joins the room again. It also restarts a
// channel that gave up reconnecting.
func (c *Call) Rejoin() {
	c.post(func() {
		if c.local == nil || errors.Is(c.progress.Err, ErrMediaAcquisition) {
			return
		}
		for _, s := range c.sessions {
			c.removePeer(s, SessionClosed, nil)
		}
		c.joined = false
		c.serverErr = ""

		if errors.Is(c.progress.Err, ErrSignalingChannel) {
			c.progress.Err = nil
			c.opts.Channel.Connect(c.ctx)
			return
		}
		if c.progress.ChannelReady {
			c.join()
		}
	})
}

// post hands fn to the loop. It never blocks and reports false once the
// call is closing.
func (c *Call) post(fn func()) bool {
	if c.ctx.Err() != nil {
		return false
	}
	c.qmu.Lock()
	c.queue = append(c.queue, fn)
	c.qmu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *Call) handle(fn func(*protocol.Message)) channel.Handler {
	return func(msg *protocol.Message) {
		c.post(func() { fn(msg) })
	}
}

func (c *Call) loop() {
	defer close(c.loopDone)
	c.publish()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}

		c.qmu.Lock()
		tasks := c.queue
		c.queue = nil
		c.qmu.Unlock()

		for _, fn := range tasks {
			if c.ctx.Err() != nil {
				return
			}
			fn()
		}
		c.publish()
	}
}

func (c *Call) mediaReady(stream *media.LocalStream, err error) {
	if err != nil {
		c.progress.Err = WrapError("acquire media", ErrMediaAcquisition, err.Error())
		c.log.Error("Media acquisition failed", "error", err)
		return
	}
	c.local = stream
	c.progress.MediaReady = true
	c.log.Debug("Local media ready", "tracks", len(stream.Tracks()))
	c.opts.Channel.Connect(c.ctx)
}

func (c *Call) onConnect(*protocol.Message) {
	c.connGen++
	c.progress.ChannelReady = true
	c.log.Info("Connected to signaling server")

	if !c.joined {
		c.join()
	}
	c.flushPending()
}

func (c *Call) onConnectError(msg *protocol.Message) {
	var p protocol.ErrorPayload
	_ = msg.Decode(&p)
	c.log.Debug("Signaling connect attempt failed", "error", p.Error)
}

func (c *Call) onDisconnect(*protocol.Message) {
	c.progress.ChannelReady = false
	c.log.Warn("Disconnected from signaling server")
}

func (c *Call) onReconnectFailed(msg *protocol.Message) {
	var p protocol.ErrorPayload
	_ = msg.Decode(&p)
	c.progress.ChannelReady = false
	c.progress.Err = WrapError("connect signaling", ErrSignalingChannel, p.Error)
	c.log.Error("Giving up on signaling server", "error", p.Error)
}

func (c *Call) onWelcome(msg *protocol.Message) {
	var p protocol.WelcomePayload
	if err := msg.Decode(&p); err != nil {
		c.log.Warn("Malformed welcome", "error", err)
		return
	}
	c.selfID = p.SocketID
}

func (c *Call) onServerError(msg *protocol.Message) {
	var p protocol.ErrorPayload
	if err := msg.Decode(&p); err != nil {
		return
	}
	c.serverErr = p.Error
	c.log.Warn("Server error", "error", p.Error)
}

func (c *Call) onRoomUsers(msg *protocol.Message) {
	var users []protocol.User
	if err := msg.Decode(&users); err != nil {
		c.log.Warn("Malformed room-users", "error", err)
		return
	}
	c.log.Info("Joined room", "others", len(users))
	for _, u := range users {
		c.addPeer(u.SocketID, u.UserName)
	}
}

func (c *Call) onUserJoined(msg *protocol.Message) {
	var u protocol.User
	if err := msg.Decode(&u); err != nil {
		c.log.Warn("Malformed user-joined", "error", err)
		return
	}
	c.log.Info("User joined", "user", u.UserName, "conn", u.SocketID)
	c.addPeer(u.SocketID, u.UserName)
}

func (c *Call) onUserLeft(msg *protocol.Message) {
	var u protocol.UserLeftPayload
	if err := msg.Decode(&u); err != nil {
		c.log.Warn("Malformed user-left", "error", err)
		return
	}
	c.log.Info("User left", "user", u.UserName, "conn", u.SocketID)
	if s, ok := c.sessions[u.SocketID]; ok {
		c.removePeer(s, SessionClosed, nil)
	}
}

func (c *Call) onSignal(msg *protocol.Message) {
	var sig protocol.SignalPayload
	if err := msg.Decode(&sig); err != nil {
		c.log.Warn("Malformed signal", "error", err)
		return
	}
	s, ok := c.sessions[sig.FromUser]
	if !ok {
		c.log.Debug("Signal from unknown participant dropped", "from", sig.FromUser)
		return
	}
	if err := s.transport.Signal(sig.Data); err != nil {
		c.removePeer(s, SessionFailed, NewPeerError("apply signal", s.RemoteName, fmt.Errorf("%w: %v", ErrPeerSession, err)))
	}
}

func (c *Call) join() {
	err := c.opts.Channel.Emit(protocol.TypeJoinRoom, protocol.JoinRoomPayload{
		RoomID:   c.opts.RoomID,
		UserName: c.opts.UserName,
	})
	if err != nil {
		c.log.Warn("Failed to send join-room", "error", err)
		return
	}
	c.joined = true
	c.joinedGen = c.connGen
}

func (c *Call) addPeer(id, name string) {
	if id == "" || id == c.selfID {
		return
	}
	if _, ok := c.sessions[id]; ok {
		return
	}

	// The side with the lower connection id yields on offer collisions.
	s := newPeerSession(id, name, true, c.selfID < id)
	tr, err := c.opts.Transport.NewSession(webrtc.SessionOptions{
		Initiator: s.initiator,
		Polite:    s.polite,
		Local:     c.local,
		Peer:      name,
	}, c.sessionEvents(s))
	if err != nil {
		c.log.Warn("Could not create media session", "user", name, "error", err)
		return
	}

	s.transport = tr
	s.transition(SessionNegotiating)
	c.sessions[id] = s

	if err := tr.SendMediaState(c.mediaState()); err != nil {
		c.log.Debug("Media state not sent", "user", name, "error", err)
	}
}

func (c *Call) removePeer(s *PeerSession, to SessionState, err error) {
	if err != nil {
		c.log.Warn("Session ended", "user", s.RemoteName, "state", to.String(), "error", err)
	} else {
		c.log.Debug("Session ended", "user", s.RemoteName, "state", to.String())
	}
	s.end(to, err)
	delete(c.sessions, s.RemoteID)
}

func (c *Call) tracked(s *PeerSession) bool {
	return c.sessions[s.RemoteID] == s
}

// sessionEvents bridges transport callbacks onto the loop. Events from a
// session that is no longer tracked are ignored.
func (c *Call) sessionEvents(s *PeerSession) webrtc.Events {
	return webrtc.Events{
		OnSignal: func(data json.RawMessage) {
			c.post(func() {
				if c.tracked(s) {
					c.sendSignal(s, data)
				}
			})
		},
		OnStream: func(remote *webrtc.RemoteStream) {
			c.post(func() {
				if !c.tracked(s) {
					return
				}
				s.remote = remote
				if s.transition(SessionConnected) {
					c.log.Info("Media connected", "user", s.RemoteName)
				}
			})
		},
		OnMediaState: func(state webrtc.MediaState) {
			c.post(func() {
				if c.tracked(s) {
					s.remoteMedia = state
				}
			})
		},
		OnError: func(err error) {
			c.post(func() {
				if c.tracked(s) {
					c.removePeer(s, SessionFailed, NewPeerError("media session", s.RemoteName, fmt.Errorf("%w: %v", ErrPeerSession, err)))
				}
			})
		},
		OnClose: func() {
			c.post(func() {
				if c.tracked(s) {
					c.removePeer(s, SessionClosed, nil)
				}
			})
		},
	}
}

func (c *Call) sendSignal(s *PeerSession, data json.RawMessage) {
	// Anything already queued must go first.
	if len(s.pending) > 0 {
		s.enqueue(data)
		return
	}
	if err := c.emitSignal(s, data); err != nil {
		c.log.Debug("Signal queued until reconnect", "user", s.RemoteName, "error", err)
		s.enqueue(data)
	}
}

func (c *Call) emitSignal(s *PeerSession, data json.RawMessage) error {
	return c.opts.Channel.Emit(protocol.TypeSignal, protocol.SignalPayload{
		RoomID:   c.opts.RoomID,
		Data:     data,
		FromUser: c.selfID,
		FromName: c.opts.UserName,
		ToUser:   s.RemoteID,
	})
}

func (c *Call) flushPending() {
	for _, s := range c.sessions {
		queued := s.takePending()
		for i, data := range queued {
			if err := c.emitSignal(s, data); err != nil {
				s.pending = queued[i:]
				break
			}
		}
	}
}

func (c *Call) mediaState() webrtc.MediaState {
	if c.local == nil {
		return webrtc.MediaState{}
	}
	return webrtc.MediaState{Audio: c.local.AudioEnabled(), Video: c.local.VideoEnabled()}
}

func (c *Call) broadcastMediaState() {
	state := c.mediaState()
	for _, s := range c.sessions {
		if err := s.transport.SendMediaState(state); err != nil {
			c.log.Debug("Media state not sent", "user", s.RemoteName, "error", err)
		}
	}
}

func (c *Call) buildSnapshot() Snapshot {
	states := make([]SessionState, 0, len(c.sessions))
	participants := make([]Participant, 0, len(c.sessions))
	for _, s := range c.sessions {
		states = append(states, s.state)
		participants = append(participants, Participant{
			ID:    s.RemoteID,
			Name:  s.RemoteName,
			State: s.state,
			Audio: s.remoteMedia.Audio,
			Video: s.remoteMedia.Video,
		})
	}
	sort.Slice(participants, func(i, j int) bool {
		if participants[i].Name != participants[j].Name {
			return participants[i].Name < participants[j].Name
		}
		return participants[i].ID < participants[j].ID
	})

	state := c.mediaState()
	return Snapshot{
		Status:           Aggregate(c.progress, states),
		Err:              c.progress.Err,
		RoomID:           c.opts.RoomID,
		UserName:         c.opts.UserName,
		SelfID:           c.selfID,
		Participants:     participants,
		ParticipantCount: len(c.sessions),
		AudioEnabled:     state.Audio,
		VideoEnabled:     state.Video,
		NeedsRejoin:      c.joined && c.progress.ChannelReady && c.joinedGen != c.connGen,
		ServerError:      c.serverErr,
	}
}

// publish stores the current snapshot and offers it on Updates, replacing
// any value the reader has not taken yet.
func (c *Call) publish() {
	snap := c.buildSnapshot()

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	select {
	case c.updates <- snap:
		return
	default:
	}
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- snap:
	default:
	}
}
