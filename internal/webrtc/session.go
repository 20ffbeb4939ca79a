package webrtc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	pion "github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/BioHazard786/meshcall/internal/media"
)

// SessionOptions configure one media session.
type SessionOptions struct {
	// Initiator sessions send the first offer.
	Initiator bool

	// Polite sessions give way when both sides offer at once: the local
	// offer is discarded and the remote one answered.
	Polite bool

	// Local is attached to the session; nil means receive only.
	Local *media.LocalStream

	// Peer names the remote side in logs.
	Peer string
}

// Events are invoked from pion goroutines and must not block.
type Events struct {
	OnSignal     func(data json.RawMessage)
	OnStream     func(*RemoteStream)
	OnMediaState func(MediaState)
	OnError      func(error)
	OnClose      func()
}

// RemoteStream is the media arriving from the remote participant.
type RemoteStream struct {
	ID string

	mu     sync.Mutex
	tracks []*pion.TrackRemote
}

// Tracks returns the remote tracks received so far.
func (r *RemoteStream) Tracks() []*pion.TrackRemote {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*pion.TrackRemote(nil), r.tracks...)
}

func (r *RemoteStream) add(t *pion.TrackRemote) {
	r.mu.Lock()
	r.tracks = append(r.tracks, t)
	r.mu.Unlock()
}

// peerConn is one PeerConnection generation. A polite session replaces its
// peerConn when it yields to a colliding offer.
type peerConn struct {
	pc      *pion.PeerConnection
	control *pion.DataChannel
	done    chan struct{}
	once    sync.Once
}

func (c *peerConn) close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.pc.Close()
	})
	return err
}

// Session is a media link to one remote participant.
type Session struct {
	engine *Engine
	opts   SessionOptions
	events Events
	log    *slog.Logger

	mu          sync.Mutex
	conn        *peerConn
	closed      bool
	makingOffer bool
	controlOpen bool
	mediaState  *MediaState
	remote      *RemoteStream
}

// NewSession creates a session; initiators start offering immediately.
func (e *Engine) NewSession(opts SessionOptions, events Events) (*Session, error) {
	s := &Session{
		engine: e,
		opts:   opts,
		events: events,
		log:    e.log.With("peer", opts.Peer),
	}

	conn, err := s.build()
	if err != nil {
		return nil, err
	}
	s.conn = conn
	if opts.Initiator {
		s.makingOffer = true
		go s.offer(conn)
	}
	return s, nil
}

func (s *Session) build() (*peerConn, error) {
	pc, err := s.engine.newPeerConnection()
	if err != nil {
		return nil, err
	}
	c := &peerConn{pc: pc, done: make(chan struct{})}

	if s.opts.Local != nil {
		for _, t := range s.opts.Local.Tracks() {
			sender, err := pc.AddTrack(t.Local())
			if err != nil {
				pc.Close()
				return nil, fmt.Errorf("add %s track: %w", t.Kind(), err)
			}
			go drainRTCP(sender)
		}
	} else {
		recvOnly := pion.RTPTransceiverInit{Direction: pion.RTPTransceiverDirectionRecvonly}
		for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeAudio, pion.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, recvOnly); err != nil {
				pc.Close()
				return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
	}

	negotiated := true
	id := controlChannelID
	dc, err := pc.CreateDataChannel(controlLabel, &pion.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create control channel: %w", err)
	}
	c.control = dc

	dc.OnOpen(func() { s.controlOpened(c) })
	dc.OnMessage(func(msg pion.DataChannelMessage) { s.handleControl(c, msg.Data) })
	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) { s.handleTrack(c, track) })
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) { s.handleState(c, state) })

	return c, nil
}

func (s *Session) currentLocked(c *peerConn) bool {
	return !s.closed && s.conn == c
}

func (s *Session) isCurrent(c *peerConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(c)
}

// Signal applies a description received from the remote side.
func (s *Session) Signal(data json.RawMessage) error {
	var desc pion.SessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedSignal, err)
	}

	switch desc.Type {
	case pion.SDPTypeOffer:
		return s.handleOffer(desc)
	case pion.SDPTypeAnswer:
		return s.handleAnswer(desc)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedSignal, desc.Type)
	}
}

func (s *Session) handleOffer(offer pion.SessionDescription) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	c := s.conn
	collision := s.makingOffer || c.pc.SignalingState() != pion.SignalingStateStable
	s.mu.Unlock()

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(offer.SDP)); err != nil {
		return fmt.Errorf("%w: offer: %v", ErrUnexpectedSignal, err)
	}
	s.log.Debug("Offer received", "media", len(parsed.MediaDescriptions), "collision", collision)

	if collision && !s.opts.Polite {
		s.log.Debug("Ignoring colliding offer")
		return nil
	}

	if collision {
		s.log.Debug("Offer collision, answering as polite peer")
		fresh, err := s.build()
		if err != nil {
			return err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			fresh.close()
			return ErrSessionClosed
		}
		old := s.conn
		s.conn = fresh
		s.makingOffer = false
		s.controlOpen = false
		s.remote = nil
		s.mu.Unlock()

		old.close()
		c = fresh
	}

	go s.answer(c, offer)
	return nil
}

func (s *Session) handleAnswer(answer pion.SessionDescription) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	c := s.conn
	s.mu.Unlock()

	if c.pc.SignalingState() != pion.SignalingStateHaveLocalOffer {
		s.log.Debug("Ignoring answer without a pending offer")
		return nil
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (s *Session) offer(c *peerConn) {
	desc, err := s.describe(c, func() (pion.SessionDescription, error) {
		return c.pc.CreateOffer(nil)
	})

	s.mu.Lock()
	current := s.currentLocked(c)
	if current {
		s.makingOffer = false
	}
	s.mu.Unlock()

	if !current {
		return
	}
	if err != nil {
		s.fail(c, fmt.Errorf("create offer: %w", err))
		return
	}
	s.emitSignal(desc)
}

func (s *Session) answer(c *peerConn, offer pion.SessionDescription) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		s.fail(c, fmt.Errorf("set remote offer: %w", err))
		return
	}

	desc, err := s.describe(c, func() (pion.SessionDescription, error) {
		return c.pc.CreateAnswer(nil)
	})
	if !s.isCurrent(c) {
		return
	}
	if err != nil {
		s.fail(c, fmt.Errorf("create answer: %w", err))
		return
	}
	s.emitSignal(desc)
}

// describe sets a local description and waits for ICE gathering, so the
// result carries every candidate and no trickle messages are needed.
func (s *Session) describe(c *peerConn, create func() (pion.SessionDescription, error)) (*pion.SessionDescription, error) {
	desc, err := create()
	if err != nil {
		return nil, err
	}

	gathered := pion.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	timer := time.NewTimer(gatherTimeout)
	defer timer.Stop()

	select {
	case <-gathered:
	case <-timer.C:
		s.log.Warn("ICE gathering timed out, sending partial candidates")
	case <-c.done:
		return nil, ErrSessionClosed
	}
	return c.pc.LocalDescription(), nil
}

func (s *Session) emitSignal(desc *pion.SessionDescription) {
	data, err := json.Marshal(desc)
	if err != nil {
		s.log.Error("Failed to encode description", "error", err)
		return
	}
	s.log.Debug("Emitting description", "type", desc.Type.String())
	if s.events.OnSignal != nil {
		s.events.OnSignal(data)
	}
}

func (s *Session) handleTrack(c *peerConn, track *pion.TrackRemote) {
	go drainTrack(track)

	s.mu.Lock()
	if !s.currentLocked(c) {
		s.mu.Unlock()
		return
	}
	first := s.remote == nil
	if first {
		s.remote = &RemoteStream{ID: track.StreamID()}
	}
	remote := s.remote
	s.mu.Unlock()

	remote.add(track)
	s.log.Debug("Remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)

	// Ask for a keyframe so the first video frames decode.
	if track.Kind() == pion.RTPCodecTypeVideo {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := c.pc.WriteRTCP(pli); err != nil {
			s.log.Debug("Keyframe request failed", "error", err)
		}
	}
	if first && s.events.OnStream != nil {
		s.events.OnStream(remote)
	}
}

func (s *Session) handleState(c *peerConn, state pion.PeerConnectionState) {
	s.log.Debug("Connection state changed", "state", state.String())

	switch state {
	case pion.PeerConnectionStateFailed:
		s.fail(c, ErrConnectivity)
	case pion.PeerConnectionStateClosed:
		if s.isCurrent(c) && s.events.OnClose != nil {
			s.events.OnClose()
		}
	}
}

func (s *Session) fail(c *peerConn, err error) {
	if !s.isCurrent(c) {
		return
	}
	s.log.Warn("Session failed", "error", err)
	if s.events.OnError != nil {
		s.events.OnError(err)
	}
}

func (s *Session) controlOpened(c *peerConn) {
	s.mu.Lock()
	if !s.currentLocked(c) {
		s.mu.Unlock()
		return
	}
	s.controlOpen = true
	state := s.mediaState
	s.mu.Unlock()

	if state != nil {
		if err := s.sendControl(c, TypeMediaState, *state); err != nil {
			s.log.Warn("Failed to send media state", "error", err)
		}
	}
}

// SendMediaState announces the local media state. Before the control
// channel opens only the latest state is kept and sent on open.
func (s *Session) SendMediaState(state MediaState) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mediaState = &state
	open, c := s.controlOpen, s.conn
	s.mu.Unlock()

	if !open {
		return nil
	}
	return s.sendControl(c, TypeMediaState, state)
}

func (s *Session) sendControl(c *peerConn, t string, payload any) error {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return err
	}
	b, err := msgpack.Marshal(msg)
	if err != nil {
		return err
	}
	return c.control.Send(b)
}

func (s *Session) handleControl(c *peerConn, data []byte) {
	if !s.isCurrent(c) {
		return
	}

	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		s.log.Warn("Malformed control message", "error", err)
		return
	}

	switch msg.Type {
	case TypeMediaState:
		var state MediaState
		if err := msg.DecodePayload(&state); err != nil {
			s.log.Warn("Malformed media state", "error", err)
			return
		}
		if s.events.OnMediaState != nil {
			s.events.OnMediaState(state)
		}
	default:
		s.log.Debug("Unknown control message", "type", msg.Type)
	}
}

// Remote returns the remote stream, or nil before media has arrived.
func (s *Session) Remote() *RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Close tears the session down. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	c := s.conn
	s.mu.Unlock()

	return c.close()
}

func (s *Session) signalingState() pion.SignalingState {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	return c.pc.SignalingState()
}

// drainRTCP keeps the sender's interceptors running.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// drainTrack consumes remote RTP; a terminal client has nothing to render it on.
func drainTrack(track *pion.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
