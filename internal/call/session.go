package call

import (
	"encoding/json"
	"fmt"

	"github.com/BioHazard786/meshcall/internal/webrtc"
)

// SessionState is the lifecycle state of a PeerSession.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionNegotiating
	SessionConnected
	SessionClosed
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionNegotiating:
		return "negotiating"
	case SessionConnected:
		return "connected"
	case SessionClosed:
		return "closed"
	case SessionFailed:
		return "failed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool {
	return s == SessionClosed || s == SessionFailed
}

// canTransition reports whether from -> to is a legal lifecycle step.
func canTransition(from, to SessionState) bool {
	switch to {
	case SessionNegotiating:
		return from == SessionIdle
	case SessionConnected:
		return from == SessionNegotiating
	case SessionFailed:
		return from == SessionNegotiating || from == SessionConnected
	case SessionClosed:
		return !from.Terminal()
	default:
		return false
	}
}

// PeerSession tracks the media link to one remote participant. It is owned
// by the call's event loop and never touched from other goroutines.
type PeerSession struct {
	RemoteID   string
	RemoteName string

	state     SessionState
	initiator bool
	polite    bool
	err       error

	remoteMedia webrtc.MediaState

	// remote is owned by the transport; dropped when the session ends.
	remote *webrtc.RemoteStream

	// pending holds outbound payloads produced while the channel was down.
	pending []json.RawMessage

	transport TransportSession
}

func newPeerSession(id, name string, initiator, polite bool) *PeerSession {
	return &PeerSession{
		RemoteID:    id,
		RemoteName:  name,
		initiator:   initiator,
		polite:      polite,
		remoteMedia: webrtc.MediaState{Audio: true, Video: true},
	}
}

func (s *PeerSession) State() SessionState { return s.state }

func (s *PeerSession) Initiator() bool { return s.initiator }

func (s *PeerSession) Polite() bool { return s.polite }

// Err is the failure that ended the session, if any.
func (s *PeerSession) Err() error { return s.err }

func (s *PeerSession) transition(to SessionState) bool {
	if !canTransition(s.state, to) {
		return false
	}
	s.state = to
	return true
}

func (s *PeerSession) enqueue(data json.RawMessage) {
	s.pending = append(s.pending, data)
}

// takePending returns queued payloads in the order they were produced.
func (s *PeerSession) takePending() []json.RawMessage {
	p := s.pending
	s.pending = nil
	return p
}

// end moves the session to a terminal state and releases the transport.
func (s *PeerSession) end(to SessionState, err error) {
	if !s.transition(to) {
		return
	}
	s.err = err
	s.remote = nil
	s.pending = nil
	if s.transport != nil {
		s.transport.Close()
		s.transport = nil
	}
}
