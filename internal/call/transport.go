package call

import (
	"context"
	"encoding/json"

	"github.com/BioHazard786/meshcall/internal/channel"
	"github.com/BioHazard786/meshcall/internal/webrtc"
)

// Channel is the real-time messaging channel to the signaling server.
type Channel interface {
	On(event string, fn channel.Handler)
	Connect(ctx context.Context)
	Emit(msgType string, payload any) error
	Disconnect()
}

// Transport creates media sessions toward remote participants.
type Transport interface {
	NewSession(opts webrtc.SessionOptions, events webrtc.Events) (TransportSession, error)
}

// TransportSession is one media session as seen by the call.
type TransportSession interface {
	Signal(data json.RawMessage) error
	SendMediaState(state webrtc.MediaState) error
	Close() error
}

// EngineTransport adapts a pion engine to Transport.
func EngineTransport(e *webrtc.Engine) Transport {
	return engineTransport{e}
}

type engineTransport struct {
	engine *webrtc.Engine
}

func (t engineTransport) NewSession(opts webrtc.SessionOptions, events webrtc.Events) (TransportSession, error) {
	s, err := t.engine.NewSession(opts, events)
	if err != nil {
		return nil, err
	}
	return s, nil
}
