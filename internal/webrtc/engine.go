// Package webrtc is the media transport engine: one pion PeerConnection per
// remote participant, negotiated without trickle ICE over the signaling
// channel, plus a msgpack control data channel for media-state updates.
package webrtc

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v4"
)

const (
	controlLabel     = "control"
	controlChannelID = uint16(0)

	// gatherTimeout bounds how long a description waits for ICE gathering
	// before being sent with the candidates found so far.
	gatherTimeout = 10 * time.Second
)

// EngineOptions configure an Engine.
type EngineOptions struct {
	STUNServers []string
	Logger      *slog.Logger

	// Configure adjusts the pion SettingEngine, e.g. to run on a virtual
	// network.
	Configure func(*pion.SettingEngine)
}

// Engine creates media sessions. It is safe for concurrent use.
type Engine struct {
	api    *pion.API
	config pion.Configuration
	log    *slog.Logger
}

// NewEngine builds a pion API with the default codecs and interceptors.
func NewEngine(opts EngineOptions) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "webrtc")

	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := pion.SettingEngine{LoggerFactory: slogFactory{log: log}}
	if opts.Configure != nil {
		opts.Configure(&se)
	}

	var iceServers []pion.ICEServer
	if len(opts.STUNServers) > 0 {
		iceServers = []pion.ICEServer{{URLs: opts.STUNServers}}
	}

	return &Engine{
		api: pion.NewAPI(
			pion.WithMediaEngine(m),
			pion.WithInterceptorRegistry(registry),
			pion.WithSettingEngine(se),
		),
		config: pion.Configuration{ICEServers: iceServers},
		log:    log,
	}, nil
}

func (e *Engine) newPeerConnection() (*pion.PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return pc, nil
}
