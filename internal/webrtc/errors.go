package webrtc

import "errors"

var (
	ErrSessionClosed    = errors.New("session closed")
	ErrConnectivity     = errors.New("peer connectivity failed")
	ErrUnexpectedSignal = errors.New("unexpected signal type")
)
