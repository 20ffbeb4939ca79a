package call

// Status is the overall state of a call as shown to the user.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusWaiting      Status = "waiting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
	StatusDisconnected Status = "disconnected"
)

// Progress is the local initialization state that feeds Aggregate.
type Progress struct {
	MediaReady   bool
	ChannelReady bool

	// Err is terminal until the call is re-created.
	Err error

	TornDown bool
}

// Aggregate derives the call status from local progress and the states of
// the tracked sessions.
func Aggregate(p Progress, sessions []SessionState) Status {
	switch {
	case p.TornDown:
		return StatusDisconnected
	case p.Err != nil:
		return StatusError
	case !p.MediaReady || !p.ChannelReady:
		return StatusConnecting
	}
	for _, s := range sessions {
		if s == SessionConnected {
			return StatusConnected
		}
	}
	return StatusWaiting
}
