package signaling

import "errors"

var (
	// ErrRoutingMiss means the recipient of a signal is not a current member
	// of the room. It is expected during departures and never surfaced to
	// the sender.
	ErrRoutingMiss = errors.New("recipient not in room")

	// ErrQueueFull means the recipient's outbound queue could not take the
	// message.
	ErrQueueFull = errors.New("recipient queue full")
)
