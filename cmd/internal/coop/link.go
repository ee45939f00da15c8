package coop

import "context"

// Dialer opens transport links to the coordination point.
type Dialer interface {
	Dial(ctx context.Context, url string) (Link, error)
}

// Link is one open transport channel. Frames are delivered to the LinkEvents given
// to Start; nothing is read before Start so no frame can precede the handshake.
type Link interface {
	Start(events LinkEvents)
	// Send queues one frame without blocking on the network.
	Send(frame []byte) error
	// Close releases the link. It does not report OnClose back to the caller.
	Close() error
}

// LinkEvents receives transport callbacks. A nil error on OnClose means the
// peer closed cleanly; anything else is a transport failure.
type LinkEvents interface {
	OnMessage(frame []byte)
	OnClose(err error)
}
