package realtime

import (
	"sync"

	v1 "github.com/ArimaSeiichi/SillyTavern-Co-op/shared/contracts/coop/v1"
)

// Client represents one connected participant link.
//
// Design notes:
// - Send is NOT closed by the server to avoid panics from concurrent broadcasters.
// - ParticipantID and Name are set once by the read loop before the client joins a room.
// - Close is idempotent.
type Client struct {
	ConnID        string
	ParticipantID string
	Name          string
	Send          chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID: connID,
		Send:   make(chan v1.Envelope, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// User returns the roster view of this client.
func (c *Client) User(isHost bool) v1.User {
	return v1.User{ID: c.ParticipantID, Name: c.Name, IsHost: isHost}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer tries a non-blocking enqueue.
func (c *Client) offer(env v1.Envelope) bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
