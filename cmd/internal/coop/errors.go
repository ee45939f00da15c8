package coop

import "errors"

// Failures are never fatal: they degrade the session to disconnected or to a no-op
// and are reported through the logger.
var (
	// ErrNotConfigured is the configuration error: no server address.
	ErrNotConfigured = errors.New("coop: server url is not configured")
	// ErrNotConnected is returned by sends attempted without an open link.
	ErrNotConnected = errors.New("coop: not connected")
	// ErrLinkClosed is returned by a link after Close or a transport failure.
	ErrLinkClosed = errors.New("coop: link closed")
	// ErrSendQueueFull is returned when a link cannot accept more outbound frames.
	ErrSendQueueFull = errors.New("coop: send queue full")
)
