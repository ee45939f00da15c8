package coop

// Status is the local session status. Exactly one value is active at a time.
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusWaiting
	StatusGenerating
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusWaiting:
		return "waiting"
	case StatusGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

// linked reports whether a transport link is open in this status.
func (s Status) linked() bool {
	return s == StatusConnected || s == StatusWaiting || s == StatusGenerating
}
