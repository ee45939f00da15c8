package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max round input / relayed response length (runes).
	maxInputChars    = 4000
	maxResponseChars = 32000

	// Max display name length (runes); longer names are truncated.
	maxNameChars = 64
)

const (
	// Heartbeat defaults (overridable via GatewayConfig).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// user_input budget inside the same window.
	rateLimitInputEvents = 20
)

const (
	defaultRoomID   = "default"
	defaultUserName = "Anonymous"
)
