package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 10 * time.Minute

	// Participants are usually CLI or desktop processes that send no Origin,
	// so Origin is optional by default; browser origins are still allowlisted.
	wsDefaultOriginRequired = false
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// GatewayConfig holds WSGateway knobs. Zero values fall back to defaults.
type GatewayConfig struct {
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
	// RateInputEvents caps user_input envelopes per window inside RateEvents.
	RateInputEvents int
}

// DefaultGatewayConfig returns the built-in defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:   wsDefaultOriginRequired,
		AllowedOrigins:   splitCSV(wsDefaultAllowedOrigins),
		WriteTimeout:     wsDefaultWriteTimeout,
		ReadIdleTimeout:  wsDefaultReadIdle,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
		RateInputEvents:  rateLimitInputEvents,
	}
}

// LoadGatewayConfigFromEnv reads COOP_WS_* variables over the defaults.
func LoadGatewayConfigFromEnv() GatewayConfig {
	d := DefaultGatewayConfig()
	return GatewayConfig{
		// NOTE: InsecureSkipVerify is a dev-only knob. It disables the library's own origin check.
		DevInsecure:    envBoolWS("COOP_WS_DEV_INSECURE", false),
		OriginRequired: envBoolWS("COOP_WS_ORIGIN_REQUIRED", d.OriginRequired),
		AllowedOrigins: envCSVWS("COOP_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins),

		WriteTimeout:    envDurationWS("COOP_WS_WRITE_TIMEOUT", d.WriteTimeout),
		ReadIdleTimeout: envDurationWS("COOP_WS_READ_IDLE_TIMEOUT", d.ReadIdleTimeout),
		SendQueueSize:   envIntWS("COOP_WS_SEND_QUEUE", d.SendQueueSize),

		HeartbeatEvery:   envDurationWS("COOP_WS_HEARTBEAT_INTERVAL", d.HeartbeatEvery),
		HeartbeatTimeout: envDurationWS("COOP_WS_HEARTBEAT_TIMEOUT", d.HeartbeatTimeout),

		RateEvents: envIntWS("COOP_WS_RATE_EVENTS", d.RateEvents),
		RateWindow: envDurationWS("COOP_WS_RATE_WINDOW", d.RateWindow),

		RateInputEvents: envIntWS("COOP_WS_RATE_INPUT_EVENTS", d.RateInputEvents),
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	d := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.RateInputEvents <= 0 {
		c.RateInputEvents = d.RateInputEvents
	}
	return c
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	return splitCSV(raw)
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
