package app

import (
	"time"

	"github.com/ArimaSeiichi/SillyTavern-Co-op/cmd/internal/realtime"
)

// Config contains the coordination server configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// If false, /metrics is not mounted. Collectors are still maintained.
	MetricsEnabled bool

	WS realtime.GatewayConfig
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("COOP_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("COOP_LOG_LEVEL", "info"),
		LogFormat: EnvString("COOP_LOG_FORMAT", LogFormatJSON),

		ReadHeaderTimeout: EnvDuration("COOP_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		// Websocket reads are bounded by the gateway; a server-wide read timeout would cut links.
		ReadTimeout:  EnvDuration("COOP_HTTP_READ_TIMEOUT", 0),
		WriteTimeout: EnvDuration("COOP_HTTP_WRITE_TIMEOUT", 0),
		IdleTimeout:  EnvDuration("COOP_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("COOP_HTTP_MAX_HEADER_BYTES", 1<<20),

		MetricsEnabled: EnvBool("COOP_METRICS_ENABLED", true),

		WS: realtime.LoadGatewayConfigFromEnv(),
	}
}

// ParticipantConfig configures `coop join`. Flags override these values.
type ParticipantConfig struct {
	ServerURL   string
	Session     string
	UserID      string
	UserName    string
	Quiescence  time.Duration
	// DialTimeout bounds connecting; zero leaves a stalled dial in connecting.
	DialTimeout time.Duration
	GenerateCmd string
	LogLevel    string
	LogFormat   string
}

// LoadParticipantConfig loads ParticipantConfig from environment variables with defaults.
func LoadParticipantConfig() ParticipantConfig {
	return ParticipantConfig{
		ServerURL:   EnvString("COOP_SERVER_URL", "ws://127.0.0.1:8080/ws"),
		Session:     EnvString("COOP_SESSION", ""),
		UserID:      EnvString("COOP_USER_ID", ""),
		UserName:    EnvString("COOP_USER_NAME", ""),
		Quiescence:  EnvDuration("COOP_QUIESCENCE", 5*time.Second),
		DialTimeout: EnvDuration("COOP_DIAL_TIMEOUT", 0),
		GenerateCmd: EnvString("COOP_GENERATE_CMD", ""),
		LogLevel:    EnvString("COOP_LOG_LEVEL", "info"),
		LogFormat:   EnvString("COOP_LOG_FORMAT", LogFormatAuto),
	}
}
