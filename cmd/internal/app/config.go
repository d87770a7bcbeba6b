package app

import (
	"os"
	"time"

	"github.com/google/uuid"
)

// Store backend selectors.
const (
	StoreBolt   = "bolt"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config contains all runtime configuration loaded from environment
// variables. It is passed explicitly to constructors; there is no shared
// module-level state.
type Config struct {
	HTTPAddr string
	LogLevel string

	// ServerBaseURL is where mutations are delivered; WSURL is the
	// realtime endpoint.
	ServerBaseURL string
	WSURL         string

	// DataDir holds the durable outbox file; StoreBackend selects its
	// engine.
	DataDir      string
	StoreBackend string

	// Origin tags this installation in sync metadata; Actor identifies
	// the device/crew member.
	Origin string
	Actor  string

	DefaultTopic string

	RetryBase        time.Duration
	RetryMaxDelay    time.Duration
	RetryMaxAttempts int
	RetryJitter      bool

	HeartbeatInterval    time.Duration
	ReconnectBase        time.Duration
	MaxReconnectAttempts int

	// DisconnectOnOffline tears the realtime link down eagerly on a
	// network-offline signal.
	DisconnectOnOffline bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("CELLAR_HTTP_ADDR", "127.0.0.1:7979"),
		LogLevel: EnvString("CELLAR_LOG_LEVEL", "info"),

		ServerBaseURL: EnvString("CELLAR_SERVER_URL", "http://localhost:8080"),
		WSURL:         EnvString("CELLAR_WS_URL", "ws://localhost:8080/sync"),

		DataDir:      EnvString("CELLAR_DATA_DIR", "./data"),
		StoreBackend: EnvString("CELLAR_STORE", StoreBolt),

		Origin: EnvString("CELLAR_ORIGIN", uuid.NewString()),
		Actor:  EnvString("CELLAR_ACTOR", defaultActor()),

		DefaultTopic: EnvString("CELLAR_TOPIC", "cellar.inventory"),

		RetryBase:        EnvDuration("CELLAR_RETRY_BASE", 2*time.Second),
		RetryMaxDelay:    EnvDuration("CELLAR_RETRY_MAX_DELAY", 60*time.Second),
		RetryMaxAttempts: EnvInt("CELLAR_RETRY_MAX_ATTEMPTS", 5),
		RetryJitter:      EnvBool("CELLAR_RETRY_JITTER", true),

		HeartbeatInterval:    EnvDuration("CELLAR_WS_HEARTBEAT_INTERVAL", 25*time.Second),
		ReconnectBase:        EnvDuration("CELLAR_WS_RECONNECT_BASE", 5*time.Second),
		MaxReconnectAttempts: EnvInt("CELLAR_WS_MAX_RECONNECTS", 10),

		DisconnectOnOffline: EnvBool("CELLAR_DISCONNECT_ON_OFFLINE", false),
	}
}

func defaultActor() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "crew"
	}
	return host
}
