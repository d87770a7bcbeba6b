package app

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{
		"CELLAR_HTTP_ADDR", "CELLAR_LOG_LEVEL", "CELLAR_SERVER_URL", "CELLAR_WS_URL",
		"CELLAR_DATA_DIR", "CELLAR_STORE", "CELLAR_ORIGIN", "CELLAR_ACTOR", "CELLAR_TOPIC",
		"CELLAR_RETRY_BASE", "CELLAR_RETRY_MAX_DELAY", "CELLAR_RETRY_MAX_ATTEMPTS",
		"CELLAR_RETRY_JITTER", "CELLAR_WS_HEARTBEAT_INTERVAL", "CELLAR_WS_RECONNECT_BASE",
		"CELLAR_WS_MAX_RECONNECTS", "CELLAR_DISCONNECT_ON_OFFLINE",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:7979" {
		t.Errorf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel=%q", cfg.LogLevel)
	}
	if cfg.StoreBackend != StoreBolt {
		t.Errorf("StoreBackend=%q", cfg.StoreBackend)
	}
	if cfg.DefaultTopic != "cellar.inventory" {
		t.Errorf("DefaultTopic=%q", cfg.DefaultTopic)
	}
	if cfg.Origin == "" {
		t.Errorf("Origin must get a generated default")
	}
	if cfg.Actor == "" {
		t.Errorf("Actor must default to hostname or crew")
	}

	if cfg.RetryBase != 2*time.Second || cfg.RetryMaxDelay != 60*time.Second {
		t.Errorf("retry backoff defaults: base=%v max=%v", cfg.RetryBase, cfg.RetryMaxDelay)
	}
	if cfg.RetryMaxAttempts != 5 || !cfg.RetryJitter {
		t.Errorf("retry defaults: attempts=%d jitter=%v", cfg.RetryMaxAttempts, cfg.RetryJitter)
	}

	if cfg.HeartbeatInterval != 25*time.Second {
		t.Errorf("HeartbeatInterval=%v", cfg.HeartbeatInterval)
	}
	if cfg.ReconnectBase != 5*time.Second || cfg.MaxReconnectAttempts != 10 {
		t.Errorf("reconnect defaults: base=%v max=%d", cfg.ReconnectBase, cfg.MaxReconnectAttempts)
	}
	if cfg.DisconnectOnOffline {
		t.Errorf("DisconnectOnOffline must default off")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CELLAR_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("CELLAR_STORE", StoreSQLite)
	t.Setenv("CELLAR_ORIGIN", "galley-tablet")
	t.Setenv("CELLAR_RETRY_MAX_ATTEMPTS", "8")
	t.Setenv("CELLAR_RETRY_JITTER", "false")
	t.Setenv("CELLAR_WS_RECONNECT_BASE", "1s")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Errorf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.StoreBackend != StoreSQLite {
		t.Errorf("StoreBackend=%q", cfg.StoreBackend)
	}
	if cfg.Origin != "galley-tablet" {
		t.Errorf("Origin=%q", cfg.Origin)
	}
	if cfg.RetryMaxAttempts != 8 || cfg.RetryJitter {
		t.Errorf("retry overrides lost: attempts=%d jitter=%v", cfg.RetryMaxAttempts, cfg.RetryJitter)
	}
	if cfg.ReconnectBase != time.Second {
		t.Errorf("ReconnectBase=%v", cfg.ReconnectBase)
	}
}
