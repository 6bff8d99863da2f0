package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	LogLevel string

	TokenIssueURL string
	SessionHeader string
	SessionValue  string

	TaskStorePath string

	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	ReconnectDelay   time.Duration
	MaxReconnects    int
	DebounceWindow   time.Duration

	MetricsPort string
}

func Load() Config {
	return Config{
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		TokenIssueURL: mustEnv("TOKEN_ISSUE_URL", "http://localhost:8080/api/ws-token"),
		SessionHeader: mustEnv("SESSION_HEADER", "Cookie"),
		SessionValue:  mustEnv("SESSION_VALUE", ""),

		TaskStorePath: mustEnv("TASKSTORE_PATH", "./data/tracked_tasks.db"),

		HandshakeTimeout: mustEnvSeconds("HANDSHAKE_TIMEOUT_SECONDS", 10),
		IdleTimeout:      mustEnvSeconds("IDLE_TIMEOUT_SECONDS", 25*60),
		ReconnectDelay:   mustEnvSeconds("RECONNECT_DELAY_SECONDS", 3),
		MaxReconnects:    mustEnvInt("MAX_RECONNECTS", 5),
		DebounceWindow:   mustEnvMillis("DEBOUNCE_WINDOW_MS", 100),

		MetricsPort: mustEnv("METRICS_PORT", "9090"),
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(mustEnvInt(key, fallback)) * time.Second
}

func mustEnvMillis(key string, fallback int) time.Duration {
	return time.Duration(mustEnvInt(key, fallback)) * time.Millisecond
}
