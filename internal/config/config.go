package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ProxyAddr     string
	DashboardAddr string
	LogLevel      string
	LedgerPath    string
	RedisURL      string
	DatabaseURL   string
	OTLPEndpoint  string

	// UpstreamTimeout bounds a whole proxied request. Zero disables
	// the overall deadline; streams need that.
	UpstreamTimeout time.Duration

	// Graceful shutdown
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		ProxyAddr:       getEnv("PROXY_ADDR", ":4000"),
		DashboardAddr:   getEnv("DASHBOARD_ADDR", ":4001"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LedgerPath:      getEnv("LEDGER_PATH", "data/usage_history.json"),
		RedisURL:        getEnv("REDIS_URL", ""),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		OTLPEndpoint:    getEnv("OTLP_ENDPOINT", ""),
		UpstreamTimeout: getDurationEnv("UPSTREAM_TIMEOUT", 0),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
