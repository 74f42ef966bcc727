package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the pagevault server.
type Config struct {
	// HTTP server settings
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Session validation
	SessionToken string

	// Storage settings
	CacheDir string

	// Capture behavior
	NavigateTimeoutMS  int
	DOMReadyTimeoutMS  int
	NetworkIdleMS      int
	SettleDelayMS      int
	EarlySnapshotMS    int
	BodyReadTimeoutMS  int
	ResourceMaxBytes   int
	EnhancerConcurrent int

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:           getEnvOrDefault("PAGEVAULT_BIND_ADDR", "127.0.0.1:8420"),
		PortCandidates:     getEnvListOrDefault("PAGEVAULT_PORT_CANDIDATES", []string{"127.0.0.1:8420", "127.0.0.1:8421", "127.0.0.1:8422"}),
		PortAutoFallback:   getEnvBoolOrDefault("PAGEVAULT_PORT_AUTO_FALLBACK", true),
		SessionToken:       getEnvOrDefault("PAGEVAULT_SESSION_TOKEN", ""),
		CacheDir:           getEnvOrDefault("PAGEVAULT_CACHE_DIR", "./captured_sites"),
		NavigateTimeoutMS:  getEnvIntOrDefault("PAGEVAULT_NAVIGATE_TIMEOUT_MS", 15000),
		DOMReadyTimeoutMS:  getEnvIntOrDefault("PAGEVAULT_DOM_READY_TIMEOUT_MS", 10000),
		NetworkIdleMS:      getEnvIntOrDefault("PAGEVAULT_NETWORK_IDLE_MS", 8000),
		SettleDelayMS:      getEnvIntOrDefault("PAGEVAULT_SETTLE_DELAY_MS", 3000),
		EarlySnapshotMS:    getEnvIntOrDefault("PAGEVAULT_EARLY_SNAPSHOT_MS", 2000),
		BodyReadTimeoutMS:  getEnvIntOrDefault("PAGEVAULT_BODY_READ_TIMEOUT_MS", 10000),
		ResourceMaxBytes:   getEnvIntOrDefault("PAGEVAULT_RESOURCE_MAX_BYTES", 25*1024*1024),
		EnhancerConcurrent: getEnvIntOrDefault("PAGEVAULT_ENHANCER_CONCURRENCY", 4),
		LogLevel:           getEnvOrDefault("PAGEVAULT_LOG_LEVEL", "info"),
		LogFile:            getEnvOrDefault("PAGEVAULT_LOG_FILE", "logs/pagevault.log"),
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
