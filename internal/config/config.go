package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings, loaded from the environment.
type Config struct {
	MongoURI  string
	MongoDB   string
	RedisAddr string
	HTTPPort  string

	JWTSecret string

	// PresenceTTL bounds how long a player stays "online" without a
	// heartbeat or any other inbound action.
	PresenceTTL time.Duration
	// StateTTL is the idle expiry for session live state.
	StateTTL time.Duration

	// AgreementThreshold is the ratio at which a revealed round's mode
	// vote is auto-accepted as the item's final estimate.
	AgreementThreshold float64

	StoreTimeout time.Duration
}

func Load() *Config {
	return &Config{
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:            getEnv("MONGO_DB", "pointingpoker"),
		RedisAddr:          normalizeRedisAddr(getEnv("REDIS_ADDR", "localhost:6379")),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		JWTSecret:          getEnv("JWT_SECRET", "super-secret-key-change-in-production"),
		PresenceTTL:        getDuration("PRESENCE_TTL", 2*time.Minute),
		StateTTL:           getDuration("STATE_TTL", 24*time.Hour),
		AgreementThreshold: getFloat("AGREEMENT_THRESHOLD", 0.8),
		StoreTimeout:       getDuration("STORE_TIMEOUT", 3*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func normalizeRedisAddr(addr string) string {
	return strings.TrimPrefix(addr, "redis://")
}
