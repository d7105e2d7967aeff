// Package config loads relay server settings from the environment, with an
// optional .env file for development.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds everything the relay server needs at startup.
type Config struct {
	ListenAddr   string
	RedisURL     string
	JWTSecret    string
	LogLevel     string
	LogFormat    string
	AllowOrigins []string
}

// Load reads configuration from a .env file (if present) and the environment.
func Load() *Config {
	// A missing .env is not an error; production sets real env vars.
	_ = godotenv.Load()

	return &Config{
		ListenAddr:   getEnv("RELAY_LISTEN_ADDR", ":8001"),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/1"),
		JWTSecret:    getEnv("JWT_SECRET", "dev-secret"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		AllowOrigins: splitList(getEnv("ALLOW_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
