package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaychat/relaychat/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := config.Load()

	assert.Equal(t, ":8001", cfg.ListenAddr)
	assert.Equal(t, "redis://localhost:6379/1", cfg.RedisURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.AllowOrigins)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RELAY_LISTEN_ADDR", ":9999")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ALLOW_ORIGINS", "http://a.example, http://b.example")

	cfg := config.Load()

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowOrigins)
}
