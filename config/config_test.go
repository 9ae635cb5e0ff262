package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "incentives.db", cfg.DBPath)
	assert.Equal(t, 5*time.Minute, cfg.RecomputeInterval)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:3000"}, cfg.CORSOrigins)
	assert.False(t, cfg.DevScenarios)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RECOMPUTE_INTERVAL", "30s")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("DEV_SCENARIOS", "false")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.0001)
	assert.Equal(t, 30*time.Second, cfg.RecomputeInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.False(t, cfg.DevScenarios)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("RATE_LIMIT_BURST", "0")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RECOMPUTE_INTERVAL", "soon")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_DefaultSecretNeedsDevScenarios(t *testing.T) {
	// GIVEN: no JWT_SECRET and scenarios off
	// THEN: the well-known default secret is refused
	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	// GIVEN: scenarios explicitly enabled for local development
	t.Setenv("DEV_SCENARIOS", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, devSecret, cfg.JWTSecret)
	assert.True(t, cfg.DevScenarios)
}
