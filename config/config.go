// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the server settings. Command-line flags in cmd/server
// override Port and DBPath.
type Config struct {
	Port              string        `env:"PORT"               envDefault:"8080"`
	DBPath            string        `env:"DB_PATH"            envDefault:"incentives.db"`
	LogLevel          string        `env:"LOG_LEVEL"          envDefault:"info"`
	LogFormat         string        `env:"LOG_FORMAT"         envDefault:"text"`
	JWTSecret         string        `env:"JWT_SECRET"         envDefault:"dev-secret-change-me"`
	TokenTTL          time.Duration `env:"TOKEN_TTL"          envDefault:"24h"`
	RateLimitRPS      float64       `env:"RATE_LIMIT_RPS"     envDefault:"20"`
	RateLimitBurst    int           `env:"RATE_LIMIT_BURST"   envDefault:"40"`
	RecomputeInterval time.Duration `env:"RECOMPUTE_INTERVAL" envDefault:"5m"`
	CORSOrigins       []string      `env:"CORS_ORIGINS"       envDefault:"http://localhost:5173,http://localhost:3000" envSeparator:","`
	DevScenarios      bool          `env:"DEV_SCENARIOS"      envDefault:"false"`
}

// devSecret is the JWT_SECRET default. It is only accepted with DevScenarios.
const devSecret = "dev-secret-change-me"

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Port == "":
		return fmt.Errorf("PORT must not be empty")
	case c.JWTSecret == "":
		return fmt.Errorf("JWT_SECRET must not be empty")
	case c.JWTSecret == devSecret && !c.DevScenarios:
		return fmt.Errorf("JWT_SECRET must be set unless DEV_SCENARIOS is enabled")
	case c.RateLimitRPS < 0:
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	case c.RateLimitBurst < 1:
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1")
	case c.RecomputeInterval < 0:
		return fmt.Errorf("RECOMPUTE_INTERVAL must not be negative")
	}
	return nil
}
