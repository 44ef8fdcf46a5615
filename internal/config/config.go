// Package config holds the server-level settings. Provider settings live
// next to their adapters; this covers what the process itself needs to boot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultPort          = "8080"
	defaultEnvironment   = "development"
	defaultSweepInterval = 30 * time.Minute
)

// Config is the env-backed server configuration.
type Config struct {
	Port        string
	Environment string

	// MongoURI empty means the in-memory repository serves as storage.
	MongoURI      string
	MongoDatabase string

	JWTSecret string

	SweepInterval time.Duration
}

// Load reads the configuration from the environment, applying defaults.
func Load() Config {
	cfg := Config{
		Port:          getEnv("PORT", defaultPort),
		Environment:   getEnv("APP_ENV", defaultEnvironment),
		MongoURI:      os.Getenv("MONGODB_URI"),
		MongoDatabase: getEnv("MONGODB_DATABASE", "kintsugi"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		SweepInterval: defaultSweepInterval,
	}

	if raw := os.Getenv("SESSION_SWEEP_INTERVAL_MINUTES"); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			cfg.SweepInterval = time.Duration(minutes) * time.Minute
		}
	}

	return cfg
}

// Validate rejects configurations the server cannot safely run with.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.JWTSecret == "" {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.MongoURI != "" && c.MongoDatabase == "" {
		return fmt.Errorf("MONGODB_DATABASE is required when MONGODB_URI is set")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
