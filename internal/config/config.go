// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Storage. DatabaseURL selects PostgreSQL; SQLitePath selects a file
	// database; with neither set the server runs fully in-memory.
	DatabaseURL string
	SQLitePath  string

	// Session lifecycle
	SessionTimeout       time.Duration // inactivity before a session expires
	SessionSweepInterval time.Duration // how often idle sessions are evicted

	// Authorization rules
	MaxPINAttempts int

	// Security
	AdminSecret  string // guards admin endpoints
	RateLimitRPM int
}

// Defaults.
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultSessionTimeout = 30 * time.Second
	DefaultSweepInterval  = 5 * time.Minute
	DefaultMaxPINAttempts = 3
	DefaultRateLimit      = 60
)

// Load reads configuration from environment variables.
// It loads a .env file first if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		SQLitePath:           os.Getenv("SQLITE_PATH"),
		SessionTimeout:       getEnvDuration("SESSION_TIMEOUT", DefaultSessionTimeout),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", DefaultSweepInterval),
		MaxPINAttempts:       getEnvInt("MAX_PIN_ATTEMPTS", DefaultMaxPINAttempts),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:         getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive")
	}
	if c.MaxPINAttempts < 1 {
		return fmt.Errorf("MAX_PIN_ATTEMPTS must be at least 1")
	}
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		return fmt.Errorf("DATABASE_URL and SQLITE_PATH are mutually exclusive")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
