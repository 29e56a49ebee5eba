// Package config provides configuration management for the cache service.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration to ensure the process starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Cache Configuration:
//   - CACHE_MAX_ENTRIES: Memory-tier capacity in entries (default: 1000)
//   - CACHE_CLEANUP_INTERVAL: Memory-tier cleanup interval (default: 60s)
//   - CACHE_DEFAULT_TTL: Default entry TTL (default: 1h)
//
// Warmup:
//   - WARMUP_SCHEDULE: Cron expression for scheduled warmup runs (empty disables)
//
// Security:
//   - ADMIN_JWT_SECRET: Secret for the admin API bearer tokens
//     (empty leaves the admin endpoints unauthenticated)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the cache service. All string
// fields correspond to environment variables that can be set to override the
// default values. Load the configuration with Load() and check it with
// Validate() before use.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)

	// Redis configuration for the shared cache tier
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)
	RedisPoolSize string // Redis connection pool size

	// Memory-tier configuration
	CacheMaxEntries      string // Capacity of the in-process tier, in entries
	CacheCleanupInterval string // Background cleanup interval (e.g. "60s")
	CacheDefaultTTL      string // Default TTL applied when a write names none

	// Warmup configuration
	WarmupSchedule string // Cron expression; empty disables scheduled warmup

	// Admin API authentication
	AdminJWTSecret string // Secret for admin bearer tokens; empty disables auth
}

// Load creates a new Config instance with values loaded from environment
// variables. If an environment variable is not set, the corresponding default
// value is used. This function does not validate the configuration - call
// Validate() on the returned Config before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		CacheMaxEntries:      getEnv("CACHE_MAX_ENTRIES", "1000"),
		CacheCleanupInterval: getEnv("CACHE_CLEANUP_INTERVAL", "60s"),
		CacheDefaultTTL:      getEnv("CACHE_DEFAULT_TTL", "1h"),

		WarmupSchedule: getEnv("WARMUP_SCHEDULE", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate performs validation on the configuration to ensure all values are
// usable. The application should call this after Load() and before wiring any
// component.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if maxEntries, err := strconv.Atoi(c.CacheMaxEntries); err != nil || maxEntries < 1 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be a positive number")
	}

	if _, err := time.ParseDuration(c.CacheCleanupInterval); err != nil {
		return fmt.Errorf("CACHE_CLEANUP_INTERVAL must be a valid duration (e.g., '60s', '1m')")
	}

	if _, err := time.ParseDuration(c.CacheDefaultTTL); err != nil {
		return fmt.Errorf("CACHE_DEFAULT_TTL must be a valid duration (e.g., '30m', '1h')")
	}

	if c.AdminJWTSecret != "" && len(c.AdminJWTSecret) < 32 {
		return fmt.Errorf("ADMIN_JWT_SECRET must be at least 32 characters long for security")
	}

	return nil
}

// MaxEntries returns the parsed memory-tier capacity.
func (c *Config) MaxEntries() int {
	n, _ := strconv.Atoi(c.CacheMaxEntries)
	return n
}

// CleanupInterval returns the parsed memory-tier cleanup interval.
func (c *Config) CleanupInterval() time.Duration {
	d, _ := time.ParseDuration(c.CacheCleanupInterval)
	return d
}

// DefaultTTL returns the parsed default entry TTL.
func (c *Config) DefaultTTL() time.Duration {
	d, _ := time.ParseDuration(c.CacheDefaultTTL)
	return d
}
