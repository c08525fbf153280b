// Package config provides configuration management for the admission gateway.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration to ensure the gateway starts safely.
//
// The gateway itself is stateless: everything here is either a connection
// target (Redis, control plane) or a tuning knob. There is no database.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Control Plane:
//   - CONTROL_API_BASE_URL: Base URL of the control plane (required)
//   - CONTROL_WORKER_SECRET: Shared secret for the x-worker-secret header (required)
//   - CONFIG_REFRESH_INTERVAL: Snapshot refresh interval (default: 60s)
//   - CONFIG_FETCH_TIMEOUT: Timeout for one config fetch (default: 5s)
//   - CONFIG_STALENESS_THRESHOLD: Snapshot age that triggers an advisory
//     warning (default: 5m). Staleness never blocks traffic.
//
// Redis Configuration (shared rate-limit counter store):
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Rate Limiting:
//   - RATE_LIMIT_DEFAULT: Default requests per window when a project carries
//     no policy (default: 60)
//   - RATE_LIMIT_WINDOW: Default window duration, minimum 1s (default: 60s)
//   - RATE_LIMIT_BURST: Default burst allowance (default: 0)
//   - RATE_LIMIT_TIMEOUT: Hard timeout on the counter-store call (default: 200ms)
//
// Risk Engine:
//   - RISK_BLOCK_THRESHOLD: Risk score (0-100) at or above which otherwise
//     valid requests are blocked (default: 90)
//
// Proxy:
//   - UPSTREAM_TIMEOUT: Bounded timeout for upstream dispatch (default: 30s)
//
// Traffic Events:
//   - TRAFFIC_LOG_ENABLED: Emit per-request events to the control plane (default: true)
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the admission gateway.
// All fields correspond to environment variables; load with Load() and
// check with Validate() before use.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)

	// Control plane configuration
	ControlAPIBaseURL        string        // Base URL of the control plane
	ControlWorkerSecret      string        // Shared secret for authenticated fetches
	ConfigRefreshInterval    time.Duration // Interval between snapshot refreshes
	ConfigFetchTimeout       time.Duration // Timeout for a single config fetch
	ConfigStalenessThreshold time.Duration // Advisory snapshot staleness threshold

	// Redis configuration for the shared counter store
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)
	RedisPoolSize string // Redis connection pool size

	// Rate limiting defaults (applied when a project has no policy)
	RateLimitDefault string        // Default requests per window
	RateLimitWindow  string        // Default window duration (e.g., "60s", "1m")
	RateLimitBurst   string        // Default burst allowance
	RateLimitTimeout time.Duration // Hard timeout on counter-store calls

	// Risk engine configuration
	RiskBlockThreshold int // Score (0-100) at which requests are blocked

	// Proxy configuration
	UpstreamTimeout time.Duration // Bounded timeout for upstream dispatch

	// Traffic event emission
	TrafficLogEnabled bool // Whether per-request events are sent to the control plane
}

// Load creates a new Config instance with values loaded from environment
// variables, falling back to defaults where unset. Call Validate() on the
// result before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ControlAPIBaseURL:        getEnv("CONTROL_API_BASE_URL", ""),
		ControlWorkerSecret:      getEnv("CONTROL_WORKER_SECRET", ""),
		ConfigRefreshInterval:    getDurationEnv("CONFIG_REFRESH_INTERVAL", 60*time.Second),
		ConfigFetchTimeout:       getDurationEnv("CONFIG_FETCH_TIMEOUT", 5*time.Second),
		ConfigStalenessThreshold: getDurationEnv("CONFIG_STALENESS_THRESHOLD", 5*time.Minute),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		RateLimitDefault: getEnv("RATE_LIMIT_DEFAULT", "60"),
		RateLimitWindow:  getEnv("RATE_LIMIT_WINDOW", "60s"),
		RateLimitBurst:   getEnv("RATE_LIMIT_BURST", "0"),
		RateLimitTimeout: getDurationEnv("RATE_LIMIT_TIMEOUT", 200*time.Millisecond),

		RiskBlockThreshold: getIntEnv("RISK_BLOCK_THRESHOLD", 90),

		UpstreamTimeout: getDurationEnv("UPSTREAM_TIMEOUT", 30*time.Second),

		TrafficLogEnabled: getBoolEnv("TRAFFIC_LOG_ENABLED", true),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable value or returns a default value.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv retrieves a duration environment variable value or returns a default value.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs comprehensive validation on the configuration.
//
// Checks required fields (control plane URL and secret), formats (port,
// Redis settings, rate limit numbers) and value ranges. The gateway should
// refuse to start on any validation failure.
func (c *Config) Validate() error {
	if c.ControlAPIBaseURL == "" {
		return fmt.Errorf("CONTROL_API_BASE_URL environment variable is required")
	}
	if u, err := url.Parse(c.ControlAPIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("CONTROL_API_BASE_URL must be an absolute URL")
	}

	if c.ControlWorkerSecret == "" {
		return fmt.Errorf("CONTROL_WORKER_SECRET environment variable is required")
	}
	if len(c.ControlWorkerSecret) < 16 {
		return fmt.Errorf("CONTROL_WORKER_SECRET must be at least 16 characters long")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if c.RedisAddress == "" {
		return fmt.Errorf("REDIS_ADDRESS is required: the gateway cannot rate limit without the shared counter store")
	}
	if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}
	if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
	}

	if limit, err := strconv.Atoi(c.RateLimitDefault); err != nil || limit < 1 {
		return fmt.Errorf("RATE_LIMIT_DEFAULT must be a positive number")
	}
	if window, err := time.ParseDuration(c.RateLimitWindow); err != nil || window < time.Second {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be a duration of at least 1s (e.g., '60s', '1m')")
	}
	if burst, err := strconv.Atoi(c.RateLimitBurst); err != nil || burst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be a non-negative number")
	}
	if c.RateLimitTimeout <= 0 {
		return fmt.Errorf("RATE_LIMIT_TIMEOUT must be positive")
	}

	if c.RiskBlockThreshold < 1 || c.RiskBlockThreshold > 100 {
		return fmt.Errorf("RISK_BLOCK_THRESHOLD must be between 1 and 100")
	}

	if c.ConfigRefreshInterval < time.Second {
		return fmt.Errorf("CONFIG_REFRESH_INTERVAL must be at least 1s")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}

	return nil
}
