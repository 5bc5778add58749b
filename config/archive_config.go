// Package config loads the archive settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every recognized setting. Load validates the required keys
// and fails fast when one is missing.
type Config struct {
	// Database. The URL scheme selects the driver (postgres://, sqlite://).
	StoreURL string

	// Search. Directory path of the full-text index; empty disables search.
	SearchIndex string

	// Identity service (REST, basic auth).
	IdentityServer  string
	IdentityUser    string
	IdentityPass    string
	IdentityTimeout time.Duration

	// Cache. Backend "memory" (default) or "redis" with a location URL.
	CacheBackend  string
	CacheLocation string

	// HTTP query API.
	HTTPAddr string

	// Logging.
	LogLevel string
	Debug    bool // verbose SQL tracing

	// Attachment downloads during mbox import.
	DownloadTimeout time.Duration
}

// Load reads the environment (honoring a local .env file) and validates it.
func Load() (*Config, error) {
	// Missing .env is fine, the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		StoreURL:        getEnv("STORE_URL", ""),
		SearchIndex:     getEnv("SEARCH_INDEX", ""),
		IdentityServer:  getEnv("IDENTITY_SERVER", ""),
		IdentityUser:    getEnv("IDENTITY_USER", ""),
		IdentityPass:    getEnv("IDENTITY_PASS", ""),
		IdentityTimeout: time.Duration(getEnvInt("IDENTITY_TIMEOUT_SEC", 30)) * time.Second,
		CacheBackend:    getEnv("CACHE_BACKEND", "memory"),
		CacheLocation:   getEnv("CACHE_LOCATION", ""),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Debug:           getEnvBool("DEBUG", false),
		DownloadTimeout: time.Duration(getEnvInt("DOWNLOAD_TIMEOUT_SEC", 30)) * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required keys and cross-field consistency.
func (c *Config) Validate() error {
	if c.StoreURL == "" {
		return fmt.Errorf("config: STORE_URL is required (eg: sqlite:///archive.db)")
	}
	if c.IdentityServer != "" && (c.IdentityUser == "" || c.IdentityPass == "") {
		return fmt.Errorf("config: IDENTITY_SERVER is set but IDENTITY_USER/IDENTITY_PASS are missing")
	}
	switch c.CacheBackend {
	case "memory":
	case "redis":
		if c.CacheLocation == "" {
			return fmt.Errorf("config: CACHE_BACKEND=redis requires CACHE_LOCATION")
		}
	default:
		return fmt.Errorf("config: unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
