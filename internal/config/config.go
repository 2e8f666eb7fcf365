// Package config provides centralized configuration for the roster import
// service. Settings come from environment variables with defaults applied
// on load; validation runs on startup so misconfiguration fails fast.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Import  ImportConfig
	History HistoryConfig
	Rate    RateLimitConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// BackendConfig holds settings for the remote student collection API.
type BackendConfig struct {
	// BaseURL is the backend API root (required), e.g. https://api.example.com/v1
	BaseURL string `env:"BACKEND_BASE_URL" envAlt:"API_BASE_URL" required:"true"`

	// APIToken is the bearer token sent on every backend request.
	APIToken string `env:"BACKEND_API_TOKEN"`

	// RequestTimeout bounds a single backend call (default: 10s)
	RequestTimeout time.Duration `env:"BACKEND_REQUEST_TIMEOUT" default:"10s"`
}

// ImportConfig holds pipeline settings.
type ImportConfig struct {
	// MaxFileSize is the maximum workbook size in bytes (default: 20MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"20971520"`

	// MaxConcurrent is the maximum number of jobs working at once (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for a job slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// CommitConcurrency is the number of parallel backend requests during
	// the apply phase (default: 8)
	CommitConcurrency int `env:"IMPORT_COMMIT_CONCURRENCY" default:"8"`

	// JobTimeout bounds a whole job including preview wait (default: 15m)
	JobTimeout time.Duration `env:"IMPORT_JOB_TIMEOUT" default:"15m"`
}

// HistoryConfig holds the job-history database settings. The history store
// is required by the server; rosterctl runs without it.
type HistoryConfig struct {
	// DatabaseURL is the PostgreSQL connection string for job history.
	DatabaseURL string `env:"HISTORY_DATABASE_URL" envAlt:"DATABASE_URL"`

	// MaxConns is the maximum number of pooled connections (default: 10)
	MaxConns int `env:"HISTORY_DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of pooled connections (default: 2)
	MinConns int `env:"HISTORY_DB_MIN_CONNS" default:"2"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default limit per IP (default: 120)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + strconv.Itoa(c.Port)
	}
	return c.Host + ":" + strconv.Itoa(c.Port)
}
