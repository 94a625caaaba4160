// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
	"unicode/utf8"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Upload   UploadConfig
	Split    SplitConfig
	Session  SessionConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	History  HistoryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading the request, body included (default: 5m)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"5m"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE and downloads)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for page and API requests
	// that do not process files (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// UploadConfig holds upload and processing limits.
type UploadConfig struct {
	// MaxFileSize is the maximum accepted upload size (default: 1GiB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"1GiB" unit:"bytes"`

	// MaxMemory is how much of a multipart body is buffered in memory
	// before spilling to disk (default: 32MiB)
	MaxMemory int64 `env:"UPLOAD_MAX_MEMORY" default:"32MiB" unit:"bytes"`

	// MaxConcurrent is the maximum number of submissions processed at once (default: 1)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"1"`

	// MaxWaitTime is how long to wait for a processing slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration for a single processing run (default: 10m)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"10m"`
}

// SplitConfig holds the table filtering and splitting constants.
type SplitConfig struct {
	// ThresholdBytes is the output size above which the table is split (default: 100MiB)
	ThresholdBytes int64 `env:"SPLIT_THRESHOLD_BYTES" default:"100MiB" unit:"bytes"`

	// RowsPerPart is the number of data rows in every part but the last (default: 100000)
	RowsPerPart int `env:"SPLIT_ROWS_PER_PART" default:"100000"`

	// SniffRows is how many data rows are parsed when discovering the header (default: 5)
	SniffRows int `env:"SPLIT_SNIFF_ROWS" default:"5"`

	// BatchRows is how many rows are read per batch during the filtered load (default: 100000)
	BatchRows int `env:"SPLIT_BATCH_ROWS" default:"100000"`

	// InputDelimiter is the field separator of uploaded tables (default: ";")
	InputDelimiter string `env:"SPLIT_INPUT_DELIMITER" default:";"`

	// OutputDelimiter is the field separator of produced files (default: ",")
	OutputDelimiter string `env:"SPLIT_OUTPUT_DELIMITER" default:","`

	// DefaultBaseName is used when the submitted base name is empty (default: "saida")
	DefaultBaseName string `env:"SPLIT_DEFAULT_BASE_NAME" default:"saida"`
}

// SessionConfig holds per-submission temporary storage settings.
type SessionConfig struct {
	// TempDir is the parent directory for session directories (default: os.TempDir())
	TempDir string `env:"SESSION_TEMP_DIR"`

	// TTL is how long an idle session and its files are kept (default: 30m)
	TTL time.Duration `env:"SESSION_TTL" default:"30m"`

	// SweepInterval is how often expired sessions are removed (default: 5m)
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" default:"5m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey protects /api routes with the X-API-Key header (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// HistoryConfig holds the optional run history database settings.
// History is disabled when URL is empty.
type HistoryConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	// RetentionDays is how long run records are kept (default: 90)
	RetentionDays int `env:"HISTORY_RETENTION_DAYS" default:"90"`

	// RecentLimit is how many runs the home page lists (default: 20)
	RecentLimit int `env:"HISTORY_RECENT_LIMIT" default:"20"`
}

// Enabled reports whether run history should be persisted.
func (c *HistoryConfig) Enabled() bool {
	return c.URL != ""
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// InputComma returns the input delimiter as a rune.
func (c *SplitConfig) InputComma() rune {
	return firstRune(c.InputDelimiter)
}

// OutputComma returns the output delimiter as a rune.
func (c *SplitConfig) OutputComma() rune {
	return firstRune(c.OutputDelimiter)
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}
