package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Model    ModelConfig    `mapstructure:"model"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Feedback FeedbackConfig `mapstructure:"feedback"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// ModelConfig represents scoring model configuration. All fields are
// hot-reloadable; a Version change flushes the entire prediction cache.
type ModelConfig struct {
	Version        string        `mapstructure:"version"`
	BatchSize      int           `mapstructure:"batch_size"`
	Threshold      float64       `mapstructure:"threshold"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	BackendURL     string        `mapstructure:"backend_url"`
	RateLimit      int           `mapstructure:"rate_limit"`
}

// CacheConfig represents prediction cache configuration
type CacheConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	MaxSize      int           `mapstructure:"max_size"`
	RedisEnabled bool          `mapstructure:"redis_enabled"`
	RedisURL     string        `mapstructure:"redis_url"`
	PoolSize     int           `mapstructure:"pool_size"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// FeedbackConfig represents outcome feedback configuration
type FeedbackConfig struct {
	// Decay is the exponential weighting factor applied to the running
	// adjustment term when a new outcome arrives. A new delta contributes
	// (1 - Decay) of the updated term.
	Decay float64 `mapstructure:"decay"`
	// MaxAdjustment bounds the adjustment term to ±MaxAdjustment.
	MaxAdjustment float64 `mapstructure:"max_adjustment"`
	// Store selects the progress store backend: sqlite or postgres.
	Store string `mapstructure:"store"`
	// SQLitePath is the database file path for the sqlite store.
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
