package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/treatment-engine/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Set configuration file name and paths
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/treatment-engine/")

	// Set environment variable prefix and enable automatic env binding
	viper.SetEnvPrefix("TREATMENT_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	m.setDefaults()

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal configuration into struct
	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "treatment_engine")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "./migrations")

	// Model defaults
	viper.SetDefault("model.version", "v1.0.0")
	viper.SetDefault("model.batch_size", 16)
	viper.SetDefault("model.threshold", 0.8)
	viper.SetDefault("model.timeout", "10s")
	viper.SetDefault("model.max_retries", 3)
	viper.SetDefault("model.retry_base_delay", "100ms")
	viper.SetDefault("model.max_concurrency", 4)
	viper.SetDefault("model.backend_url", "")
	viper.SetDefault("model.rate_limit", 10)

	// Cache defaults
	viper.SetDefault("cache.ttl", "1h")
	viper.SetDefault("cache.max_size", 4096)
	viper.SetDefault("cache.redis_enabled", false)
	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.pool_size", 10)
	viper.SetDefault("cache.pool_timeout", "4s")
	viper.SetDefault("cache.max_retries", 3)

	// Feedback defaults
	viper.SetDefault("feedback.decay", 0.7)
	viper.SetDefault("feedback.max_adjustment", 0.2)
	viper.SetDefault("feedback.store", "postgres")
	viper.SetDefault("feedback.sqlite_path", "./data/progress.db")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetModelConfig returns scoring model configuration
func (m *Manager) GetModelConfig() *domain.ModelConfig {
	return &m.config.Model
}

// GetCacheConfig returns prediction cache configuration
func (m *Manager) GetCacheConfig() *domain.CacheConfig {
	return &m.config.Cache
}

// GetFeedbackConfig returns outcome feedback configuration
func (m *Manager) GetFeedbackConfig() *domain.FeedbackConfig {
	return &m.config.Feedback
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	// Validate database configuration
	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	// Validate model configuration
	if config.Model.Version == "" {
		return fmt.Errorf("model version is required")
	}
	if config.Model.BatchSize <= 0 {
		return fmt.Errorf("invalid model batch size: %d", config.Model.BatchSize)
	}
	if config.Model.Threshold < 0 || config.Model.Threshold > 1 {
		return fmt.Errorf("model threshold must be in [0,1], got %v", config.Model.Threshold)
	}
	if config.Model.MaxConcurrency <= 0 {
		return fmt.Errorf("invalid model max concurrency: %d", config.Model.MaxConcurrency)
	}

	// Validate cache configuration
	if config.Cache.MaxSize <= 0 {
		return fmt.Errorf("invalid cache max size: %d", config.Cache.MaxSize)
	}
	if config.Cache.RedisEnabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("Redis URL is required when Redis is enabled")
	}

	// Validate feedback configuration
	if config.Feedback.Decay < 0 || config.Feedback.Decay >= 1 {
		return fmt.Errorf("feedback decay must be in [0,1), got %v", config.Feedback.Decay)
	}
	if config.Feedback.MaxAdjustment <= 0 || config.Feedback.MaxAdjustment > 1 {
		return fmt.Errorf("feedback max adjustment must be in (0,1], got %v", config.Feedback.MaxAdjustment)
	}
	switch config.Feedback.Store {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid feedback store: %s", config.Feedback.Store)
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(viper.GetString("environment")) == "production"
}
