package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Audit       AuditConfig     `mapstructure:"audit"`
	Assistant   AssistantConfig `mapstructure:"assistant"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Engine      EngineConfig    `mapstructure:"engine"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLSEnabled   bool          `mapstructure:"tls_enabled"`
	CertFile     string        `mapstructure:"cert_file"`
	KeyFile      string        `mapstructure:"key_file"`
}

// StorageConfig selects and configures the clinical state store
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // sqlite, redis, memory
	DataDir string `mapstructure:"data_dir"`
}

// RedisConfig represents Redis connection configuration for the redis backend
type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// AuditConfig configures the audit trail
type AuditConfig struct {
	UserID     string `mapstructure:"user_id"`
	SigningKey string `mapstructure:"signing_key"`
}

// AssistantConfig configures the AI guideline assistant proxy
type AssistantConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit int           `mapstructure:"rate_limit"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// EngineConfig carries the clinical timing constants and search settings
type EngineConfig struct {
	RefractoryAfter time.Duration `mapstructure:"refractory_after"`
	StaleSessionAge time.Duration `mapstructure:"stale_session_age"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	SearchCacheSize int           `mapstructure:"search_cache_size"`
	TimeZone        string        `mapstructure:"time_zone"`
	DrugsPerPage    int           `mapstructure:"drugs_per_page"`
}

// DefaultEngineConfig returns the clinical defaults: refractory after 15
// minutes, stale after 12 hours, one-second ticks.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RefractoryAfter: 15 * time.Minute,
		StaleSessionAge: 12 * time.Hour,
		TickInterval:    time.Second,
		SearchCacheSize: 256,
		TimeZone:        "Local",
		DrugsPerPage:    15,
	}
}
