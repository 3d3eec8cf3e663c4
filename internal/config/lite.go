// Package config provides configuration management for the clinical engine.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/impcg-clinical-engine/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external services and uses the clinical defaults.
type LiteConfig struct {
	// Data storage
	DataDir      string // Base directory for state and audit files
	StoreBackend string // sqlite, redis, memory
	RedisURL     string // Used when StoreBackend is redis

	// Search
	SearchCacheSize int

	// Assistant proxy
	AssistantAPIKey string
	AssistantModel  string

	// Audit
	AuditSigningKey string
	DeviceUserID    string

	// Display time zone for partogram and referral times
	TimeZone string

	// Transport settings
	Transport string // stdio, http
	HTTPPort  int

	// Logging
	LogLevel  string
	LogFormat string
}

// DefaultLiteConfig returns a configuration with the standalone defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".impcg-engine")
	engine := domain.DefaultEngineConfig()

	return &LiteConfig{
		DataDir:         dataDir,
		StoreBackend:    "sqlite",
		RedisURL:        "redis://localhost:6379",
		SearchCacheSize: engine.SearchCacheSize,
		DeviceUserID:    "midwife_device_001",
		TimeZone:        engine.TimeZone,
		Transport:       "stdio",
		HTTPPort:        8080,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("IMPCG_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("IMPCG_STORE_BACKEND"); v != "" {
		cfg.StoreBackend = v
	}
	if v := os.Getenv("IMPCG_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("IMPCG_SEARCH_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SearchCacheSize = n
		}
	}

	// The proxy historically read GEMINI_*; IMPCG_* wins when both are set.
	cfg.AssistantAPIKey = firstEnv("IMPCG_ASSISTANT_API_KEY", "GEMINI_API_KEY")
	cfg.AssistantModel = firstEnv("IMPCG_ASSISTANT_MODEL", "GEMINI_MODEL")

	cfg.AuditSigningKey = os.Getenv("IMPCG_AUDIT_SIGNING_KEY")
	if v := os.Getenv("IMPCG_DEVICE_USER_ID"); v != "" {
		cfg.DeviceUserID = v
	}
	if v := os.Getenv("IMPCG_TIME_ZONE"); v != "" {
		cfg.TimeZone = v
	}

	if v := os.Getenv("IMPCG_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("IMPCG_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv("IMPCG_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("IMPCG_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// ToConfig expands the lite settings into the full configuration so both
// entry points can share the same wiring.
func (c *LiteConfig) ToConfig() *domain.Config {
	engine := domain.DefaultEngineConfig()
	engine.SearchCacheSize = c.SearchCacheSize
	engine.TimeZone = c.TimeZone

	return &domain.Config{
		Environment: "standalone",
		Server:      domain.ServerConfig{Host: "0.0.0.0", Port: c.HTTPPort},
		Storage:     domain.StorageConfig{Backend: c.StoreBackend, DataDir: c.DataDir},
		Redis:       domain.RedisConfig{URL: c.RedisURL, KeyPrefix: "impcg:"},
		Audit:       domain.AuditConfig{UserID: c.DeviceUserID, SigningKey: c.AuditSigningKey},
		Assistant:   domain.AssistantConfig{APIKey: c.AssistantAPIKey, Model: c.AssistantModel},
		Logging:     domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"},
		Engine:      engine,
	}
}
