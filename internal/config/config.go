package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/impcg-clinical-engine/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	file   string
	config *domain.Config
}

// NewManager creates a new configuration manager reading config.yaml from
// the standard search paths.
func NewManager() (*Manager, error) {
	return newManager("")
}

// NewManagerFromFile creates a manager bound to an explicit config file.
func NewManagerFromFile(path string) (*Manager, error) {
	return newManager(path)
}

func newManager(file string) (*Manager, error) {
	m := &Manager{file: file}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()
	if m.file != "" {
		v.SetConfigFile(m.file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/impcg-engine/")
	}

	v.SetEnvPrefix("IMPCG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults and environment variables apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

func setDefaults(v *viper.Viper) {
	engine := domain.DefaultEngineConfig()

	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls_enabled", false)

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.data_dir", "./data")

	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("redis.key_prefix", "impcg:")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.pool_timeout", "4s")
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("audit.user_id", "midwife_device_001")
	v.SetDefault("audit.signing_key", "")

	v.SetDefault("assistant.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("assistant.api_key", "")
	v.SetDefault("assistant.model", "gemini-2.0-flash")
	v.SetDefault("assistant.timeout", "30s")
	v.SetDefault("assistant.rate_limit", 2)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("engine.refractory_after", engine.RefractoryAfter.String())
	v.SetDefault("engine.stale_session_age", engine.StaleSessionAge.String())
	v.SetDefault("engine.tick_interval", engine.TickInterval.String())
	v.SetDefault("engine.search_cache_size", engine.SearchCacheSize)
	v.SetDefault("engine.time_zone", engine.TimeZone)
	v.SetDefault("engine.drugs_per_page", engine.DrugsPerPage)
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetStorageConfig returns the state store configuration
func (m *Manager) GetStorageConfig() *domain.StorageConfig {
	return &m.config.Storage
}

// GetEngineConfig returns the clinical timing and search settings
func (m *Manager) GetEngineConfig() *domain.EngineConfig {
	return &m.config.Engine
}

// AuditFileName is the trail database created inside the data directory.
const AuditFileName = "audit.db"

// AuditDBPath returns the audit database location under dataDir.
func AuditDBPath(dataDir string) string {
	return filepath.Join(dataDir, AuditFileName)
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Storage.Backend {
	case "sqlite", "memory":
	case "redis":
		if config.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s", config.Storage.Backend)
	}
	if config.Storage.Backend == "sqlite" && config.Storage.DataDir == "" {
		return fmt.Errorf("data directory is required for the sqlite backend")
	}

	if config.Engine.RefractoryAfter <= 0 {
		return fmt.Errorf("refractory threshold must be positive")
	}
	if config.Engine.StaleSessionAge <= config.Engine.RefractoryAfter {
		return fmt.Errorf("stale session age %s must exceed refractory threshold %s",
			config.Engine.StaleSessionAge, config.Engine.RefractoryAfter)
	}
	if config.Engine.TickInterval <= 0 || config.Engine.TickInterval > time.Minute {
		return fmt.Errorf("invalid tick interval: %s", config.Engine.TickInterval)
	}
	if _, err := LoadLocation(config.Engine.TimeZone); err != nil {
		return err
	}

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
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}

// LoadLocation resolves a configured time zone name. Empty means Local.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", name, err)
	}
	return loc, nil
}
