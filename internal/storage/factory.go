package storage

import (
	"fmt"
	"path/filepath"

	"github.com/impcg-clinical-engine/internal/domain"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// StateFileName is the SQLite file created inside the data directory.
const StateFileName = "state.db"

// Open builds the configured KV backend.
func Open(storage domain.StorageConfig, redisCfg domain.RedisConfig) (domain.KVStore, error) {
	switch storage.Backend {
	case "", BackendSQLite:
		return NewSQLiteStore(filepath.Join(storage.DataDir, StateFileName))
	case BackendRedis:
		return NewRedisStore(redisCfg)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", storage.Backend)
	}
}
