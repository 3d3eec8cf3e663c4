package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// KVStore is the persistence collaborator: a key/value region logically
// partitioned into independent namespaces. Get returns ErrNotFound when the
// key is absent.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// AuditRecorder receives fire-and-forget audit events. Implementations must
// not block clinical state changes on write failures.
type AuditRecorder interface {
	Record(ctx context.Context, kind AuditKind, details string, subjectID string)
}

// IDGenerator produces opaque unique tokens for records.
type IDGenerator interface {
	NewID() string
}

// Clock supplies wall-clock time so timing rules can be tested.
type Clock interface {
	Now() time.Time
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetStorageConfig() *StorageConfig
	GetEngineConfig() *EngineConfig
	Reload() error
	Validate() error
	IsProduction() bool
	IsDevelopment() bool
}

// UUIDGenerator generates random (v4) UUIDs.
type UUIDGenerator struct{}

// NewID returns a new random UUID string.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// SystemClock reads the host clock.
type SystemClock struct{}

// Now returns the current time in UTC, truncated to milliseconds so that
// persisted instants round-trip exactly.
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NopAuditRecorder discards every event.
type NopAuditRecorder struct{}

// Record implements AuditRecorder.
func (NopAuditRecorder) Record(context.Context, AuditKind, string, string) {}
