// Package repository persists the engine's clinical state as JSON documents
// in three independent namespaces of a domain.KVStore.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/impcg-clinical-engine/internal/domain"
)

// Storage keys. Each namespace is self-contained; a write to one never
// touches another.
const (
	PatientsKey  = "impcg_patients_v1"
	PPHStateKey  = "impcg_pph_state_v1"
	PartogramKey = "impcg_partogram_state_v1"
)

// ErrCorruptState is returned when a persisted document cannot be decoded.
var ErrCorruptState = errors.New("persisted state is corrupt")

// document is a JSON-encoded value stored under a single key.
type document[T any] struct {
	store domain.KVStore
	key   string
}

func (d document[T]) read(ctx context.Context) (T, error) {
	var out T

	raw, err := d.store.Get(ctx, d.key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return out, domain.ErrNotFound
		}
		return out, fmt.Errorf("reading %s: %w", d.key, err)
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %s: %v", ErrCorruptState, d.key, err)
	}
	return out, nil
}

func (d document[T]) write(ctx context.Context, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", d.key, err)
	}
	if err := d.store.Set(ctx, d.key, raw); err != nil {
		return fmt.Errorf("writing %s: %w", d.key, err)
	}
	return nil
}

func (d document[T]) remove(ctx context.Context) error {
	if err := d.store.Delete(ctx, d.key); err != nil {
		return fmt.Errorf("deleting %s: %w", d.key, err)
	}
	return nil
}
