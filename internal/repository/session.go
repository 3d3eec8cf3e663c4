package repository

import (
	"context"

	"github.com/impcg-clinical-engine/internal/domain"
)

// PPHStateRepository persists the single PPH emergency session.
type PPHStateRepository struct {
	doc document[domain.PPHSession]
}

// NewPPHStateRepository creates a repository over store.
func NewPPHStateRepository(store domain.KVStore) *PPHStateRepository {
	return &PPHStateRepository{doc: document[domain.PPHSession]{store: store, key: PPHStateKey}}
}

// Load returns the persisted session, domain.ErrNotFound when there is none,
// or an error wrapping ErrCorruptState.
func (r *PPHStateRepository) Load(ctx context.Context) (domain.PPHSession, error) {
	return r.doc.read(ctx)
}

// Save writes the session through. The cleared session deletes the
// persisted copy instead, so absence is the only "no session" signal.
func (r *PPHStateRepository) Save(ctx context.Context, s domain.PPHSession) error {
	if s.IsCleared() {
		return r.doc.remove(ctx)
	}
	return r.doc.write(ctx, s)
}

// Clear deletes the persisted session.
func (r *PPHStateRepository) Clear(ctx context.Context) error {
	return r.doc.remove(ctx)
}

// PartogramRepository persists the labour-progress series.
type PartogramRepository struct {
	doc document[domain.PartogramState]
}

// NewPartogramRepository creates a repository over store.
func NewPartogramRepository(store domain.KVStore) *PartogramRepository {
	return &PartogramRepository{doc: document[domain.PartogramState]{store: store, key: PartogramKey}}
}

// Load returns the persisted series, domain.ErrNotFound when there is none,
// or an error wrapping ErrCorruptState.
func (r *PartogramRepository) Load(ctx context.Context) (domain.PartogramState, error) {
	return r.doc.read(ctx)
}

// Save writes the series. An empty series deletes the persisted copy.
func (r *PartogramRepository) Save(ctx context.Context, s domain.PartogramState) error {
	if s.IsEmpty() {
		return r.doc.remove(ctx)
	}
	return r.doc.write(ctx, s)
}

// Clear deletes the persisted series.
func (r *PartogramRepository) Clear(ctx context.Context) error {
	return r.doc.remove(ctx)
}
